package extractor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type blocklistFile struct {
	Blocklist []string `yaml:"blocklist"`
}

// LoadBlocklist reads the blocklist YAML file. A missing file is not fatal:
// it logs a warning and returns an empty list.
func LoadBlocklist(path string, logger zerolog.Logger) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("path", path).Msg("blocklist not found, extraction runs without it")
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("extractor: read blocklist: %w", err)
	}

	var f blocklistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("extractor: parse blocklist %s: %w", path, err)
	}
	if f.Blocklist == nil {
		f.Blocklist = []string{}
	}
	return f.Blocklist, nil
}
