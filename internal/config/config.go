package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	City          string `mapstructure:"city"`
	Country       string `mapstructure:"country"`
	DBSource      string `mapstructure:"db_source"`
	ServerAddress string `mapstructure:"server_address"`

	Log        LogConfig        `mapstructure:"log"`
	Paths      PathsConfig      `mapstructure:"paths"`
	State      StateConfig      `mapstructure:"state"`
	OParl      OParlConfig      `mapstructure:"oparl"`
	PDF        PDFConfig        `mapstructure:"pdf"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Geocoding  GeocodingConfig  `mapstructure:"geocoding"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Sinks      SinksConfig      `mapstructure:"sinks"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Overpass   OverpassConfig   `mapstructure:"overpass"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PathsConfig struct {
	GazetteerDir string `mapstructure:"gazetteer_dir"`
	Processed    string `mapstructure:"processed"`
	Blocklist    string `mapstructure:"blocklist"`
}

type StateConfig struct {
	Path        string        `mapstructure:"path"`
	AutoCommit  bool          `mapstructure:"auto_commit"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type OParlConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	StartDate     string        `mapstructure:"start_date"`
	EndDate       string        `mapstructure:"end_date"`
	PageLimit     int           `mapstructure:"page_limit"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryPause    time.Duration `mapstructure:"retry_pause"`
	PageDelay     time.Duration `mapstructure:"page_delay"`
}

type PDFConfig struct {
	Workers       int           `mapstructure:"workers"`
	Delay         time.Duration `mapstructure:"delay"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxMemoryMB   int           `mapstructure:"max_memory_mb"`
	MinTextLength int           `mapstructure:"min_text_length"`
	TempDir       string        `mapstructure:"temp_dir"`
}

type ExtractionConfig struct {
	MinLength            int     `mapstructure:"min_length"`
	MaxLength            int     `mapstructure:"max_length"`
	MaxCandidates        int     `mapstructure:"max_candidates"`
	PrefixRatio          float64 `mapstructure:"prefix_ratio"`
	EnableDistricts      bool    `mapstructure:"enable_districts"`
	Recognizer           string  `mapstructure:"recognizer"`
	NEREndpoint          string  `mapstructure:"ner_endpoint"`
	GazetteerCoordinates bool    `mapstructure:"gazetteer_coordinates"`
	FuzzyThreshold       float64 `mapstructure:"fuzzy_threshold"`
}

type GeocodingConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	UserAgent     string        `mapstructure:"user_agent"`
	RateLimit     time.Duration `mapstructure:"rate_limit"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheFile     string        `mapstructure:"cache_file"`
	FlushInterval int           `mapstructure:"flush_interval"`
	NegativeTTL   time.Duration `mapstructure:"negative_ttl"`
}

type PipelineConfig struct {
	BatchSize    int  `mapstructure:"batch_size"`
	SkipExisting bool `mapstructure:"skip_existing"`
	Limit        int  `mapstructure:"limit"`
}

type SinksConfig struct {
	Formats        []string `mapstructure:"formats"`
	RDFFinalFormat string   `mapstructure:"rdf_final_format"`
	BaseURI        string   `mapstructure:"base_uri"`
	Validate       bool     `mapstructure:"validate"`
}

type MetricsConfig struct {
	Addr     string `mapstructure:"addr"`
	Textfile string `mapstructure:"textfile"`
}

type OverpassConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoadConfig reads configuration from config.yaml in path, falling back to
// defaults when the file is absent. OPARLGEO_* environment variables
// override both.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("OPARLGEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("city", "augsburg")
	v.SetDefault("country", "Deutschland")
	v.SetDefault("server_address", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	v.SetDefault("paths.gazetteer_dir", "data/gazetteer")
	v.SetDefault("paths.processed", "data/processed")
	v.SetDefault("paths.blocklist", "configs/blocklist.yaml")

	v.SetDefault("state.path", "data/processed/pipeline_state.db")
	v.SetDefault("state.auto_commit", true)
	v.SetDefault("state.busy_timeout", 5*time.Second)

	v.SetDefault("oparl.endpoint", "https://www.augsburg.sitzung-online.de/public/oparl/system")
	v.SetDefault("oparl.page_limit", 0)
	v.SetDefault("oparl.timeout", 40*time.Second)
	v.SetDefault("oparl.retry_attempts", 5)
	v.SetDefault("oparl.retry_pause", 2*time.Second)
	v.SetDefault("oparl.page_delay", 200*time.Millisecond)

	v.SetDefault("pdf.workers", 3)
	v.SetDefault("pdf.delay", time.Second)
	v.SetDefault("pdf.timeout", 60*time.Second)
	v.SetDefault("pdf.max_memory_mb", 20)
	v.SetDefault("pdf.min_text_length", 50)

	v.SetDefault("extraction.min_length", 3)
	v.SetDefault("extraction.max_length", 60)
	v.SetDefault("extraction.max_candidates", 50)
	v.SetDefault("extraction.prefix_ratio", 0.6)
	v.SetDefault("extraction.enable_districts", false)
	v.SetDefault("extraction.recognizer", "keyword")
	v.SetDefault("extraction.gazetteer_coordinates", false)
	v.SetDefault("extraction.fuzzy_threshold", 0.85)

	v.SetDefault("geocoding.endpoint", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocoding.user_agent", "oparl-geo/1.0")
	v.SetDefault("geocoding.rate_limit", time.Second)
	v.SetDefault("geocoding.timeout", 10*time.Second)
	v.SetDefault("geocoding.cache_file", "data/cache/geocode_cache.json")
	v.SetDefault("geocoding.flush_interval", 50)
	v.SetDefault("geocoding.negative_ttl", time.Duration(0))

	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.skip_existing", true)
	v.SetDefault("pipeline.limit", 0)

	v.SetDefault("sinks.formats", []string{"parquet", "rdf", "geojson"})
	v.SetDefault("sinks.rdf_final_format", "turtle")
	v.SetDefault("sinks.base_uri", "http://augsburg.oparl-analytics.org/")
	v.SetDefault("sinks.validate", true)

	v.SetDefault("overpass.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout", 180*time.Second)
}

// Validate checks the settings every binary depends on. Component specific
// settings are validated again by the component constructors.
func (c Config) Validate() error {
	if strings.TrimSpace(c.City) == "" {
		return fmt.Errorf("%w: city must not be empty", ErrInvalid)
	}
	if c.State.Path == "" {
		return fmt.Errorf("%w: state.path must not be empty", ErrInvalid)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("%w: pipeline.batch_size must be positive, got %d", ErrInvalid, c.Pipeline.BatchSize)
	}
	for _, f := range c.Sinks.Formats {
		switch f {
		case "parquet", "rdf", "geojson", "xlsx":
		default:
			return fmt.Errorf("%w: unknown sink format %q", ErrInvalid, f)
		}
	}
	return nil
}
