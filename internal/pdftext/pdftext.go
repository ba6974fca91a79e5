package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"oparl-geo/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrNoDocument = errors.New("pdftext: paper has no document")
	ErrNoText     = errors.New("pdftext: no text extracted from PDF")
	ErrDownload   = errors.New("pdftext: download failed")
)

// MethodTextLayer marks text read from the PDF's own text layer.
const MethodTextLayer = "text_layer"

type Config struct {
	Workers       int
	Delay         time.Duration
	Timeout       time.Duration
	MaxMemoryMB   int
	MinTextLength int
	TempDir       string
	RetryAttempts int
	RetryPause    time.Duration
	UserAgent     string
}

func DefaultConfig() Config {
	return Config{
		Workers:       3,
		Delay:         time.Second,
		Timeout:       60 * time.Second,
		MaxMemoryMB:   20,
		MinTextLength: 50,
		RetryAttempts: 3,
		RetryPause:    time.Second,
		UserAgent:     "oparl-geo/1.0",
	}
}

// Extractor downloads paper documents and extracts their text with a
// bounded number of concurrent downloads.
type Extractor struct {
	cfg    Config
	http   *http.Client
	parser Parser
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New returns an Extractor. A nil parser selects TextLayerParser.
func New(cfg Config, parser Parser, logger zerolog.Logger) *Extractor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if parser == nil {
		parser = TextLayerParser{}
	}
	return &Extractor{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		parser: parser,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Extractor) maxMemoryBytes() int64 {
	return int64(e.cfg.MaxMemoryMB) * 1024 * 1024
}

// ExtractBatch returns one result per paper in input order. Failures are
// reported in the results, never as a panic or error.
func (e *Extractor) ExtractBatch(ctx context.Context, papers []models.Paper) []models.TextResult {
	results := make([]models.TextResult, len(papers))
	e.logger.Info().Int("papers", len(papers)).Int("workers", e.cfg.Workers).Msg("starting batch text extraction")

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, p := range papers {
		g.Go(func() error {
			results[i] = e.extractPaper(ctx, p)
			return nil
		})
	}
	g.Wait()

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	e.logger.Info().Int("papers", len(papers)).Int("succeeded", ok).Msg("batch text extraction complete")
	return results
}

func (e *Extractor) extractPaper(ctx context.Context, p models.Paper) (res models.TextResult) {
	url := p.DocumentURL()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("paper_id", p.ID).Interface("panic", r).Msg("pdf parser panicked")
			res = models.TextResult{URL: url, Err: fmt.Errorf("pdftext: parser panic: %v", r)}
		}
	}()

	if url == "" {
		return models.TextResult{URL: p.ID, Err: ErrNoDocument}
	}
	if err := e.sleep(ctx, e.cfg.Delay); err != nil {
		return models.TextResult{URL: url, Err: err}
	}
	return e.ExtractURL(ctx, url)
}

// ExtractURL downloads one PDF and extracts its text. Documents larger than
// MaxMemoryMB are spooled to a temporary file that is removed right after
// parsing.
func (e *Extractor) ExtractURL(ctx context.Context, url string) models.TextResult {
	res := models.TextResult{URL: url}

	var doc *document
	op := func() error {
		d, err := e.download(ctx, url)
		if err != nil {
			return err
		}
		doc = d
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryPause
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(e.cfg.RetryAttempts-1, 0))), ctx)
	notify := func(err error, wait time.Duration) {
		e.logger.Warn().Err(err).Str("url", url).Dur("retry_in", wait).Msg("pdf download failed, retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		res.Err = err
		return res
	}
	defer doc.close()

	res.FileSizeKB = float64(doc.size) / 1024
	res.UsedEphemeralStorage = doc.file != nil

	text, pages, err := e.parser.Parse(doc.reader(), doc.size)
	if err != nil {
		res.Err = fmt.Errorf("pdftext: %w", err)
		return res
	}
	text = strings.TrimSpace(norm.NFC.String(text))
	res.PageCount = pages
	if len([]rune(text)) < e.cfg.MinTextLength {
		res.Err = ErrNoText
		return res
	}

	res.Success = true
	res.Text = text
	res.Method = MethodTextLayer
	return res
}

type document struct {
	data []byte
	file *os.File
	size int64
}

func (d *document) reader() io.ReaderAt {
	if d.file != nil {
		return d.file
	}
	return bytes.NewReader(d.data)
}

func (d *document) close() {
	if d.file == nil {
		return
	}
	name := d.file.Name()
	d.file.Close()
	os.Remove(name)
}

func (e *Extractor) download(ctx context.Context, url string) (*document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrDownload, err))
	}
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: status %d", ErrDownload, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	limit := e.maxMemoryBytes()
	if resp.ContentLength > limit {
		e.logger.Info().Str("url", url).Int64("bytes", resp.ContentLength).Msg("large pdf, using ephemeral storage")
		return e.spool(nil, resp.Body)
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if int64(len(head)) > limit {
		e.logger.Info().Str("url", url).Msg("pdf exceeds memory limit, switching to ephemeral storage")
		return e.spool(head, resp.Body)
	}
	return &document{data: head, size: int64(len(head))}, nil
}

// spool writes head followed by rest into a temporary file.
func (e *Extractor) spool(head []byte, rest io.Reader) (*document, error) {
	f, err := os.CreateTemp(e.cfg.TempDir, "oparl_*.pdf")
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("pdftext: create temp file: %w", err))
	}
	fail := func(err error) (*document, error) {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}

	if _, err := f.Write(head); err != nil {
		return fail(backoff.Permanent(fmt.Errorf("pdftext: write temp file: %w", err)))
	}
	n, err := io.Copy(f, rest)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrDownload, err))
	}
	return &document{file: f, size: int64(len(head)) + n}, nil
}
