package oparl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"oparl-geo/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ErrNoEndpoint is returned when the system or body object lacks a link the
// client needs.
var ErrNoEndpoint = errors.New("oparl: endpoint not found")

// Config controls the OParl client.
type Config struct {
	Endpoint      string
	StartDate     string
	EndDate       string
	PageLimit     int
	Timeout       time.Duration
	RetryAttempts int
	RetryPause    time.Duration
	PageDelay     time.Duration
	UserAgent     string
}

type system struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

type body struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Paper        string `json:"paper"`
	Meeting      string `json:"meeting"`
	Organization string `json:"organization"`
}

type page[T any] struct {
	Data  []T `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// Client reads an OParl system. It resolves the first body of the system
// and streams its paper list.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	body *body
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	endpoint, err := normalizeURL(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	cfg.Endpoint = endpoint
	if cfg.Timeout <= 0 {
		cfg.Timeout = 40 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "oparl-geo/1.0"
	}

	logger.Info().Str("system", cfg.Endpoint).Msg("oparl client initialized")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepCtx,
	}, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: no endpoint configured", ErrNoEndpoint)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return raw, nil
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

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("oparl: GET %s: status %d", e.url, e.code)
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// getJSON fetches rawURL into out, retrying 429/5xx and network errors with
// exponential backoff.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.cfg.UserAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			serr := &statusError{url: rawURL, code: resp.StatusCode}
			if retryable(resp.StatusCode) {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("oparl: decode %s: %w", rawURL, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryPause
	if b.InitialInterval <= 0 {
		b.InitialInterval = 500 * time.Millisecond
	}
	policy := backoff.WithMaxRetries(b, uint64(max(c.cfg.RetryAttempts, 0)))

	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("oparl request failed, retrying")
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}

// resolveBody returns the first body of the system, fetching it once.
func (c *Client) resolveBody(ctx context.Context) (*body, error) {
	if c.body != nil {
		return c.body, nil
	}

	var sys system
	if err := c.getJSON(ctx, c.cfg.Endpoint, &sys); err != nil {
		return nil, err
	}
	bodiesURL, err := bodyListURL(sys.Body)
	if err != nil {
		return nil, err
	}

	var bodies page[body]
	if err := c.getJSON(ctx, bodiesURL, &bodies); err != nil {
		return nil, err
	}
	if len(bodies.Data) == 0 {
		return nil, fmt.Errorf("%w: no bodies in %s", ErrNoEndpoint, bodiesURL)
	}

	first := bodies.Data[0]
	c.logger.Info().Str("body", first.Name).Msg("fetching body details")
	var b body
	if err := c.getJSON(ctx, first.ID, &b); err != nil {
		return nil, err
	}
	c.body = &b
	return c.body, nil
}

// bodyListURL accepts the body field as a string or a list of strings.
func bodyListURL(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}
	return "", fmt.Errorf("%w: system has no body link", ErrNoEndpoint)
}

// Papers streams the body's papers, following links.next. The date range
// and page limit from the config apply. Iteration stops at the first error,
// which is yielded.
func (c *Client) Papers(ctx context.Context) iter.Seq2[models.Paper, error] {
	return func(yield func(models.Paper, error) bool) {
		b, err := c.resolveBody(ctx)
		if err != nil {
			yield(models.Paper{}, err)
			return
		}
		if b.Paper == "" {
			yield(models.Paper{}, fmt.Errorf("%w: body has no paper list", ErrNoEndpoint))
			return
		}

		start, err := c.withDateFilter(b.Paper)
		if err != nil {
			yield(models.Paper{}, err)
			return
		}
		c.logger.Info().Str("url", start).Str("modified_since", c.cfg.StartDate).
			Str("modified_until", c.cfg.EndDate).Msg("fetching papers")

		for p, err := range paginate[models.Paper](ctx, c, start) {
			if !yield(p, err) || err != nil {
				return
			}
		}
	}
}

func (c *Client) withDateFilter(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("oparl: bad list url %q: %w", rawURL, err)
	}
	q := u.Query()
	if c.cfg.StartDate != "" {
		q.Set("modified_since", c.cfg.StartDate)
	}
	if c.cfg.EndDate != "" {
		q.Set("modified_until", c.cfg.EndDate)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func paginate[T any](ctx context.Context, c *Client, start string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		next := start
		pages := 0

		for next != "" {
			if c.cfg.PageLimit > 0 && pages >= c.cfg.PageLimit {
				c.logger.Info().Int("pages", pages).Msg("reached page limit")
				return
			}

			var p page[T]
			if err := c.getJSON(ctx, next, &p); err != nil {
				yield(zero, fmt.Errorf("oparl: page %d: %w", pages+1, err))
				return
			}
			for _, item := range p.Data {
				if !yield(item, nil) {
					return
				}
			}

			pages++
			if pages%10 == 0 {
				c.logger.Info().Int("pages", pages).Msg("pagination progress")
			}
			next = p.Links.Next
			if next == "" {
				return
			}
			if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
				yield(zero, err)
				return
			}
		}
	}
}
