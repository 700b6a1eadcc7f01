package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/defrag/fragd/internal/httputil"
	"github.com/defrag/fragd/internal/metrics"
)

const (
	DefaultURL    = "https://ssd.jpl.nasa.gov/api/horizons.api"
	DefaultCenter = "500@399" // geocentric
	DefaultStep   = "60m"

	FormatJSON = "json"
	FormatText = "text"

	// Observer ecliptic longitude and latitude.
	quantityEclipticLonLat = "31"
)

// Config controls the Horizons client.
type Config struct {
	BaseURL            string
	Format             string
	Center             string
	RequestsPerSecond  float64
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// Client fetches observer ephemerides from JPL Horizons, one request per
// body. It never retries: a failure surfaces as a FetchError and retry
// policy belongs to whoever scheduled the work.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewClient creates a Horizons client. Zero config fields take defaults.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if cfg.Center == "" {
		cfg.Center = DefaultCenter
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerOpenTimeout == 0 {
		cfg.BreakerOpenTimeout = time.Minute
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	log := logger.With().Str("component", "horizons").Logger()
	maxFailures := cfg.BreakerMaxFailures

	return &Client{
		cfg:     cfg,
		http:    httputil.NewClient(cfg.Timeout),
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "horizons",
			Timeout: cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		}),
		log: log,
	}
}

// Params returns the request parameters echoed into provenance. The body
// selector is omitted since it varies per request.
func (c *Client) Params(req Request) map[string]string {
	return map[string]string{
		"format":     c.cfg.Format,
		"OBJ_DATA":   "YES",
		"MAKE_EPHEM": "YES",
		"EPHEM_TYPE": "OBSERVER",
		"CENTER":     c.cfg.Center,
		"START_TIME": req.Window.Start.Format(DateLayout),
		"STOP_TIME":  req.Window.Stop.Format(DateLayout),
		"STEP_SIZE":  req.Step,
		"QUANTITIES": quantityEclipticLonLat,
		"CSV_FORMAT": "YES",
	}
}

// Fetch requests every body for the window and assembles the run. Any
// failing body fails the whole fetch; there are no partial results.
func (c *Client) Fetch(ctx context.Context, req Request) (*Run, error) {
	if req.Step == "" {
		req.Step = DefaultStep
	}
	params := c.Params(req)

	var texts [NumBodies]string
	for _, b := range Bodies {
		text, err := c.fetchBody(ctx, b, params)
		if err != nil {
			return nil, err
		}
		texts[b] = text
	}

	run, err := Assemble(req, params, texts)
	if err != nil {
		return nil, err
	}

	if run.ParseErrors > 0 {
		metrics.EphemerisParseErrors.WithLabelValues(req.Kind).Add(float64(run.ParseErrors))
		c.log.Warn().Str("kind", req.Kind).Str("window", req.Window.String()).
			Int("dropped_rows", run.ParseErrors).Msg("dropped unparseable ephemeris rows")
	}
	return run, nil
}

func (c *Client) fetchBody(ctx context.Context, b Body, params map[string]string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &FetchError{Body: b, Err: err}
	}

	q := url.Values{}
	for k, v := range params {
		if k == "format" {
			q.Set(k, v)
			continue
		}
		q.Set(k, "'"+v+"'")
	}
	q.Set("COMMAND", "'"+b.HorizonsID()+"'")
	u := c.cfg.BaseURL + "?" + q.Encode()

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, &FetchError{Body: b, Err: fmt.Errorf("create request: %w", err)}
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			metrics.EphemerisRequestsTotal.WithLabelValues(b.String(), "error").Inc()
			return nil, &FetchError{Body: b, Err: err}
		}
		defer resp.Body.Close()

		metrics.EphemerisRequestsTotal.WithLabelValues(b.String(), strconv.Itoa(resp.StatusCode)).Inc()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &FetchError{Body: b, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &FetchError{Body: b, Status: resp.StatusCode, Err: errors.New(truncate(string(body), 200))}
		}
		return body, nil
	})
	metrics.EphemerisRequestLatency.WithLabelValues(b.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return "", fe
		}
		// gobreaker.ErrOpenState or ErrTooManyRequests
		return "", &FetchError{Body: b, Err: err}
	}

	text, err := c.extract(out.([]byte))
	if err != nil {
		return "", &FetchError{Body: b, Err: err}
	}
	return text, nil
}

// extract unwraps the JSON envelope when the JSON format is in use.
func (c *Client) extract(body []byte) (string, error) {
	if c.cfg.Format != FormatJSON {
		return string(body), nil
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("invalid json envelope")
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		return "", fmt.Errorf("horizons error: %s", e.String())
	}
	result := gjson.GetBytes(body, "result")
	if !result.Exists() {
		return "", errors.New("json envelope has no result")
	}
	return result.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
