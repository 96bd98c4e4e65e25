package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/angeloszaimis/healthprobe/config"
)

// ErrInvalidTarget is returned when the resolved target cannot be checked at all.
var ErrInvalidTarget = errors.New("invalid health check target")

// Outcome is the verdict of a single check.
type Outcome int

const (
	Unhealthy Outcome = iota
	Healthy
)

func (o Outcome) String() string {
	if o == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// Message is the line logged for the verdict.
func (o Outcome) Message() string {
	if o == Healthy {
		return "Healthcheck passed"
	}
	return "Healthcheck failed"
}

// ExitCode is the process status a container runtime expects for the verdict.
func (o Outcome) ExitCode() int {
	if o == Healthy {
		return 0
	}
	return 1
}

// Result describes a completed check. Unreachable holds the transport error
// when the target could not be reached; it is informational only.
type Result struct {
	Target      Target
	Outcome     Outcome
	StatusCode  int
	Latency     time.Duration
	Unreachable error
}

func (r Result) Healthy() bool {
	return r.Outcome == Healthy
}

// Probe issues single GET requests against a configured default target.
type Probe struct {
	client   *http.Client
	defaults Target
	logger   *slog.Logger
}

type ProbeOption func(*Probe)

// WithClient replaces the HTTP client used for checks.
func WithClient(client *http.Client) ProbeOption {
	return func(p *Probe) { p.client = client }
}

// New creates a Probe whose defaults come from cfg. Redirects are not
// followed, so a 3xx response is reported as is.
func New(cfg config.ProbeConfig, logger *slog.Logger, opts ...ProbeOption) *Probe {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Probe{
		client: &http.Client{
			Timeout: cfg.TimeoutDuration(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		defaults: Target{Host: cfg.Host, Port: cfg.Port, Path: cfg.Path},
		logger:   logger,
	}
	if p.defaults.Path == "" {
		p.defaults.Path = DefaultPath
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Default returns the target used when Check is called without options.
func (p *Probe) Default() Target {
	return p.defaults
}

// Check performs one GET against the default target with opts applied.
// A 200 response is Healthy, any other status is Unhealthy. When the target
// cannot be reached the result is Unhealthy and the error is nil; every other
// failure is returned without a verdict.
func (p *Probe) Check(ctx context.Context, opts ...Option) (Result, error) {
	target := p.defaults
	for _, opt := range opts {
		opt(&target)
	}

	result := Result{Target: target, Outcome: Unhealthy}

	if err := target.Validate(); err != nil {
		return result, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	url := target.URL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result, fmt.Errorf("build request for %s: %w", url, err)
	}

	start := time.Now()
	res, err := p.client.Do(req)
	result.Latency = time.Since(start)

	if err != nil {
		if ctx.Err() != nil || !IsUnreachable(err) {
			return result, fmt.Errorf("health check %s: %w", url, err)
		}
		result.Unreachable = err
		p.report(result)
		return result, nil
	}
	defer res.Body.Close()

	result.StatusCode = res.StatusCode
	if res.StatusCode == http.StatusOK {
		result.Outcome = Healthy
	}

	p.report(result)
	return result, nil
}

func (p *Probe) report(r Result) {
	attrs := []any{
		slog.String("url", r.Target.URL()),
		slog.Duration("latency", r.Latency),
	}
	if r.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status", r.StatusCode))
	}
	if r.Unreachable != nil {
		attrs = append(attrs, slog.String("error", r.Unreachable.Error()))
	}

	if r.Healthy() {
		p.logger.Info(r.Outcome.Message(), attrs...)
		return
	}
	p.logger.Warn(r.Outcome.Message(), attrs...)
}

// IsUnreachable reports whether err means the target could not be reached:
// a failed dial, a failed name lookup, a request that timed out, or a peer
// that dropped the connection before sending a response.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}

	// Client.Do only returns these when no response was read.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
