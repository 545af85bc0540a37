// Package heartbeat provides the units of periodic work the service loop
// performs: a console line and an optional HTTP ping, either of which can be
// throttled to a cron schedule.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/robfig/cron"
)

// ///////////////////////////////////////////////
// Console
// ///////////////////////////////////////////////

// Console writes Message on its own line to Out once per unit of work.
type Console struct {
	Out     io.Writer
	Message string

	mu sync.Mutex
}

// Work writes one heartbeat line.
func (c *Console) Work(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.Out, c.Message); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// HTTP
// ///////////////////////////////////////////////

// HTTP pings URL with a GET request once per unit of work. Any status outside
// 2xx is an error.
type HTTP struct {
	URL       string
	UserAgent string
	client    *retryablehttp.Client
}

// HTTPOptions configures [NewHTTP].
type HTTPOptions struct {
	// Timeout bounds a single attempt. Zero leaves only the unit's context
	// deadline.
	Timeout time.Duration
	// RetryMax is the number of retries within one unit of work.
	RetryMax int
	// UserAgent is sent with every request when non-empty.
	UserAgent string
}

// NewHTTP returns an HTTP heartbeat for url.
func NewHTTP(url string, opts HTTPOptions) *HTTP {
	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = nil // suppress retryablehttp's default logging
	// Hand back the last response so the status code shows up in the error.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &HTTP{URL: url, UserAgent: opts.UserAgent, client: client}
}

// Work sends one ping, retrying per the client's policy until ctx expires.
func (h *HTTP) Work(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fmt.Errorf("heartbeat request: %w", err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	resp, err := h.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	}
	if err != nil {
		return fmt.Errorf("GET %s: %w", h.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: status %d", h.URL, resp.StatusCode)
	}
	return nil
}

// ///////////////////////////////////////////////
// Multi
// ///////////////////////////////////////////////

// Worker is one unit of periodic work.
type Worker interface {
	Work(ctx context.Context) error
}

// Multi runs every worker in order and joins their errors. A failing worker
// does not prevent the ones after it from running.
type Multi []Worker

// Work runs each worker.
func (m Multi) Work(ctx context.Context) error {
	var errs []error
	for _, w := range m {
		if err := w.Work(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ///////////////////////////////////////////////
// Scheduled
// ///////////////////////////////////////////////

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 5m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Scheduled runs Worker on the first unit of work and afterwards only on
// units that fall at or after the schedule's next activation. Units in
// between are skipped without error.
type Scheduled struct {
	Worker   Worker
	Schedule cron.Schedule
	// Now is the clock; nil means time.Now.
	Now func() time.Time

	mu   sync.Mutex
	next time.Time
}

// NewScheduled wraps w with the schedule parsed from expr.
func NewScheduled(expr string, w Worker) (*Scheduled, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return &Scheduled{Worker: w, Schedule: sched}, nil
}

// Work runs the wrapped worker when it is due.
func (s *Scheduled) Work(ctx context.Context) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	s.mu.Lock()
	t := now()
	if !s.next.IsZero() && t.Before(s.next) {
		s.mu.Unlock()
		return nil
	}
	s.next = s.Schedule.Next(t)
	s.mu.Unlock()

	return s.Worker.Work(ctx)
}

// Next returns the next activation, or the zero time before the first run.
func (s *Scheduled) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
