// Package health runs readiness checks against the things wfmenu depends
// on: its configuration, the compositor socket and the session bus.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 3 * time.Second

// Result is what one check reported.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Critical bool          `json:"critical"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Check inspects one dependency. A nil error means healthy; the message is
// shown either way.
type Check func(ctx context.Context) (message string, err error)

type component struct {
	name     string
	critical bool
	timeout  time.Duration
	check    Check
}

// Checker holds checks in registration order.
type Checker struct {
	mu         sync.Mutex
	components []component
	ready      atomic.Bool
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Register adds a check. A failing critical check makes the overall status
// unhealthy; any other failure only degrades it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component{
		name:     name,
		critical: critical,
		timeout:  DefaultTimeout,
		check:    check,
	})
}

// SetReady records whether the client holds a live compositor session.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// Ready reports the last SetReady value.
func (c *Checker) Ready() bool {
	return c.ready.Load()
}

// Run executes every check concurrently and returns results in
// registration order.
func (c *Checker) Run(ctx context.Context) []Result {
	c.mu.Lock()
	comps := append([]component(nil), c.components...)
	c.mu.Unlock()

	results := make([]Result, len(comps))
	var wg sync.WaitGroup
	for i, comp := range comps {
		i, comp := i, comp
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(ctx, comp)
		}()
	}
	wg.Wait()
	return results
}

func run(ctx context.Context, comp component) Result {
	res := Result{Name: comp.name, Critical: comp.critical}
	ctx, cancel := context.WithTimeout(ctx, comp.timeout)
	defer cancel()

	type outcome struct {
		msg string
		err error
	}
	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		msg, err := comp.check(ctx)
		done <- outcome{msg, err}
	}()

	select {
	case o := <-done:
		res.Message = o.msg
		if o.err != nil {
			res.Error = o.err.Error()
		}
	case <-ctx.Done():
		res.Error = "check timed out: " + ctx.Err().Error()
	}
	res.Duration = time.Since(start)

	switch {
	case res.Error == "":
		res.Status = StatusHealthy
	case comp.critical:
		res.Status = StatusUnhealthy
	default:
		res.Status = StatusDegraded
	}
	return res
}

// Overall folds results into a single status.
func Overall(results []Result) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Report is the body served by Handler.
type Report struct {
	Status Status   `json:"status"`
	Ready  bool     `json:"ready"`
	Checks []Result `json:"checks"`
}

// Handler serves a Report. The response is 503 when the client is not
// connected or a critical check fails.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		results := c.Run(req.Context())
		rep := Report{Status: Overall(results), Ready: c.Ready(), Checks: results}

		w.Header().Set("Content-Type", "application/json")
		if !rep.Ready || rep.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(rep)
	})
}
