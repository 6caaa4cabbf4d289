package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Check results reported per dependency and overall.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
	StatusDegraded    = "degraded"
)

const defaultTimeout = 2 * time.Second

// Pinger is any dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Report is the outcome of one health check run
type Report struct {
	Status string
	Checks map[string]string
}

// Healthy reports whether every dependency answered.
func (r Report) Healthy() bool {
	return r.Status == StatusOK
}

type dependency struct {
	name   string
	pinger Pinger
}

// Checker pings registered dependencies concurrently
type Checker struct {
	deps    []dependency
	timeout time.Duration
	log     *zap.Logger
}

// NewChecker creates a checker; each ping is bounded by timeout.
func NewChecker(timeout time.Duration, log *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Checker{timeout: timeout, log: log}
}

// Register adds a named dependency. It is not safe to call concurrently with Check.
func (c *Checker) Register(name string, pinger Pinger) *Checker {
	c.deps = append(c.deps, dependency{name: name, pinger: pinger})
	return c
}

// Check pings every dependency and returns their individual states.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := Report{
		Status: StatusOK,
		Checks: make(map[string]string, len(c.deps)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, dep := range c.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()

			status := StatusOK
			if err := dep.pinger.Ping(ctx); err != nil {
				status = StatusUnavailable
				c.log.Warn("Health check failed", zap.String("dependency", dep.name), zap.Error(err))
			}

			mu.Lock()
			report.Checks[dep.name] = status
			if status != StatusOK {
				report.Status = StatusDegraded
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return report
}
