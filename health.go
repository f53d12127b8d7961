package elif

import (
	"context"
	"sync"
	"time"

	"github.com/elifgo/elif/internal/errs"
)

type HealthStatus string

const (
	HealthStatusUp   HealthStatus = "up"
	HealthStatusDown HealthStatus = "down"
)

type HealthReport struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// HealthChecker is implemented by singletons that can report liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecker is implemented by singletons that can report whether
// they are ready for traffic.
type ReadinessChecker interface {
	ReadinessCheck(ctx context.Context) error
}

// Health checks every built singleton implementing HealthChecker.
// Singletons that were never built are not checked.
func (c *Container) Health(ctx context.Context) []HealthReport {
	return c.check(ctx, func(v any) func(context.Context) error {
		if hc, ok := v.(HealthChecker); ok {
			return hc.HealthCheck
		}
		return nil
	})
}

// Readiness checks every built singleton implementing ReadinessChecker.
func (c *Container) Readiness(ctx context.Context) []HealthReport {
	return c.check(ctx, func(v any) func(context.Context) error {
		if rc, ok := v.(ReadinessChecker); ok {
			return rc.ReadinessCheck
		}
		return nil
	})
}

// Ready fails with the first failing readiness check.
func (c *Container) Ready(ctx context.Context) error {
	for _, r := range c.Readiness(ctx) {
		if r.Status == HealthStatusDown {
			return errs.Newf(ErrCodeOverloaded, "%s is not ready: %s", r.Name, r.Error).WithService(r.Name)
		}
	}
	return nil
}

func (c *Container) check(ctx context.Context, pick func(any) func(context.Context) error) []HealthReport {
	instances := c.internal.Instances()
	reports := make([]HealthReport, 0, len(instances))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, inst := range instances {
		probe := pick(inst.Value)
		if probe == nil {
			continue
		}

		wg.Add(1)
		go func(name string, probe func(context.Context) error) {
			defer wg.Done()

			start := time.Now()
			err := probe(ctx)

			report := HealthReport{
				Name:    name,
				Status:  HealthStatusUp,
				Latency: time.Since(start),
			}
			if err != nil {
				report.Status = HealthStatusDown
				report.Error = err.Error()
			}

			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		}(inst.Key.String(), probe)
	}

	wg.Wait()
	return reports
}
