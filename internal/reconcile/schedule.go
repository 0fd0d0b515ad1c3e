package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs once per trading day after the close
const DefaultSchedule = "30 16 * * 1-5"

// Schedule runs the reconciler on a cron expression in the given timezone
// until ctx is done
func (r *Reconciler) Schedule(ctx context.Context, spec, timezone string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return fmt.Errorf("reconcile timezone %q: %w", timezone, err)
		}
		loc = l
	}

	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := c.AddFunc(spec, func() {
		if _, err := r.Run(ctx); err != nil {
			r.log.LogError("scheduled reconciliation", err)
		}
	})
	if err != nil {
		return fmt.Errorf("reconcile schedule %q: %w", spec, err)
	}

	c.Start()
	r.log.Info("reconciliation scheduled %q (%s), next run %s", spec, loc, c.Entry(id).Next.Format(time.RFC3339))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// ValidateSchedule reports whether spec is a valid five-field cron expression
func ValidateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}
