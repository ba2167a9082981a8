package kb

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/go-core/log"
)

// SweepFunc is a periodic maintenance pass returning how many records it
// expired.
type SweepFunc func(ctx context.Context) int

// Sweeper runs registered sweep functions on an hourly schedule.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper schedules the sweep functions hourly and starts the cron
// loop in its own goroutine.
func StartSweeper(logger log.Logger, fns ...SweepFunc) (*Sweeper, error) {
	L := logger.With("component", "kb-sweeper")
	c := cron.New()

	for _, fn := range fns {
		fn := fn
		_, err := c.AddFunc("@hourly", func() {
			ctx := log.WithContext(context.Background(), L)
			n := fn(ctx)
			if n > 0 {
				L.Info(ctx, "sweep expired records", "count", n)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	c.Start()
	return &Sweeper{cron: c}, nil
}

// Stop halts the schedule and waits for any running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
