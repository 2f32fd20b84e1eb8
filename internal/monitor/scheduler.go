package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartScheduler runs job on a five-field cron schedule in its own goroutine
// until ctx is cancelled. Job errors are logged and the loop continues.
// Examples: "*/15 * * * *" (every 15 minutes), "0 9 * * 1-5" (weekdays 9am).
func StartScheduler(ctx context.Context, name string, parser cron.Parser, schedule string, loc *time.Location, job func(context.Context) error) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		log.Printf("%s disabled (no schedule)", name)
		return nil
	}
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid %s schedule '%s': %w", name, schedule, err)
	}
	if loc == nil {
		loc = time.Local
	}
	log.Printf("%s scheduled (cron: %s)", name, schedule)

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next %s at %s (in %s)", name, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Printf("%s scheduler stopped", name)
				return
			case <-timer.C:
			}

			if err := job(ctx); err != nil {
				log.Printf("%s error: %v", name, err)
			}
		}
	}()
	return nil
}
