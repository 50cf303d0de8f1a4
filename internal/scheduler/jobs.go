package scheduler

import (
	"time"

	"golang.org/x/time/rate"

	"beamauto/internal/automator"
)

// RegisterFullStatusPoll schedules a periodic detailed "full_status" poll
// for every named control, throttled per-control by limiter so the poll
// runs at a slower, bounded cadence than the scheduler's own tick (§4.1.1's
// per-tick "status" poll stays on the hot loop; this is the independent,
// heavier poll the spec calls out separately).
func (s *Scheduler) RegisterFullStatusPoll(auto *automator.Automator, controls []string, cronExpr string, burst int, every time.Duration) error {
	limiters := make(map[string]*rate.Limiter, len(controls))
	for _, c := range controls {
		limiters[c] = rate.NewLimiter(rate.Every(every), burst)
	}

	return s.AddJob("full-status-poll", cronExpr, func() {
		for _, name := range controls {
			lim := limiters[name]
			if lim != nil && !lim.Allow() {
				continue
			}
			if err := auto.PollFullStatus(name); err != nil {
				s.logger.Warn("full_status poll failed", "control", name, "error", err)
			}
		}
	})
}
