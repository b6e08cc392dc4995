package mlse

import (
	"github.com/robfig/cron/v3"
)

// Scheduler runs the same retention sweep that commit-time pruning performs,
// on a fixed interval, independent of any particular commit. It exists as a
// belt-and-suspenders pass for scopes whose
// membership shrinks only through decay (no new commits ever arrive to
// trigger the on-commit prune), not as a replacement for it.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
}

// NewScheduler builds a Scheduler bound to engine. Call Start to begin
// running; the returned Scheduler owns no goroutines until then.
func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{engine: engine, cron: cron.New()}
}

// Start registers the sweep on spec, a standard five-field cron expression
// or a descriptor such as "@every 1h", and begins running it in the
// background.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.engine.prune(); err != nil {
			s.engine.logSweepError(err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
