package schedule

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Service fires the daily diary run at the configured local time,
// evaluated in the configured timezone. A firing overlapping a run that
// is still in flight is skipped, never queued.
type Service struct {
	spec    string
	loc     *time.Location
	cron    *rcron.Cron
	running atomic.Bool

	// OnRun receives the local calendar date being generated.
	OnRun func(date string)
}

func NewService(scheduleTime string, loc *time.Location) (*Service, error) {
	at, err := time.Parse("15:04", scheduleTime)
	if err != nil {
		return nil, fmt.Errorf("parse schedule time %q: %w", scheduleTime, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		spec: fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour()),
		loc:  loc,
	}, nil
}

func (s *Service) Start() error {
	s.cron = rcron.New(rcron.WithLocation(s.loc))
	if _, err := s.cron.AddFunc(s.spec, s.fire); err != nil {
		return fmt.Errorf("register schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	log.Printf("[schedule] daily run registered (%s, %s)", s.spec, s.loc)
	return nil
}

func (s *Service) fire() {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("[schedule] previous run still in flight, skipping this firing")
		return
	}
	defer s.running.Store(false)

	date := time.Now().In(s.loc).Format("2006-01-02")
	log.Printf("[schedule] firing daily run for %s", date)
	if s.OnRun != nil {
		s.OnRun(date)
	}
}

// NextRun reports when the trigger fires next, zero before Start.
func (s *Service) NextRun() time.Time {
	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[schedule] stop timeout waiting for running job")
	}
	log.Printf("[schedule] stopped")
}
