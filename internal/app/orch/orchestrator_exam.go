package orch

import (
	"context"
	"errors"
	"time"

	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/rs/zerolog/log"
)

// EvictExpired ends every registered exam whose end time has passed or
// that vanished from the directory. It returns the number of exams ended.
func (o *Orchestrator) EvictExpired(ctx context.Context) int {
	now := o.now()
	ended := 0
	for _, exam := range o.Registry.Exams() {
		session, err := o.Directory.GetSessionSchedule(ctx, exam)
		switch {
		case errors.Is(err, core.ErrExamNotFound):
		case err != nil:
			log.Error().Err(err).Str("module", "orch").Str("exam", string(exam)).Msg("eviction: schedule lookup")
			continue
		case now.Before(session.EndTime()):
			continue
		}
		o.Relay.EndExam(exam)
		ended++
	}
	return ended
}

// RunEviction calls EvictExpired every interval until ctx is done.
func (o *Orchestrator) RunEviction(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("eviction loop done")
			return
		case <-t.C:
			if n := o.EvictExpired(ctx); n > 0 {
				log.Info().Str("module", "orch").Int("exams", n).Msg("evicted ended exams")
			}
		}
	}
}
