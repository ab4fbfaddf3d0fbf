package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/maitred/internal/audio"
	"github.com/ent0n29/maitred/internal/journal"
	"github.com/ent0n29/maitred/internal/session"
)

const archiveTimeout = 5 * time.Second

// archiver persists ended sessions off the event loop: the recording goes to
// disk and the summary to the journal.
type archiver struct {
	recorder *audio.Recorder
	journal  journal.Store
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// OnSessionEnded is the machine's end hook. It only schedules work.
func (a *archiver) OnSessionEnded(sum session.Summary) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.archive(sum)
	}()
}

func (a *archiver) archive(sum session.Summary) {
	path, err := a.recorder.Save(sum.SessionID, sum.EndedAt, sum.Recording)
	if err != nil {
		a.log.Error().Err(err).Str("session_id", sum.SessionID).Msg("save session recording failed")
	} else if path != "" {
		a.log.Info().Str("path", path).Msg("session recording saved")
	}

	if a.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := a.journal.Save(ctx, journal.FromSummary(sum, path)); err != nil {
		a.log.Error().Err(err).Str("session_id", sum.SessionID).Msg("journal session failed")
	}
}

// Wait blocks until every scheduled archive has finished.
func (a *archiver) Wait() {
	a.wg.Wait()
}
