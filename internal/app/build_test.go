package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/maitred/internal/activity"
	"github.com/ent0n29/maitred/internal/audio"
	"github.com/ent0n29/maitred/internal/config"
	"github.com/ent0n29/maitred/internal/journal"
	"github.com/ent0n29/maitred/internal/session"
)

func TestBuildWiresSessionToJournal(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Config{
		AgentURL:         "http://127.0.0.1:1",
		StatusURL:        "http://127.0.0.1:1",
		SessionID:        "build-test",
		MetricsNamespace: "maitred_app_test",
		ReconnectDelay:   time.Hour,
		PollInterval:     time.Hour,
		AudioBackend:     config.AudioBackendNone,
	}
	res, err := Build(context.Background(), cfg, Options{
		Logger: zerolog.Nop(),
		Out:    &out,
		Device: audio.NewNull(),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	res.Machine.HandleEvent(session.StartRequested{})
	if snap := res.Machine.Snapshot(); snap.State != session.StateActive || snap.SessionID != "build-test" {
		t.Fatalf("snapshot after start = %+v", snap)
	}
	res.Machine.HandleEvent(session.StopRequested{Reason: session.ReasonUser})

	if err := res.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	records, err := res.Journal.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 || records[0].Reason != session.ReasonUser || records[0].SessionID != "build-test" {
		t.Fatalf("journal = %+v, want one user-ended record", records)
	}
	if !bytes.Contains(out.Bytes(), []byte("listening")) {
		t.Fatalf("console never showed listening:\n%s", out.String())
	}
}

func TestOpenDeviceRejectsUnknownBackend(t *testing.T) {
	if _, err := openDevice(config.Config{AudioBackend: "alsa"}, zerolog.Nop()); err == nil {
		t.Fatalf("openDevice() error = nil, want invalid backend")
	}
	d, err := openDevice(config.Config{AudioBackend: config.AudioBackendNone}, zerolog.Nop())
	if err != nil {
		t.Fatalf("openDevice(none) error = %v", err)
	}
	if _, ok := d.(*audio.Null); !ok {
		t.Fatalf("openDevice(none) = %T, want *audio.Null", d)
	}
}

func TestArchiverWritesRecordingAndJournal(t *testing.T) {
	dir := t.TempDir()
	store := journal.NewInMemoryStore(0)
	a := &archiver{
		recorder: audio.NewRecorder(dir, 24000),
		journal:  store,
		log:      zerolog.Nop(),
	}

	ended := time.Date(2026, 5, 4, 20, 15, 0, 0, time.UTC)
	a.OnSessionEnded(session.Summary{
		SessionID: "s1",
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   ended,
		Reason:    session.ReasonInactive,
		Timestamps: activity.Timestamps{
			LastUserSpeechAt: ended.Add(-20 * time.Second),
		},
		Recording: []byte{0, 1, 2, 3},
	})
	a.Wait()

	records, _ := store.Recent(context.Background(), 1)
	if len(records) != 1 {
		t.Fatalf("journal has %d records, want 1", len(records))
	}
	r := records[0]
	if r.RecordingPath == "" || filepath.Dir(r.RecordingPath) != dir {
		t.Fatalf("RecordingPath = %q, want file under %s", r.RecordingPath, dir)
	}
	if _, err := os.Stat(r.RecordingPath); err != nil {
		t.Fatalf("recording not written: %v", err)
	}
	if r.Duration() != time.Minute {
		t.Fatalf("Duration() = %v, want 1m", r.Duration())
	}
}

func TestArchiverWithoutRecorder(t *testing.T) {
	store := journal.NewInMemoryStore(0)
	a := &archiver{journal: store, log: zerolog.Nop()}
	a.OnSessionEnded(session.Summary{SessionID: "s2", Reason: session.ReasonGoodbye, Recording: []byte{1, 2}})
	a.Wait()

	records, _ := store.Recent(context.Background(), 1)
	if len(records) != 1 || records[0].RecordingPath != "" {
		t.Fatalf("records = %+v, want one without recording", records)
	}
}
