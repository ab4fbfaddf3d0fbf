package journal

import (
	"context"
	"testing"
	"time"

	"github.com/ent0n29/maitred/internal/activity"
	"github.com/ent0n29/maitred/internal/session"
)

func TestInMemoryStoreRecentNewestFirst(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Save(ctx, Record{SessionID: id, Reason: session.ReasonUser}); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "c" || got[1].SessionID != "b" {
		t.Fatalf("Recent(2) = %+v, want c,b", got)
	}
	if got[0].ID == "" || got[0].EndedAt.IsZero() {
		t.Fatalf("Save did not fill ID/EndedAt: %+v", got[0])
	}

	all, _ := s.Recent(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("Recent(0) returned %d, want 3", len(all))
	}
}

func TestInMemoryStoreCapacity(t *testing.T) {
	s := NewInMemoryStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = s.Save(ctx, Record{SessionID: id})
	}
	got, _ := s.Recent(ctx, 10)
	if len(got) != 2 || got[1].SessionID != "b" {
		t.Fatalf("Recent() = %+v, want c,b", got)
	}
}

func TestInMemoryStoreEmpty(t *testing.T) {
	got, err := NewInMemoryStore(0).Recent(context.Background(), 5)
	if err != nil || got != nil {
		t.Fatalf("Recent() = %v, %v; want nil, nil", got, err)
	}
}

func TestFromSummary(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sum := session.Summary{
		SessionID:      "s1",
		StartedAt:      start,
		EndedAt:        start.Add(42 * time.Second),
		Reason:         session.ReasonTurnComplete,
		EndReason:      session.ReasonGoodbye,
		LastTranscript: "goodbye",
		Timestamps: activity.Timestamps{
			LastUserSpeechAt:    start.Add(30 * time.Second),
			LastAgentActivityAt: start.Add(40 * time.Second),
		},
	}

	r := FromSummary(sum, "/tmp/s1.wav")
	if r.Reason != session.ReasonTurnComplete || r.EndReason != session.ReasonGoodbye {
		t.Fatalf("reasons = %q/%q", r.Reason, r.EndReason)
	}
	if !r.AgentActivityAt.Equal(start.Add(40*time.Second)) || r.RecordingPath != "/tmp/s1.wav" {
		t.Fatalf("FromSummary() = %+v", r)
	}
	if r.Duration() != 42*time.Second {
		t.Fatalf("Duration() = %v, want 42s", r.Duration())
	}
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", s)
	}
}
