package eventarchive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedbird/feedbird/app/models"
)

type fakeStore struct {
	events []models.BillingWebhookEvent
}

func (f *fakeStore) ListProcessedEventsBefore(cutoff time.Time, limit int) ([]models.BillingWebhookEvent, error) {
	var out []models.BillingWebhookEvent
	for _, ev := range f.events {
		if ev.Processed && ev.ProcessedAt != nil && ev.ProcessedAt.Before(cutoff) {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteWebhookEvents(ids []uint) error {
	keep := f.events[:0]
	for _, ev := range f.events {
		deleted := false
		for _, id := range ids {
			if ev.ID == id {
				deleted = true
				break
			}
		}
		if !deleted {
			keep = append(keep, ev)
		}
	}
	f.events = keep
	return nil
}

type fakeArchiver struct {
	uploads map[string][]byte
	failFor map[string]bool
}

func newFakeArchiver() *fakeArchiver {
	return &fakeArchiver{uploads: map[string][]byte{}, failFor: map[string]bool{}}
}

func (f *fakeArchiver) ArchivePayload(ctx context.Context, key string, payload []byte) error {
	if f.failFor[key] {
		return errors.New("upload failed")
	}
	f.uploads[key] = payload
	return nil
}

func retentionConfig(days int) *Config {
	return &Config{Enabled: true, RetentionDays: days}
}

func processedEvent(id uint, eventID string, processedAt time.Time) models.BillingWebhookEvent {
	return models.BillingWebhookEvent{
		ID:              id,
		Provider:        models.BillingProviderStripe,
		ProviderEventID: eventID,
		PayloadJSON:     `{"id":"` + eventID + `"}`,
		Processed:       true,
		ProcessedAt:     &processedAt,
	}
}

func TestRetentionPrunesAgedProcessedEvents(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -100)
	recent := now.AddDate(0, 0, -10)

	pending := models.BillingWebhookEvent{ID: 3, Provider: models.BillingProviderStripe, ProviderEventID: "evt_pending", PayloadJSON: "{}", CreatedAt: old}
	store := &fakeStore{events: []models.BillingWebhookEvent{
		processedEvent(1, "evt_old", old),
		processedEvent(2, "evt_recent", recent),
		pending,
	}}
	archiver := newFakeArchiver()

	job := NewRetention(store, archiver, retentionConfig(90))
	pruned, err := job.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("retention run failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned event, got %d", pruned)
	}
	if len(store.events) != 2 {
		t.Fatalf("expected 2 remaining events, got %d", len(store.events))
	}
	if len(archiver.uploads) != 1 {
		t.Fatalf("expected 1 archived payload, got %d", len(archiver.uploads))
	}
	for _, ev := range store.events {
		if ev.ProviderEventID == "evt_old" {
			t.Fatalf("aged event was not deleted")
		}
	}
}

func TestRetentionKeepsRowOnUploadFailure(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -100)

	cfg := retentionConfig(90)
	store := &fakeStore{events: []models.BillingWebhookEvent{processedEvent(1, "evt_fail", old)}}
	archiver := newFakeArchiver()
	archiver.failFor[cfg.GetObjectKey(models.BillingProviderStripe, "evt_fail", old)] = true

	job := NewRetention(store, archiver, cfg)
	pruned, err := job.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("retention run failed: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("failed upload must not prune, got %d", pruned)
	}
	if len(store.events) != 1 {
		t.Fatalf("event deleted despite failed archive upload")
	}
}
