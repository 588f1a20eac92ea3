package eventarchive

import (
	"context"
	"time"

	"github.com/feedbird/feedbird/app/models"
	"github.com/gofiber/fiber/v2/log"
)

const pruneBatchSize = 200

// EventStore is the slice of the webhook-event log the retention job needs.
type EventStore interface {
	ListProcessedEventsBefore(cutoff time.Time, limit int) ([]models.BillingWebhookEvent, error)
	DeleteWebhookEvents(ids []uint) error
}

// Archiver uploads payloads before their rows are pruned.
type Archiver interface {
	ArchivePayload(ctx context.Context, key string, payload []byte) error
}

// Retention prunes processed webhook events aged past the retention window,
// archiving each payload to S3 first. Unprocessed events are never touched;
// they are still candidates for provider redelivery.
type Retention struct {
	store    EventStore
	archiver Archiver
	config   *Config
}

// NewRetention creates a retention job.
func NewRetention(store EventStore, archiver Archiver, cfg *Config) *Retention {
	return &Retention{store: store, archiver: archiver, config: cfg}
}

// Run executes one retention pass and returns how many events were pruned.
func (r *Retention) Run(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.config.RetentionWindow())
	pruned := 0

	for {
		events, err := r.store.ListProcessedEventsBefore(cutoff, pruneBatchSize)
		if err != nil {
			return pruned, err
		}
		if len(events) == 0 {
			return pruned, nil
		}

		var deletable []uint
		for _, ev := range events {
			processedAt := ev.CreatedAt
			if ev.ProcessedAt != nil {
				processedAt = *ev.ProcessedAt
			}
			key := r.config.GetObjectKey(ev.Provider, ev.ProviderEventID, processedAt)
			if err := r.archiver.ArchivePayload(ctx, key, []byte(ev.PayloadJSON)); err != nil {
				// Keep the row; the next pass retries the upload.
				log.Errorf("[EventArchive] archive failed for event %s: %v", ev.ProviderEventID, err)
				continue
			}
			deletable = append(deletable, ev.ID)
		}

		if len(deletable) == 0 {
			return pruned, nil
		}
		if err := r.store.DeleteWebhookEvents(deletable); err != nil {
			return pruned, err
		}
		pruned += len(deletable)

		if len(events) < pruneBatchSize {
			return pruned, nil
		}
	}
}
