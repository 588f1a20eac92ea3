package billing

import "time"

// ProviderEvent is the parsed webhook envelope from the payment provider.
type ProviderEvent struct {
	ID        string
	Type      string
	CreatedAt time.Time

	// Subscription object fields, populated where the event carries them.
	SubscriptionID string
	CustomerRef    string
	Status         string
	PriceRef       string
	Interval       string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time

	// Checkout fields.
	ClientReference string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// IngestResult reports how an inbound event was handled.
type IngestResult struct {
	Duplicate bool
	Ignored   bool
	EventID   uint
}
