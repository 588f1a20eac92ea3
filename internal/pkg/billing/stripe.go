package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/feedbird/feedbird/app/models"
)

// Provider event types handled by the dispatcher.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// ParseProviderEvent decodes a provider webhook payload into the neutral
// envelope the dispatcher works with.
func ParseProviderEvent(payload []byte) (*ProviderEvent, error) {
	type price struct {
		ID        string `json:"id"`
		Recurring struct {
			Interval string `json:"interval"`
		} `json:"recurring"`
	}
	type rawObject struct {
		ID                 string `json:"id"`
		Customer           string `json:"customer"`
		Subscription       string `json:"subscription"`
		Status             string `json:"status"`
		ClientReferenceID  string `json:"client_reference_id"`
		CurrentPeriodStart int64  `json:"current_period_start"`
		CurrentPeriodEnd   int64  `json:"current_period_end"`
		PeriodStart        int64  `json:"period_start"`
		PeriodEnd          int64  `json:"period_end"`
		Items              struct {
			Data []struct {
				Price price `json:"price"`
			} `json:"data"`
		} `json:"items"`
		Lines struct {
			Data []struct {
				Price price `json:"price"`
			} `json:"data"`
		} `json:"lines"`
	}
	type rawEvent struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object rawObject `json:"object"`
		} `json:"data"`
	}

	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("provider event payload missing event id")
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, errors.New("provider event payload missing event type")
	}

	obj := raw.Data.Object
	out := &ProviderEvent{
		ID:              strings.TrimSpace(raw.ID),
		Type:            strings.TrimSpace(raw.Type),
		CreatedAt:       time.Unix(raw.Created, 0).UTC(),
		CustomerRef:     strings.TrimSpace(obj.Customer),
		Status:          strings.TrimSpace(obj.Status),
		ClientReference: strings.TrimSpace(obj.ClientReferenceID),
	}

	// Subscription events carry the subscription object itself; invoice and
	// checkout events reference it by id.
	if strings.HasPrefix(out.Type, "customer.subscription.") {
		out.SubscriptionID = strings.TrimSpace(obj.ID)
	} else {
		out.SubscriptionID = strings.TrimSpace(obj.Subscription)
	}

	if len(obj.Items.Data) > 0 {
		out.PriceRef = strings.TrimSpace(obj.Items.Data[0].Price.ID)
		out.Interval = normalizeInterval(obj.Items.Data[0].Price.Recurring.Interval)
	} else if len(obj.Lines.Data) > 0 {
		out.PriceRef = strings.TrimSpace(obj.Lines.Data[0].Price.ID)
		out.Interval = normalizeInterval(obj.Lines.Data[0].Price.Recurring.Interval)
	} else {
		out.Interval = models.BillingIntervalUnknown
	}

	if obj.CurrentPeriodStart > 0 {
		t := time.Unix(obj.CurrentPeriodStart, 0).UTC()
		out.PeriodStart = &t
	} else if obj.PeriodStart > 0 {
		t := time.Unix(obj.PeriodStart, 0).UTC()
		out.PeriodStart = &t
	}
	if obj.CurrentPeriodEnd > 0 {
		t := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		out.PeriodEnd = &t
	} else if obj.PeriodEnd > 0 {
		t := time.Unix(obj.PeriodEnd, 0).UTC()
		out.PeriodEnd = &t
	}

	return out, nil
}

// ProviderStatusToBillingStatus maps provider subscription statuses onto the
// local status set.
func ProviderStatusToBillingStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return models.BillingStatusActive
	case "past_due", "unpaid":
		return models.BillingStatusPastDue
	case "canceled":
		return models.BillingStatusCanceled
	default:
		return models.BillingStatusIncomplete
	}
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case "month", "year":
		return i
	default:
		return models.BillingIntervalUnknown
	}
}
