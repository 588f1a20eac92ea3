package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feedbird/feedbird/app/models"
	"github.com/feedbird/feedbird/internal/pkg/cache"
	"github.com/feedbird/feedbird/internal/pkg/cycle"
	"github.com/feedbird/feedbird/internal/pkg/plans"
	"github.com/feedbird/feedbird/internal/pkg/usage"
	"github.com/feedbird/feedbird/internal/pkg/visibility"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ErrInvalidSignature rejects a webhook whose authenticity tag does not
// verify. No state is mutated for such requests.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// errUnlinkedAccount aborts a handler when the provider references no local
// account. The event is acknowledged and ignored, not retried.
var errUnlinkedAccount = errors.New("no linked local account for provider reference")

// errApplyBusy fails an event whose account is mid-application in another
// delivery. The event is marked failed so the provider redelivers it.
var errApplyBusy = errors.New("concurrent event application in progress")

const applyLockTTL = 30 * time.Second

// Locker serializes per-account event application across processes.
type Locker interface {
	Acquire(key string, ttl time.Duration) (bool, error)
	Release(key string) error
}

type cacheLocker struct{}

func (cacheLocker) Acquire(key string, ttl time.Duration) (bool, error) {
	return cache.AcquireLock(key, ttl)
}

func (cacheLocker) Release(key string) error {
	return cache.ReleaseLock(key)
}

// CycleAnchorer re-anchors an account's billing cycle from provider-supplied
// period boundaries.
type CycleAnchorer interface {
	ReanchorCycle(userID uint, start, end time.Time) error
}

// VisibilityRecomputer re-ranks an account's records after a plan change.
type VisibilityRecomputer interface {
	Recompute(userID uint, now time.Time) error
}

// Service ingests payment-provider events and keeps local subscription state
// consistent under at-least-once delivery.
type Service struct {
	repo       Repository
	cycles     CycleAnchorer
	visibility VisibilityRecomputer
	locker     Locker
}

// NewService creates a billing service with explicit collaborators. A nil
// locker defaults to the redis-backed one.
func NewService(repo Repository, cycles CycleAnchorer, vis VisibilityRecomputer, locker Locker) *Service {
	if locker == nil {
		locker = cacheLocker{}
	}
	return &Service{repo: repo, cycles: cycles, visibility: vis, locker: locker}
}

// NewServiceFromDB creates a fully wired billing service from a GORM handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	u := usage.NewServiceFromDB(db)
	v := visibility.NewServiceFromDB(db)
	c := cycle.NewServiceFromDB(db, u, v)
	return NewService(NewRepository(db), c, v, nil)
}

// Ingest processes one raw webhook delivery end to end: signature check,
// dedup, dispatch, processed/failed bookkeeping. Applying the same provider
// event twice never double-mutates subscription or usage state.
func (s *Service) Ingest(rawBody []byte, signatureHeader, secret string) (*IngestResult, error) {
	if !VerifyWebhookSignature(rawBody, signatureHeader, secret) {
		log.Warnf("[Billing] webhook rejected: signature verification failed")
		return nil, ErrInvalidSignature
	}

	event, parseErr := ParseProviderEvent(rawBody)

	eventID := ""
	eventType := ""
	if event != nil {
		eventID = event.ID
		eventType = event.Type
	}
	if eventID == "" {
		// Unparsable payloads still get an audit row, keyed by content hash.
		sum := sha256.Sum256(rawBody)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, err
	}

	result := &IngestResult{EventID: stored.ID}

	// Deduplication guarantee: a processed event is a silent no-op. An
	// unprocessed existing row is a provider redelivery after a handler
	// failure and goes through dispatch again.
	if !created && stored.Processed {
		result.Duplicate = true
		return result, nil
	}

	if parseErr != nil {
		// Malformed but authentic payload: acknowledged, never retried.
		_ = s.repo.MarkWebhookProcessed(stored.ID, parseErr)
		result.Ignored = true
		return result, nil
	}

	if err := s.apply(event); err != nil {
		if errors.Is(err, errUnlinkedAccount) {
			_ = s.repo.MarkWebhookProcessed(stored.ID, err)
			result.Ignored = true
			return result, nil
		}
		if markErr := s.repo.MarkWebhookFailed(stored.ID, err); markErr != nil {
			log.Errorf("[Billing] failed to record handler failure for event %s: %v", eventID, markErr)
		}
		return nil, fmt.Errorf("handle %s event %s: %w", eventType, eventID, err)
	}

	if err := s.repo.MarkWebhookProcessed(stored.ID, nil); err != nil {
		return nil, err
	}
	return result, nil
}

// apply dispatches one parsed event under a per-account lock, the same lock
// discipline as cycle advancement. The provider delivers retries in parallel;
// handlers read a subscription snapshot and write it back, so the snapshot and
// the write must sit in one critical section or a stale update whose snapshot
// predates a concurrent cancellation would overwrite it.
func (s *Service) apply(ev *ProviderEvent) error {
	var handle func(uint, *ProviderEvent) error
	switch ev.Type {
	case EventCheckoutCompleted:
		handle = s.handleCheckoutCompleted
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		handle = s.handleSubscriptionChanged
	case EventSubscriptionDeleted:
		handle = s.handleSubscriptionDeleted
	case EventPaymentSucceeded:
		handle = s.handlePaymentSucceeded
	case EventPaymentFailed:
		handle = s.handlePaymentFailed
	default:
		// Unknown event type: leave state untouched rather than guessing.
		log.Infof("[Billing] ignoring unhandled event type %q (%s)", ev.Type, ev.ID)
		return nil
	}

	userID, err := s.resolveEventUser(ev)
	if err != nil {
		return err
	}

	lockKey := fmt.Sprintf("billing:apply:%d", userID)
	acquired, err := s.locker.Acquire(lockKey, applyLockTTL)
	if err != nil {
		return fmt.Errorf("acquire apply lock for user %d: %w", userID, err)
	}
	if !acquired {
		// Another delivery for this account is mid-flight. Fail so the
		// provider redelivers; the dedup row keeps the retry harmless.
		log.Debugf("[Billing] event %s for user %d deferred: apply lock held elsewhere", ev.ID, userID)
		return fmt.Errorf("user %d: %w", userID, errApplyBusy)
	}
	defer s.locker.Release(lockKey)

	return handle(userID, ev)
}

// resolveEventUser maps the event's provider references to a local account.
// Checkout sessions carry the local user id directly; every other event is
// keyed by the provider customer ref attached at checkout.
func (s *Service) resolveEventUser(ev *ProviderEvent) (uint, error) {
	if ev.Type == EventCheckoutCompleted {
		userID, err := s.repo.ResolveLocalUser(ev.ClientReference)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, errUnlinkedAccount
			}
			return 0, err
		}
		return userID, nil
	}

	if strings.TrimSpace(ev.CustomerRef) == "" {
		return 0, errUnlinkedAccount
	}
	userID, err := s.repo.GetUserIDByCustomerRef(models.BillingProviderStripe, ev.CustomerRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, errUnlinkedAccount
		}
		return 0, err
	}
	return userID, nil
}

// handleCheckoutCompleted attaches the provider customer to the local user,
// sets the purchased plan and anchors the first billing cycle.
func (s *Service) handleCheckoutCompleted(userID uint, ev *ProviderEvent) error {
	sub, err := s.repo.GetOrCreateSubscription(userID)
	if err != nil {
		return err
	}
	if !s.shouldApply(sub, ev) {
		return nil
	}

	updates := map[string]interface{}{
		"provider_customer_ref": ev.CustomerRef,
		"status":                models.BillingStatusActive,
	}
	if ev.SubscriptionID != "" {
		updates["provider_subscription_id"] = ev.SubscriptionID
	}
	if ev.PriceRef != "" {
		updates["provider_plan_ref"] = ev.PriceRef
	}
	if ev.Interval != models.BillingIntervalUnknown {
		updates["billing_interval"] = ev.Interval
	}

	newPlan := s.resolvePlan(ev.PriceRef, ev.Interval)
	if newPlan != "" {
		updates["plan"] = newPlan
	}
	s.advanceLastEvent(updates, sub, ev)

	if err := s.repo.UpdateSubscription(userID, updates); err != nil {
		return err
	}
	if err := s.applyPlan(userID, newPlan); err != nil {
		return err
	}

	start, end := checkoutWindow(ev)
	if err := s.cycles.ReanchorCycle(userID, start, end); err != nil && !errors.Is(err, cycle.ErrAdvanceSkipped) {
		return err
	}
	return nil
}

func (s *Service) handleSubscriptionChanged(userID uint, ev *ProviderEvent) error {
	sub, err := s.repo.GetOrCreateSubscription(userID)
	if err != nil {
		return err
	}

	// A canceled account is never resurrected by a delayed create/update.
	if sub.IsCanceled() {
		log.Infof("[Billing] ignoring %s for canceled user %d", ev.Type, userID)
		return nil
	}
	if !s.shouldApply(sub, ev) {
		return nil
	}

	updates := map[string]interface{}{
		"status": ProviderStatusToBillingStatus(ev.Status),
	}
	if ev.SubscriptionID != "" {
		updates["provider_subscription_id"] = ev.SubscriptionID
	}
	if ev.PriceRef != "" {
		updates["provider_plan_ref"] = ev.PriceRef
	}
	if ev.Interval != models.BillingIntervalUnknown {
		updates["billing_interval"] = ev.Interval
	}

	newPlan := s.resolvePlan(ev.PriceRef, ev.Interval)
	if newPlan != "" {
		updates["plan"] = newPlan
	}
	s.advanceLastEvent(updates, sub, ev)

	if err := s.repo.UpdateSubscription(userID, updates); err != nil {
		return err
	}
	if err := s.applyPlan(userID, newPlan); err != nil {
		return err
	}

	if ev.PeriodStart != nil && ev.PeriodEnd != nil {
		if err := s.cycles.ReanchorCycle(userID, *ev.PeriodStart, *ev.PeriodEnd); err != nil && !errors.Is(err, cycle.ErrAdvanceSkipped) {
			return err
		}
	}
	return nil
}

// handleSubscriptionDeleted marks the account canceled. Cancellations always
// apply regardless of event ordering; the last known plan's limits remain in
// force for read-only access until a downgrade.
func (s *Service) handleSubscriptionDeleted(userID uint, ev *ProviderEvent) error {
	sub, err := s.repo.GetOrCreateSubscription(userID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status": models.BillingStatusCanceled,
	}
	s.advanceLastEvent(updates, sub, ev)
	return s.repo.UpdateSubscription(userID, updates)
}

// handlePaymentSucceeded is audit-only unless the invoice carries new period
// boundaries, in which case the cycle is re-anchored.
func (s *Service) handlePaymentSucceeded(userID uint, ev *ProviderEvent) error {
	sub, err := s.repo.GetOrCreateSubscription(userID)
	if err != nil {
		return err
	}
	if sub.IsCanceled() || !s.shouldApply(sub, ev) {
		return nil
	}

	updates := map[string]interface{}{}
	s.advanceLastEvent(updates, sub, ev)
	if len(updates) > 0 {
		if err := s.repo.UpdateSubscription(userID, updates); err != nil {
			return err
		}
	}

	if ev.PeriodStart != nil && ev.PeriodEnd != nil {
		if err := s.cycles.ReanchorCycle(userID, *ev.PeriodStart, *ev.PeriodEnd); err != nil && !errors.Is(err, cycle.ErrAdvanceSkipped) {
			return err
		}
	}
	return nil
}

func (s *Service) handlePaymentFailed(userID uint, ev *ProviderEvent) error {
	sub, err := s.repo.GetOrCreateSubscription(userID)
	if err != nil {
		return err
	}
	if sub.IsCanceled() || !s.shouldApply(sub, ev) {
		return nil
	}

	updates := map[string]interface{}{
		"status": models.BillingStatusPastDue,
	}
	s.advanceLastEvent(updates, sub, ev)
	return s.repo.UpdateSubscription(userID, updates)
}

// shouldApply is the out-of-order delivery guard: an event older than the
// newest one already applied to this account is skipped. Cancellations are
// handled separately and always win.
func (s *Service) shouldApply(sub *models.BillingSubscription, ev *ProviderEvent) bool {
	if sub.LastEventAt == nil || ev.CreatedAt.IsZero() {
		return true
	}
	if ev.CreatedAt.Before(*sub.LastEventAt) {
		log.Debugf("[Billing] skipping stale %s event for user %d (%s < %s)",
			ev.Type, sub.UserID, ev.CreatedAt.Format(time.RFC3339), sub.LastEventAt.Format(time.RFC3339))
		return false
	}
	return true
}

// advanceLastEvent moves the stored event watermark forward, never back.
func (s *Service) advanceLastEvent(updates map[string]interface{}, sub *models.BillingSubscription, ev *ProviderEvent) {
	if ev.CreatedAt.IsZero() {
		return
	}
	if sub.LastEventAt == nil || ev.CreatedAt.After(*sub.LastEventAt) {
		t := ev.CreatedAt
		updates["last_event_at"] = &t
	}
}

// resolvePlan maps a provider price ref to an internal plan via the mapping
// table, falling back to the interval-agnostic mapping. An unmapped ref
// resolves to empty, leaving the current plan untouched.
func (s *Service) resolvePlan(priceRef, interval string) string {
	ref := strings.TrimSpace(priceRef)
	if ref == "" {
		return ""
	}

	m, err := s.repo.FindActivePlanMapping(models.BillingProviderStripe, ref, interval)
	if err == nil {
		return plans.Normalize(m.InternalPlan)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("[Billing] plan mapping lookup failed for %s/%s: %v", ref, interval, err)
		return ""
	}

	m, err = s.repo.FindActivePlanMapping(models.BillingProviderStripe, ref, models.BillingIntervalUnknown)
	if err == nil {
		return plans.Normalize(m.InternalPlan)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("[Billing] plan mapping lookup failed for %s: %v", ref, err)
	} else {
		log.Warnf("[Billing] no plan mapping for price ref %q (%s)", ref, interval)
	}
	return ""
}

// applyPlan writes the resolved plan to user settings and re-ranks record
// visibility when the plan actually changed.
func (s *Service) applyPlan(userID uint, newPlan string) error {
	if newPlan == "" {
		return nil
	}
	us, err := s.repo.GetOrCreateUserSettings(userID)
	if err != nil {
		return err
	}
	if plans.Normalize(us.Plan) == newPlan {
		return nil
	}
	us.Plan = newPlan
	if err := s.repo.SaveUserSettings(us); err != nil {
		return err
	}
	return s.visibility.Recompute(userID, time.Now())
}

func checkoutWindow(ev *ProviderEvent) (time.Time, time.Time) {
	if ev.PeriodStart != nil && ev.PeriodEnd != nil {
		return *ev.PeriodStart, *ev.PeriodEnd
	}
	start := ev.CreatedAt
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return start, start.AddDate(0, 1, 0)
}
