// Package billing syncs external subscription state into the local
// subscriptions table and drives the allocation cascade that follows.
package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
	"github.com/sutto4/ccc-sub004/internal/pkg/allocation"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
	"github.com/sutto4/ccc-sub004/internal/pkg/retry"
)

// ErrInvalidSignature is returned for webhook deliveries whose HMAC does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Service provides provider-neutral billing synchronization.
type Service struct {
	store       repository.Store
	allocations *allocation.Manager
	retry       retry.Policy
}

// NewService creates a billing service on top of the allocation manager.
func NewService(store repository.Store, allocations *allocation.Manager) *Service {
	return &Service{store: store, allocations: allocations, retry: retry.DefaultPolicy}
}

// ResolvePlan maps a provider plan reference to an internal plan type and
// its guild-slot capacity.
func (s *Service) ResolvePlan(ctx context.Context, provider, providerPlanRef string) (string, int, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	ref := strings.TrimSpace(providerPlanRef)
	if p == "" || ref == "" {
		return "", 0, fmt.Errorf("%w: provider and plan ref are required", errs.ErrInvalidInput)
	}

	m, err := s.store.Repositories().PlanMapping.FindActive(ctx, p, ref)
	if err == nil {
		return normalizePlanType(m.PlanType), m.MaxServers, nil
	}
	if !errs.IsNotFound(err) {
		return "", 0, err
	}

	// Fallback for manual grants that name the plan type directly.
	if n, ok := builtinCapacity(ref); ok {
		return normalizePlanType(ref), n, nil
	}
	return "", 0, fmt.Errorf("%w: no active plan mapping for %s/%s", errs.ErrInvalidInput, p, ref)
}

// HandleSubscriptionEvent upserts the subscription described by ev. A
// cancellation releases every allocated guild; any other change refreshes the
// period snapshot on allocated guilds.
func (s *Service) HandleSubscriptionEvent(ctx context.Context, ev SubscriptionEvent) (SyncResult, error) {
	provider := strings.ToLower(strings.TrimSpace(ev.Provider))
	subscriptionID := strings.TrimSpace(ev.SubscriptionID)
	if provider == "" || subscriptionID == "" {
		return SyncResult{}, fmt.Errorf("%w: provider and subscription_id are required", errs.ErrInvalidInput)
	}

	status := normalizeStatus(ev.Status)
	if ev.EventType == EventSubscriptionCanceled {
		status = models.SubscriptionStatusCanceled
	}

	prev, err := s.store.Repositories().Subscription.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil && !errs.IsNotFound(err) {
		return SyncResult{}, err
	}
	if errs.IsNotFound(err) {
		prev = nil
	}

	var planType string
	var maxServers int
	switch {
	case strings.TrimSpace(ev.ProviderPlanRef) == "" && prev != nil:
		planType, maxServers = prev.PlanType, prev.MaxServers
	default:
		planType, maxServers, err = s.ResolvePlan(ctx, provider, ev.ProviderPlanRef)
		if err != nil {
			return SyncResult{}, err
		}
	}

	sub := &models.Subscription{
		SubscriptionID:     subscriptionID,
		OwnerID:            strings.TrimSpace(ev.OwnerID),
		PlanType:           planType,
		MaxServers:         maxServers,
		Status:             status,
		CurrentPeriodStart: ev.CurrentPeriodStart,
		CurrentPeriodEnd:   ev.CurrentPeriodEnd,
		CancelAtPeriodEnd:  ev.CancelAtPeriodEnd,
	}
	if sub.OwnerID == "" && prev != nil {
		sub.OwnerID = prev.OwnerID
	}
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.store.Repositories().Subscription.Upsert(ctx, sub)
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to upsert subscription %s: %w", subscriptionID, err)
	}

	result := SyncResult{
		SubscriptionID: subscriptionID,
		Status:         sub.Status,
		PlanType:       sub.PlanType,
		MaxServers:     sub.MaxServers,
	}

	if sub.IsCancelled() {
		released, err := retry.Value(ctx, func(ctx context.Context) (int, error) {
			return s.allocations.DeallocateAll(ctx, subscriptionID)
		})
		result.Released = released
		if err != nil {
			return result, fmt.Errorf("failed to release guilds of %s: %w", subscriptionID, err)
		}
		if released > 0 {
			log.Infof("[Billing] Subscription %s %s, released %d guild(s)", subscriptionID, sub.Status, released)
		}
		return result, nil
	}

	if prev != nil {
		refreshed, err := retry.Value(ctx, func(ctx context.Context) (int, error) {
			return s.allocations.RefreshSnapshot(ctx, subscriptionID)
		})
		result.Refreshed = refreshed
		if err != nil {
			return result, fmt.Errorf("failed to refresh guilds of %s: %w", subscriptionID, err)
		}
	}
	if sub.UsedServers > sub.MaxServers {
		log.Warnf("[Billing] Subscription %s is over capacity (%d/%d)", subscriptionID, sub.UsedServers, sub.MaxServers)
	}
	return result, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, fmt.Errorf("%w: provider is required", errs.ErrInvalidInput)
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.store.Repositories().WebhookEvent.CreateIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return fmt.Errorf("%w: webhook_event_id is required", errs.ErrInvalidInput)
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.store.Repositories().WebhookEvent.MarkProcessed(ctx, webhookEventID, errMsg)
}

// ProcessWebhook records a delivery and applies it once. duplicate is true
// when the same event was already processed successfully.
func (s *Service) ProcessWebhook(ctx context.Context, provider string, payload []byte, signatureValid bool) (result SyncResult, duplicate bool, err error) {
	var ev SubscriptionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return SyncResult{}, false, fmt.Errorf("%w: malformed webhook payload: %v", errs.ErrInvalidInput, err)
	}
	if strings.TrimSpace(ev.Provider) == "" {
		ev.Provider = provider
	}

	created, stored, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        ev.Provider,
		ProviderEventID: ev.EventID,
		EventType:       ev.EventType,
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return SyncResult{}, false, err
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return SyncResult{}, true, nil
	}

	if !signatureValid {
		if err := s.MarkWebhookProcessed(ctx, stored.ID, ErrInvalidSignature); err != nil {
			log.Errorf("[Billing] Failed to mark webhook %d: %v", stored.ID, err)
		}
		return SyncResult{}, false, ErrInvalidSignature
	}

	result, err = s.HandleSubscriptionEvent(ctx, ev)
	if markErr := s.MarkWebhookProcessed(ctx, stored.ID, err); markErr != nil {
		log.Errorf("[Billing] Failed to mark webhook %d: %v", stored.ID, markErr)
	}
	return result, false, err
}
