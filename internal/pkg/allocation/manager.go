package allocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hashicorp/go-multierror"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
	"github.com/sutto4/ccc-sub004/internal/pkg/metrics"
)

// DefaultTxTimeout bounds one allocation unit of work.
const DefaultTxTimeout = 10 * time.Second

const reconcilePageSize = 200

// Usage is the capacity a subscription has consumed.
type Usage struct {
	SubscriptionID string `json:"subscription_id"`
	UsedServers    int    `json:"used_servers"`
	MaxServers     int    `json:"max_servers"`
}

// Availability is returned after a guild leaves a subscription.
type Availability struct {
	SubscriptionID string `json:"subscription_id"`
	AvailableSlots int    `json:"available_slots"`
	UsedServers    int    `json:"used_servers"`
	MaxServers     int    `json:"max_servers"`
}

func availability(sub *models.Subscription, used int) Availability {
	free := sub.MaxServers - used
	if free < 0 {
		free = 0
	}
	return Availability{
		SubscriptionID: sub.SubscriptionID,
		AvailableSlots: free,
		UsedServers:    used,
		MaxServers:     sub.MaxServers,
	}
}

// Manager owns the relationship between subscriptions and the guilds that
// consume their slots. Every mutation is one transaction that locks the
// guild row before the subscription row, rewrites UsedServers from a
// recount and cascades feature changes through the resolver.
type Manager struct {
	store     repository.Store
	resolver  *entitlements.Resolver
	txTimeout time.Duration
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithTxTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.txTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates an allocation manager.
func NewManager(store repository.Store, resolver *entitlements.Resolver, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		resolver:  resolver,
		txTimeout: DefaultTxTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allocate assigns a guild to a subscription. Allocating a guild to the
// subscription it already belongs to succeeds without changes.
func (m *Manager) Allocate(ctx context.Context, subscriptionID, guildID string) (Usage, error) {
	if err := requireIDs(subscriptionID, guildID); err != nil {
		return Usage{}, err
	}

	var usage Usage
	err := m.atomic(ctx, "allocate", func(ctx context.Context, tx *repository.Repositories) error {
		resolver := m.resolver.WithRepositories(tx)

		guild, created, err := tx.Guild.LockOrCreate(ctx, guildID)
		if err != nil {
			return err
		}

		// Every plain read below happens after both row locks are held.
		sub, err := lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.IsCancelled() {
			return fmt.Errorf("%w: %s", errs.ErrSubscriptionCancelled, subscriptionID)
		}

		current, err := tx.Allocation.FindActiveByGuild(ctx, guildID)
		switch {
		case err == nil && current.SubscriptionID == subscriptionID:
			used, err := m.recount(ctx, tx, sub)
			if err != nil {
				return err
			}
			usage = Usage{SubscriptionID: subscriptionID, UsedServers: used, MaxServers: sub.MaxServers}
			return nil
		case err == nil:
			return fmt.Errorf("%w: guild %s belongs to %s", errs.ErrAlreadyAllocated, guildID, current.SubscriptionID)
		case !errs.IsNotFound(err):
			return err
		}

		used, err := tx.Allocation.CountActive(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if used >= sub.MaxServers {
			return &errs.CapacityError{Used: used, Max: sub.MaxServers}
		}

		if created {
			if err := resolver.SeedGuild(ctx, guildID); err != nil {
				return err
			}
		}

		row, err := tx.Allocation.Find(ctx, subscriptionID, guildID)
		if errs.IsNotFound(err) {
			row = &models.ServerAllocation{SubscriptionID: subscriptionID, GuildID: guildID}
		} else if err != nil {
			return err
		}
		row.IsActive = true
		row.AllocatedAt = m.now()
		row.DeallocatedAt = nil
		if err := tx.Allocation.Save(ctx, row); err != nil {
			return err
		}

		guild.ApplySubscription(sub)
		if err := tx.Guild.Save(ctx, guild); err != nil {
			return err
		}

		used, err = m.recount(ctx, tx, sub)
		if err != nil {
			return err
		}
		if err := resolver.OnPremiumGained(ctx, guildID); err != nil {
			return err
		}

		usage = Usage{SubscriptionID: subscriptionID, UsedServers: used, MaxServers: sub.MaxServers}
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	log.Infof("[Allocation] guild %s allocated to %s (%d/%d)", guildID, subscriptionID, usage.UsedServers, usage.MaxServers)
	return usage, nil
}

// Deallocate removes a guild from a subscription. An already-inactive pair
// is a successful no-op so redelivered billing events are harmless.
func (m *Manager) Deallocate(ctx context.Context, subscriptionID, guildID string) (Availability, error) {
	if err := requireIDs(subscriptionID, guildID); err != nil {
		return Availability{}, err
	}

	var out Availability
	err := m.atomic(ctx, "deallocate", func(ctx context.Context, tx *repository.Repositories) error {
		guild, err := tx.Guild.Lock(ctx, guildID)
		if err != nil && !errs.IsNotFound(err) {
			return err
		}

		sub, err := lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if guild == nil {
			return fmt.Errorf("%w: %s/%s", errs.ErrAllocationNotFound, subscriptionID, guildID)
		}

		row, err := tx.Allocation.Find(ctx, subscriptionID, guildID)
		if errs.IsNotFound(err) {
			return fmt.Errorf("%w: %s/%s", errs.ErrAllocationNotFound, subscriptionID, guildID)
		}
		if err != nil {
			return err
		}

		released := row.IsActive
		if released {
			now := m.now()
			row.IsActive = false
			row.DeallocatedAt = &now
			if err := tx.Allocation.Save(ctx, row); err != nil {
				return err
			}

			guild.ClearSubscription()
			if err := tx.Guild.Save(ctx, guild); err != nil {
				return err
			}
		}

		used, err := m.recount(ctx, tx, sub)
		if err != nil {
			return err
		}
		if released {
			if err := m.resolver.WithRepositories(tx).OnPremiumLost(ctx, guildID); err != nil {
				return err
			}
		}
		out = availability(sub, used)
		return nil
	})
	if err != nil {
		return Availability{}, err
	}
	log.Infof("[Allocation] guild %s released from %s (%d/%d)", guildID, subscriptionID, out.UsedServers, out.MaxServers)
	return out, nil
}

// SetPrimary makes guildID the only primary member of a server group.
func (m *Manager) SetPrimary(ctx context.Context, groupID uint, guildID string) error {
	if groupID == 0 || strings.TrimSpace(guildID) == "" {
		return fmt.Errorf("%w: group id and guild id are required", errs.ErrInvalidInput)
	}
	return m.atomic(ctx, "set primary", func(ctx context.Context, tx *repository.Repositories) error {
		members, err := tx.Group.LockMembers(ctx, groupID)
		if err != nil {
			return err
		}
		member := false
		for _, mem := range members {
			if mem.GuildID == guildID {
				member = true
				break
			}
		}
		if !member {
			return fmt.Errorf("%w: guild %s in group %d", errs.ErrGroupMemberNotFound, guildID, groupID)
		}

		if err := tx.Group.ClearPrimary(ctx, groupID); err != nil {
			return err
		}
		affected, err := tx.Group.MarkPrimary(ctx, groupID, guildID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: guild %s in group %d", errs.ErrGroupMemberNotFound, guildID, groupID)
		}
		return nil
	})
}

// Usage reports the stored capacity counters of a subscription.
func (m *Manager) Usage(ctx context.Context, subscriptionID string) (Usage, error) {
	sub, err := m.store.Repositories().Subscription.GetBySubscriptionID(ctx, subscriptionID)
	if errs.IsNotFound(err) {
		return Usage{}, fmt.Errorf("%w: %s", errs.ErrSubscriptionNotFound, subscriptionID)
	}
	if err != nil {
		return Usage{}, err
	}
	return Usage{SubscriptionID: sub.SubscriptionID, UsedServers: sub.UsedServers, MaxServers: sub.MaxServers}, nil
}

// Reconcile rewrites UsedServers from a recount of active allocations.
func (m *Manager) Reconcile(ctx context.Context, subscriptionID string) (Usage, error) {
	var usage Usage
	err := m.atomic(ctx, "reconcile", func(ctx context.Context, tx *repository.Repositories) error {
		sub, err := lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		before := sub.UsedServers
		used, err := m.recount(ctx, tx, sub)
		if err != nil {
			return err
		}
		if before != used {
			log.Warnf("[Allocation] subscription %s counter drifted: stored %d, counted %d", subscriptionID, before, used)
		}
		usage = Usage{SubscriptionID: subscriptionID, UsedServers: used, MaxServers: sub.MaxServers}
		return nil
	})
	return usage, err
}

// ReconcileAll reconciles every subscription page by page and returns how
// many were checked. Cancelled subscriptions that still hold guilds are
// released.
func (m *Manager) ReconcileAll(ctx context.Context) (int, error) {
	var (
		merr    *multierror.Error
		checked int
		afterID uint
	)
	repos := m.store.Repositories()
	for {
		page, err := repos.Subscription.ListAfter(ctx, afterID, reconcilePageSize)
		if err != nil {
			return checked, multierror.Append(merr, err).ErrorOrNil()
		}
		for _, sub := range page {
			usage, err := m.Reconcile(ctx, sub.SubscriptionID)
			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("reconcile %s: %w", sub.SubscriptionID, err))
				continue
			}
			checked++
			// Finishes a cancellation cascade that was interrupted.
			if sub.IsCancelled() && usage.UsedServers > 0 {
				released, err := m.DeallocateAll(ctx, sub.SubscriptionID)
				if err != nil {
					merr = multierror.Append(merr, fmt.Errorf("release %s: %w", sub.SubscriptionID, err))
				}
				log.Warnf("[Allocation] cancelled subscription %s still held %d guilds, released %d", sub.SubscriptionID, usage.UsedServers, released)
			}
		}
		if len(page) < reconcilePageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}
	return checked, merr.ErrorOrNil()
}

// DeallocateAll releases every guild of a subscription, one transaction per
// guild. It is the cancellation cascade.
func (m *Manager) DeallocateAll(ctx context.Context, subscriptionID string) (int, error) {
	active, err := m.store.Repositories().Allocation.ListActiveBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	var merr *multierror.Error
	released := 0
	for _, a := range active {
		if _, err := m.Deallocate(ctx, subscriptionID, a.GuildID); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("deallocate %s: %w", a.GuildID, err))
			continue
		}
		released++
	}
	return released, merr.ErrorOrNil()
}

// RefreshSnapshot copies the subscription's current period fields onto
// every guild allocated to it.
func (m *Manager) RefreshSnapshot(ctx context.Context, subscriptionID string) (int, error) {
	active, err := m.store.Repositories().Allocation.ListActiveBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	var merr *multierror.Error
	refreshed := 0
	for _, a := range active {
		guildID := a.GuildID
		err := m.atomic(ctx, "refresh snapshot", func(ctx context.Context, tx *repository.Repositories) error {
			guild, err := tx.Guild.Lock(ctx, guildID)
			if err != nil {
				return err
			}
			sub, err := lockSubscription(ctx, tx, subscriptionID)
			if err != nil {
				return err
			}
			current, err := tx.Allocation.FindActiveByGuild(ctx, guildID)
			if errs.IsNotFound(err) || (err == nil && current.SubscriptionID != subscriptionID) {
				return nil
			}
			if err != nil {
				return err
			}
			guild.ApplySubscription(sub)
			return tx.Guild.Save(ctx, guild)
		})
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("refresh %s: %w", guildID, err))
			continue
		}
		refreshed++
	}
	return refreshed, merr.ErrorOrNil()
}

// atomic runs fn in one bounded transaction. A timeout rolls everything back
// and surfaces as errs.ErrConflictRetryable.
func (m *Manager) atomic(ctx context.Context, op string, fn func(ctx context.Context, tx *repository.Repositories) error) error {
	started := time.Now()
	tctx, cancel := context.WithTimeout(ctx, m.txTimeout)
	defer cancel()

	err := m.store.Transaction(tctx, func(tx *repository.Repositories) error {
		return fn(tctx, tx)
	})
	metrics.ObserveAllocation(op, started, err)
	if errs.IsPersistence(err) {
		log.Errorf("[Allocation] %s failed: %v", op, err)
	}
	return err
}

func (m *Manager) recount(ctx context.Context, tx *repository.Repositories, sub *models.Subscription) (int, error) {
	used, err := tx.Allocation.CountActive(ctx, sub.SubscriptionID)
	if err != nil {
		return 0, err
	}
	if used != sub.UsedServers {
		if err := tx.Subscription.SetUsedServers(ctx, sub.SubscriptionID, used); err != nil {
			return 0, err
		}
		sub.UsedServers = used
	}
	return used, nil
}

func lockSubscription(ctx context.Context, tx *repository.Repositories, subscriptionID string) (*models.Subscription, error) {
	sub, err := tx.Subscription.LockBySubscriptionID(ctx, subscriptionID)
	if errs.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", errs.ErrSubscriptionNotFound, subscriptionID)
	}
	return sub, err
}

func requireIDs(subscriptionID, guildID string) error {
	if strings.TrimSpace(subscriptionID) == "" || strings.TrimSpace(guildID) == "" {
		return fmt.Errorf("%w: subscription id and guild id are required", errs.ErrInvalidInput)
	}
	return nil
}
