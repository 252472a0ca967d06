// Package memory is an in-process implementation of repository.Store. A
// transaction works on a private copy of the state and swaps it in on
// commit, so a failed unit of work leaves nothing behind. It backs the
// service tests and the STORE_DRIVER=memory development mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

type state struct {
	nextID        uint
	subscriptions map[string]models.Subscription
	allocations   []models.ServerAllocation
	guilds        map[string]models.Guild
	features      map[string]models.Feature
	defaults      map[string]models.FeatureDefault
	guildFeatures map[string]map[string]models.GuildFeature
	groups        map[uint]models.ServerGroup
	members       []models.ServerGroupMember
	events        []models.QuotaEvent
	violations    []models.QuotaViolation
	planMappings  map[string]models.BillingPlanMapping
	webhookEvents []models.BillingWebhookEvent
}

func newState() *state {
	return &state{
		subscriptions: map[string]models.Subscription{},
		guilds:        map[string]models.Guild{},
		features:      map[string]models.Feature{},
		defaults:      map[string]models.FeatureDefault{},
		guildFeatures: map[string]map[string]models.GuildFeature{},
		groups:        map[uint]models.ServerGroup{},
		planMappings:  map[string]models.BillingPlanMapping{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.subscriptions {
		c.subscriptions[k] = v
	}
	c.allocations = append([]models.ServerAllocation(nil), s.allocations...)
	for k, v := range s.guilds {
		c.guilds[k] = v
	}
	for k, v := range s.features {
		c.features[k] = v
	}
	for k, v := range s.defaults {
		c.defaults[k] = v
	}
	for guildID, rows := range s.guildFeatures {
		m := make(map[string]models.GuildFeature, len(rows))
		for k, v := range rows {
			m[k] = v
		}
		c.guildFeatures[guildID] = m
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	c.members = append([]models.ServerGroupMember(nil), s.members...)
	c.events = append([]models.QuotaEvent(nil), s.events...)
	c.violations = append([]models.QuotaViolation(nil), s.violations...)
	for k, v := range s.planMappings {
		c.planMappings[k] = v
	}
	c.webhookEvents = append([]models.BillingWebhookEvent(nil), s.webhookEvents...)
	return c
}

func (s *state) id() uint {
	s.nextID++
	return s.nextID
}

// Store is a mutex-guarded in-memory repository.Store. Transactions are
// serialized; calling Transaction or Repositories from inside fn deadlocks.
type Store struct {
	mu     sync.Mutex
	state  *state
	now    func() time.Time
	faults map[string]error
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for timestamps written by the store.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		state:  newState(),
		now:    time.Now,
		faults: map[string]error{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailOn makes the next call of op (for example "Guild.Save") return err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// Repositories returns autocommit repositories: each call is its own unit of work.
func (s *Store) Repositories() *repository.Repositories {
	return (&view{store: s}).repositories()
}

// Transaction runs fn against a private copy of the state and commits it
// only when fn and the context both succeed.
func (s *Store) Transaction(ctx context.Context, fn func(tx *repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return errs.Classify(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	v := &view{store: s, tx: work}
	if err := fn(v.repositories()); err != nil {
		return errs.Classify(err)
	}
	if err := ctx.Err(); err != nil {
		return errs.Classify(err)
	}
	s.state = work
	return nil
}

// view is either bound to a transaction copy or autocommits against the store.
type view struct {
	store *Store
	tx    *state
}

func (v *view) repositories() *repository.Repositories {
	return &repository.Repositories{
		Subscription: &subscriptionRepo{v},
		Allocation:   &allocationRepo{v},
		Guild:        &guildRepo{v},
		Feature:      &featureRepo{v},
		GuildFeature: &guildFeatureRepo{v},
		Group:        &groupRepo{v},
		Quota:        &quotaRepo{v},
		PlanMapping:  &planMappingRepo{v},
		WebhookEvent: &webhookEventRepo{v},
	}
}

func (v *view) do(ctx context.Context, op string, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return errs.Classify(err)
	}
	if v.tx != nil {
		if err := v.store.takeFault(op); err != nil {
			return err
		}
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	if err := v.store.takeFault(op); err != nil {
		return err
	}
	return fn(v.store.state)
}

// takeFault must be called with mu held.
func (s *Store) takeFault(op string) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return errs.Classify(err)
}

func notFound(kind, key string) error {
	return fmt.Errorf("%w: %s %s", errs.ErrNotFound, kind, key)
}

func duplicate(kind, key string) error {
	return fmt.Errorf("%w: duplicate %s %s", errs.ErrPersistenceUnavailable, kind, key)
}

func sortByID[T any](rows []T, id func(T) uint) {
	sort.Slice(rows, func(i, j int) bool { return id(rows[i]) < id(rows[j]) })
}
