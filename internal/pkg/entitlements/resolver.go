package entitlements

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

const (
	DefaultBatchSize   = 200
	DefaultParallelism = 4
)

// Scope selects the guilds a bulk toggle writes to: either AllGuilds or a
// single GuildID.
type Scope struct {
	AllGuilds bool
	GuildID   string
}

// AllGuildsScope targets every guild.
func AllGuildsScope() Scope { return Scope{AllGuilds: true} }

// GuildScope targets one guild.
func GuildScope(guildID string) Scope { return Scope{GuildID: guildID} }

// BulkResult summarizes a bulk toggle.
type BulkResult struct {
	Guilds        int `json:"guilds"`
	Written       int `json:"written"`
	Skipped       int `json:"skipped"`
	FailedBatches int `json:"failed_batches"`
}

// Resolver computes effective feature sets and keeps GuildFeature rows in
// step with a guild's premium status.
type Resolver struct {
	store       repository.Store
	repos       *repository.Repositories
	batchSize   int
	parallelism int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBatchSize sets how many guilds one bulk-toggle transaction covers.
func WithBatchSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithParallelism bounds how many bulk-toggle batches run at once.
func WithParallelism(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// NewResolver creates a resolver reading through the store's autocommit repositories.
func NewResolver(store repository.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		repos:       store.Repositories(),
		batchSize:   DefaultBatchSize,
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithRepositories returns a copy bound to tx. Every read and write of the
// copy joins the caller's transaction and it never opens one of its own.
func (r *Resolver) WithRepositories(tx *repository.Repositories) *Resolver {
	bound := *r
	bound.store = nil
	bound.repos = tx
	return &bound
}

// ResolveEnabledFeatures returns the sorted effective feature keys for a
// guild. An unknown guild resolves as a free guild without overrides.
func (r *Resolver) ResolveEnabledFeatures(ctx context.Context, guildID string) ([]string, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, fmt.Errorf("%w: guild id is required", errs.ErrInvalidInput)
	}

	premium := false
	guild, err := r.repos.Guild.Get(ctx, guildID)
	switch {
	case err == nil:
		premium = guild.Premium
	case !errs.IsNotFound(err):
		return nil, err
	}

	catalog, err := r.repos.Feature.List(ctx)
	if err != nil {
		return nil, err
	}
	defaults, err := r.repos.Feature.ListDefaults(ctx)
	if err != nil {
		return nil, err
	}
	var overrides []models.GuildFeature
	if guild != nil {
		overrides, err = r.repos.GuildFeature.ListByGuild(ctx, guildID)
		if err != nil {
			return nil, err
		}
	}
	return EffectiveFeatures(catalog, defaults, overrides, premium), nil
}

// OnPremiumLost writes enabled=false for every premium-only feature of the
// guild. Only the allocation manager calls it, through a transaction-bound
// resolver.
func (r *Resolver) OnPremiumLost(ctx context.Context, guildID string) error {
	catalog, err := r.repos.Feature.List(ctx)
	if err != nil {
		return err
	}
	rows := make([]models.GuildFeature, 0, len(catalog))
	for _, f := range catalog {
		if f.IsPremiumOnly() {
			rows = append(rows, models.GuildFeature{GuildID: guildID, FeatureKey: f.FeatureKey, Enabled: false})
		}
	}
	if err := r.repos.GuildFeature.Upsert(ctx, rows); err != nil {
		return err
	}
	log.Infof("[Entitlements] guild %s lost premium, disabled %d premium features", guildID, len(rows))
	return nil
}

// OnPremiumGained enables every premium-only feature that is on by default.
func (r *Resolver) OnPremiumGained(ctx context.Context, guildID string) error {
	catalog, err := r.repos.Feature.List(ctx)
	if err != nil {
		return err
	}
	defaults, err := r.defaultMap(ctx)
	if err != nil {
		return err
	}
	var rows []models.GuildFeature
	for _, f := range catalog {
		if f.IsPremiumOnly() && defaults[f.FeatureKey] {
			rows = append(rows, models.GuildFeature{GuildID: guildID, FeatureKey: f.FeatureKey, Enabled: true})
		}
	}
	if err := r.repos.GuildFeature.Upsert(ctx, rows); err != nil {
		return err
	}
	log.Infof("[Entitlements] guild %s gained premium, enabled %d premium features", guildID, len(rows))
	return nil
}

// SeedGuild writes the default value of every free feature for a new guild.
// Existing override rows are left alone.
func (r *Resolver) SeedGuild(ctx context.Context, guildID string) error {
	catalog, err := r.repos.Feature.List(ctx)
	if err != nil {
		return err
	}
	defaults, err := r.defaultMap(ctx)
	if err != nil {
		return err
	}
	var rows []models.GuildFeature
	for _, f := range catalog {
		if f.IsPremiumOnly() {
			continue
		}
		if enabled, ok := defaults[f.FeatureKey]; ok {
			rows = append(rows, models.GuildFeature{GuildID: guildID, FeatureKey: f.FeatureKey, Enabled: enabled})
		}
	}
	return r.repos.GuildFeature.InsertMissing(ctx, rows)
}

// ApplyBulkToggle upserts GuildFeature rows for the scope. Re-running it with
// the same arguments writes the same rows. Enabling a premium-only feature
// is refused for a single non-premium guild and skipped for such guilds in
// the all-guilds scope.
func (r *Resolver) ApplyBulkToggle(ctx context.Context, scope Scope, featureKeys []string, enabled bool) (BulkResult, error) {
	features, err := r.lookupFeatures(ctx, featureKeys)
	if err != nil {
		return BulkResult{}, err
	}

	if !scope.AllGuilds {
		if strings.TrimSpace(scope.GuildID) == "" {
			return BulkResult{}, fmt.Errorf("%w: scope needs a guild id or all guilds", errs.ErrInvalidInput)
		}
		return r.toggleGuild(ctx, scope.GuildID, features, enabled)
	}
	return r.toggleAllGuilds(ctx, features, enabled)
}

func (r *Resolver) toggleGuild(ctx context.Context, guildID string, features []models.Feature, enabled bool) (BulkResult, error) {
	var result BulkResult
	err := r.inTransaction(ctx, func(tx *repository.Repositories) error {
		guild, err := tx.Guild.Lock(ctx, guildID)
		if errs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", errs.ErrGuildNotFound, guildID)
		}
		if err != nil {
			return err
		}
		rows, skipped := toggleRows(guild, features, enabled)
		if skipped > 0 {
			return fmt.Errorf("%w: guild %s is not premium", errs.ErrPremiumRequired, guildID)
		}
		if err := tx.GuildFeature.Upsert(ctx, rows); err != nil {
			return err
		}
		result = BulkResult{Guilds: 1, Written: len(rows)}
		return nil
	})
	return result, err
}

func (r *Resolver) toggleAllGuilds(ctx context.Context, features []models.Feature, enabled bool) (BulkResult, error) {
	var (
		mu     sync.Mutex
		result BulkResult
		merr   *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	var afterID uint
	for {
		page, err := r.repos.Guild.ListAfter(ctx, afterID, r.batchSize)
		if err != nil {
			mu.Lock()
			merr = multierror.Append(merr, fmt.Errorf("list guilds after %d: %w", afterID, err))
			mu.Unlock()
			break
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		ids := make([]string, len(page))
		for i, guild := range page {
			ids[i] = guild.GuildID
		}
		g.Go(func() error {
			written, skipped, err := r.toggleBatch(gctx, ids, features, enabled)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailedBatches++
				merr = multierror.Append(merr, fmt.Errorf("batch ending at guild %s: %w", ids[len(ids)-1], err))
				return nil
			}
			result.Guilds += len(ids)
			result.Written += written
			result.Skipped += skipped
			return nil
		})

		if len(page) < r.batchSize {
			break
		}
	}
	_ = g.Wait()

	log.Infof("[Entitlements] bulk toggle %d features enabled=%t: %d guilds, %d rows, %d skipped, %d failed batches",
		len(features), enabled, result.Guilds, result.Written, result.Skipped, result.FailedBatches)
	return result, merr.ErrorOrNil()
}

func (r *Resolver) toggleBatch(ctx context.Context, guildIDs []string, features []models.Feature, enabled bool) (int, int, error) {
	written, skipped := 0, 0
	err := r.inTransaction(ctx, func(tx *repository.Repositories) error {
		written, skipped = 0, 0
		var rows []models.GuildFeature
		for _, guildID := range guildIDs {
			guild, err := tx.Guild.Lock(ctx, guildID)
			if errs.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			guildRows, guildSkipped := toggleRows(guild, features, enabled)
			rows = append(rows, guildRows...)
			skipped += guildSkipped
		}
		if err := tx.GuildFeature.Upsert(ctx, rows); err != nil {
			return err
		}
		written = len(rows)
		return nil
	})
	return written, skipped, err
}

func toggleRows(guild *models.Guild, features []models.Feature, enabled bool) ([]models.GuildFeature, int) {
	plan := PlanFor(guild.Premium)
	rows := make([]models.GuildFeature, 0, len(features))
	skipped := 0
	for _, f := range features {
		if enabled && !Allows(plan, f.MinimumPackage) {
			skipped++
			continue
		}
		rows = append(rows, models.GuildFeature{GuildID: guild.GuildID, FeatureKey: f.FeatureKey, Enabled: enabled})
	}
	return rows, skipped
}

func (r *Resolver) lookupFeatures(ctx context.Context, featureKeys []string) ([]models.Feature, error) {
	if len(featureKeys) == 0 {
		return nil, fmt.Errorf("%w: at least one feature key is required", errs.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(featureKeys))
	features := make([]models.Feature, 0, len(featureKeys))
	for _, raw := range featureKeys {
		key := strings.TrimSpace(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		f, err := r.repos.Feature.GetByKey(ctx, key)
		if errs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrFeatureNotFound, key)
		}
		if err != nil {
			return nil, err
		}
		features = append(features, *f)
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: at least one feature key is required", errs.ErrInvalidInput)
	}
	return features, nil
}

func (r *Resolver) defaultMap(ctx context.Context) (map[string]bool, error) {
	defaults, err := r.repos.Feature.ListDefaults(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(defaults))
	for _, d := range defaults {
		out[d.FeatureKey] = d.Enabled
	}
	return out, nil
}

// inTransaction joins the bound transaction when there is one.
func (r *Resolver) inTransaction(ctx context.Context, fn func(tx *repository.Repositories) error) error {
	if r.store == nil {
		return fn(r.repos)
	}
	return r.store.Transaction(ctx, fn)
}
