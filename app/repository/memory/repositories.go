package memory

import (
	"context"
	"sort"
	"time"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
)

type subscriptionRepo struct{ v *view }

func (r *subscriptionRepo) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var out *models.Subscription
	err := r.v.do(ctx, "Subscription.GetBySubscriptionID", func(st *state) error {
		sub, ok := st.subscriptions[subscriptionID]
		if !ok {
			return notFound("subscription", subscriptionID)
		}
		out = &sub
		return nil
	})
	return out, err
}

func (r *subscriptionRepo) LockBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	return r.GetBySubscriptionID(ctx, subscriptionID)
}

func (r *subscriptionRepo) Upsert(ctx context.Context, sub *models.Subscription) error {
	return r.v.do(ctx, "Subscription.Upsert", func(st *state) error {
		now := r.v.store.now()
		existing, ok := st.subscriptions[sub.SubscriptionID]
		row := *sub
		if ok {
			row.ID = existing.ID
			row.UsedServers = existing.UsedServers
			row.CreatedAt = existing.CreatedAt
		} else {
			row.ID = st.id()
			row.UsedServers = 0
			row.CreatedAt = now
		}
		row.UpdatedAt = now
		st.subscriptions[sub.SubscriptionID] = row
		*sub = row
		return nil
	})
}

func (r *subscriptionRepo) SetUsedServers(ctx context.Context, subscriptionID string, used int) error {
	return r.v.do(ctx, "Subscription.SetUsedServers", func(st *state) error {
		sub, ok := st.subscriptions[subscriptionID]
		if !ok {
			return nil
		}
		sub.UsedServers = used
		sub.UpdatedAt = r.v.store.now()
		st.subscriptions[subscriptionID] = sub
		return nil
	})
}

func (r *subscriptionRepo) ListAfter(ctx context.Context, afterID uint, limit int) ([]models.Subscription, error) {
	var out []models.Subscription
	err := r.v.do(ctx, "Subscription.ListAfter", func(st *state) error {
		for _, sub := range st.subscriptions {
			if sub.ID > afterID {
				out = append(out, sub)
			}
		}
		sortByID(out, func(s models.Subscription) uint { return s.ID })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := r.v.do(ctx, "Subscription.CountByStatus", func(st *state) error {
		for _, sub := range st.subscriptions {
			if len(statuses) == 0 || contains(statuses, sub.Status) {
				count++
			}
		}
		return nil
	})
	return count, err
}

type allocationRepo struct{ v *view }

func (r *allocationRepo) Find(ctx context.Context, subscriptionID, guildID string) (*models.ServerAllocation, error) {
	var out *models.ServerAllocation
	err := r.v.do(ctx, "Allocation.Find", func(st *state) error {
		for _, a := range st.allocations {
			if a.SubscriptionID == subscriptionID && a.GuildID == guildID {
				row := a
				out = &row
				return nil
			}
		}
		return notFound("allocation", subscriptionID+"/"+guildID)
	})
	return out, err
}

func (r *allocationRepo) FindActiveByGuild(ctx context.Context, guildID string) (*models.ServerAllocation, error) {
	var out *models.ServerAllocation
	err := r.v.do(ctx, "Allocation.FindActiveByGuild", func(st *state) error {
		for _, a := range st.allocations {
			if a.GuildID == guildID && a.IsActive {
				row := a
				out = &row
				return nil
			}
		}
		return notFound("allocation for guild", guildID)
	})
	return out, err
}

func (r *allocationRepo) Save(ctx context.Context, allocation *models.ServerAllocation) error {
	return r.v.do(ctx, "Allocation.Save", func(st *state) error {
		now := r.v.store.now()
		if allocation.ID == 0 {
			for _, a := range st.allocations {
				if a.SubscriptionID == allocation.SubscriptionID && a.GuildID == allocation.GuildID {
					return duplicate("allocation", a.SubscriptionID+"/"+a.GuildID)
				}
			}
			allocation.ID = st.id()
			allocation.CreatedAt = now
			allocation.UpdatedAt = now
			st.allocations = append(st.allocations, *allocation)
			return nil
		}
		for i, a := range st.allocations {
			if a.ID == allocation.ID {
				allocation.UpdatedAt = now
				st.allocations[i] = *allocation
				return nil
			}
		}
		return notFound("allocation", allocation.GuildID)
	})
}

func (r *allocationRepo) CountActive(ctx context.Context, subscriptionID string) (int, error) {
	count := 0
	err := r.v.do(ctx, "Allocation.CountActive", func(st *state) error {
		for _, a := range st.allocations {
			if a.SubscriptionID == subscriptionID && a.IsActive {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *allocationRepo) ListActiveBySubscription(ctx context.Context, subscriptionID string) ([]models.ServerAllocation, error) {
	var out []models.ServerAllocation
	err := r.v.do(ctx, "Allocation.ListActiveBySubscription", func(st *state) error {
		for _, a := range st.allocations {
			if a.SubscriptionID == subscriptionID && a.IsActive {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

type guildRepo struct{ v *view }

func (r *guildRepo) Get(ctx context.Context, guildID string) (*models.Guild, error) {
	var out *models.Guild
	err := r.v.do(ctx, "Guild.Get", func(st *state) error {
		g, ok := st.guilds[guildID]
		if !ok {
			return notFound("guild", guildID)
		}
		out = &g
		return nil
	})
	return out, err
}

func (r *guildRepo) Lock(ctx context.Context, guildID string) (*models.Guild, error) {
	return r.Get(ctx, guildID)
}

func (r *guildRepo) LockOrCreate(ctx context.Context, guildID string) (*models.Guild, bool, error) {
	var out *models.Guild
	created := false
	err := r.v.do(ctx, "Guild.LockOrCreate", func(st *state) error {
		g, ok := st.guilds[guildID]
		if !ok {
			now := r.v.store.now()
			g = models.Guild{ID: st.id(), GuildID: guildID, CreatedAt: now, UpdatedAt: now}
			st.guilds[guildID] = g
			created = true
		}
		out = &g
		return nil
	})
	return out, created, err
}

func (r *guildRepo) Save(ctx context.Context, guild *models.Guild) error {
	return r.v.do(ctx, "Guild.Save", func(st *state) error {
		now := r.v.store.now()
		if existing, ok := st.guilds[guild.GuildID]; ok {
			guild.ID = existing.ID
			guild.CreatedAt = existing.CreatedAt
		} else {
			guild.ID = st.id()
			guild.CreatedAt = now
		}
		guild.UpdatedAt = now
		st.guilds[guild.GuildID] = *guild
		return nil
	})
}

func (r *guildRepo) ListAfter(ctx context.Context, afterID uint, limit int) ([]models.Guild, error) {
	var out []models.Guild
	err := r.v.do(ctx, "Guild.ListAfter", func(st *state) error {
		for _, g := range st.guilds {
			if g.ID > afterID {
				out = append(out, g)
			}
		}
		sortByID(out, func(g models.Guild) uint { return g.ID })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *guildRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.v.do(ctx, "Guild.Count", func(st *state) error {
		count = int64(len(st.guilds))
		return nil
	})
	return count, err
}

func (r *guildRepo) CountPremium(ctx context.Context) (int64, error) {
	var count int64
	err := r.v.do(ctx, "Guild.CountPremium", func(st *state) error {
		for _, g := range st.guilds {
			if g.Premium {
				count++
			}
		}
		return nil
	})
	return count, err
}

type featureRepo struct{ v *view }

func (r *featureRepo) List(ctx context.Context) ([]models.Feature, error) {
	var out []models.Feature
	err := r.v.do(ctx, "Feature.List", func(st *state) error {
		for _, f := range st.features {
			out = append(out, f)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].FeatureKey < out[j].FeatureKey })
		return nil
	})
	return out, err
}

func (r *featureRepo) GetByKey(ctx context.Context, featureKey string) (*models.Feature, error) {
	var out *models.Feature
	err := r.v.do(ctx, "Feature.GetByKey", func(st *state) error {
		f, ok := st.features[featureKey]
		if !ok {
			return notFound("feature", featureKey)
		}
		out = &f
		return nil
	})
	return out, err
}

func (r *featureRepo) Upsert(ctx context.Context, feature *models.Feature) error {
	return r.v.do(ctx, "Feature.Upsert", func(st *state) error {
		now := r.v.store.now()
		if existing, ok := st.features[feature.FeatureKey]; ok {
			feature.ID = existing.ID
			feature.CreatedAt = existing.CreatedAt
		} else {
			feature.ID = st.id()
			feature.CreatedAt = now
		}
		feature.UpdatedAt = now
		st.features[feature.FeatureKey] = *feature
		return nil
	})
}

func (r *featureRepo) SetActive(ctx context.Context, featureKey string, active bool) error {
	return r.v.do(ctx, "Feature.SetActive", func(st *state) error {
		f, ok := st.features[featureKey]
		if !ok {
			return notFound("feature", featureKey)
		}
		f.IsActive = active
		f.UpdatedAt = r.v.store.now()
		st.features[featureKey] = f
		return nil
	})
}

func (r *featureRepo) ListDefaults(ctx context.Context) ([]models.FeatureDefault, error) {
	var out []models.FeatureDefault
	err := r.v.do(ctx, "Feature.ListDefaults", func(st *state) error {
		for _, d := range st.defaults {
			out = append(out, d)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].FeatureKey < out[j].FeatureKey })
		return nil
	})
	return out, err
}

func (r *featureRepo) SetDefault(ctx context.Context, featureKey string, enabled bool) error {
	return r.v.do(ctx, "Feature.SetDefault", func(st *state) error {
		now := r.v.store.now()
		d, ok := st.defaults[featureKey]
		if !ok {
			d = models.FeatureDefault{ID: st.id(), FeatureKey: featureKey, CreatedAt: now}
		}
		d.Enabled = enabled
		d.UpdatedAt = now
		st.defaults[featureKey] = d
		return nil
	})
}

type guildFeatureRepo struct{ v *view }

func (r *guildFeatureRepo) ListByGuild(ctx context.Context, guildID string) ([]models.GuildFeature, error) {
	var out []models.GuildFeature
	err := r.v.do(ctx, "GuildFeature.ListByGuild", func(st *state) error {
		for _, row := range st.guildFeatures[guildID] {
			out = append(out, row)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].FeatureKey < out[j].FeatureKey })
		return nil
	})
	return out, err
}

func (r *guildFeatureRepo) Upsert(ctx context.Context, rows []models.GuildFeature) error {
	return r.v.do(ctx, "GuildFeature.Upsert", func(st *state) error {
		r.write(st, rows, true)
		return nil
	})
}

func (r *guildFeatureRepo) InsertMissing(ctx context.Context, rows []models.GuildFeature) error {
	return r.v.do(ctx, "GuildFeature.InsertMissing", func(st *state) error {
		r.write(st, rows, false)
		return nil
	})
}

func (r *guildFeatureRepo) write(st *state, rows []models.GuildFeature, overwrite bool) {
	now := r.v.store.now()
	for _, row := range rows {
		byKey, ok := st.guildFeatures[row.GuildID]
		if !ok {
			byKey = map[string]models.GuildFeature{}
			st.guildFeatures[row.GuildID] = byKey
		}
		existing, exists := byKey[row.FeatureKey]
		if exists && !overwrite {
			continue
		}
		if exists {
			existing.Enabled = row.Enabled
			existing.UpdatedAt = now
			byKey[row.FeatureKey] = existing
			continue
		}
		row.ID = st.id()
		row.CreatedAt = now
		row.UpdatedAt = now
		byKey[row.FeatureKey] = row
	}
}

type groupRepo struct{ v *view }

func (r *groupRepo) Create(ctx context.Context, group *models.ServerGroup) error {
	return r.v.do(ctx, "Group.Create", func(st *state) error {
		now := r.v.store.now()
		group.ID = st.id()
		group.CreatedAt = now
		group.UpdatedAt = now
		st.groups[group.ID] = *group
		return nil
	})
}

func (r *groupRepo) AddMember(ctx context.Context, member *models.ServerGroupMember) error {
	return r.v.do(ctx, "Group.AddMember", func(st *state) error {
		for _, m := range st.members {
			if m.GroupID == member.GroupID && m.GuildID == member.GuildID {
				return duplicate("group member", member.GuildID)
			}
		}
		now := r.v.store.now()
		member.ID = st.id()
		member.CreatedAt = now
		member.UpdatedAt = now
		st.members = append(st.members, *member)
		return nil
	})
}

func (r *groupRepo) ListMembers(ctx context.Context, groupID uint) ([]models.ServerGroupMember, error) {
	var out []models.ServerGroupMember
	err := r.v.do(ctx, "Group.ListMembers", func(st *state) error {
		for _, m := range st.members {
			if m.GroupID == groupID {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

func (r *groupRepo) LockMembers(ctx context.Context, groupID uint) ([]models.ServerGroupMember, error) {
	return r.ListMembers(ctx, groupID)
}

func (r *groupRepo) ClearPrimary(ctx context.Context, groupID uint) error {
	return r.v.do(ctx, "Group.ClearPrimary", func(st *state) error {
		for i := range st.members {
			if st.members[i].GroupID == groupID {
				st.members[i].IsPrimary = false
			}
		}
		return nil
	})
}

func (r *groupRepo) MarkPrimary(ctx context.Context, groupID uint, guildID string) (int64, error) {
	var affected int64
	err := r.v.do(ctx, "Group.MarkPrimary", func(st *state) error {
		for i := range st.members {
			if st.members[i].GroupID == groupID && st.members[i].GuildID == guildID {
				st.members[i].IsPrimary = true
				st.members[i].UpdatedAt = r.v.store.now()
				affected++
			}
		}
		return nil
	})
	return affected, err
}

type quotaRepo struct{ v *view }

func (r *quotaRepo) InsertEvent(ctx context.Context, event *models.QuotaEvent) error {
	return r.v.do(ctx, "Quota.InsertEvent", func(st *state) error {
		event.ID = st.id()
		if event.CreatedAt.IsZero() {
			event.CreatedAt = r.v.store.now()
		}
		st.events = append(st.events, *event)
		return nil
	})
}

func (r *quotaRepo) SumSince(ctx context.Context, service, quotaType string, since time.Time) (int64, error) {
	var total int64
	err := r.v.do(ctx, "Quota.SumSince", func(st *state) error {
		for _, e := range st.events {
			if e.Service == service && e.QuotaType == quotaType && !e.CreatedAt.Before(since) {
				total += e.Count
			}
		}
		return nil
	})
	return total, err
}

func (r *quotaRepo) StatsSince(ctx context.Context, service string, since time.Time) ([]repository.QuotaTypeStats, error) {
	var out []repository.QuotaTypeStats
	err := r.v.do(ctx, "Quota.StatsSince", func(st *state) error {
		byType := map[string]*repository.QuotaTypeStats{}
		for _, e := range st.events {
			if e.Service != service || e.CreatedAt.Before(since) {
				continue
			}
			s, ok := byType[e.QuotaType]
			if !ok {
				s = &repository.QuotaTypeStats{QuotaType: e.QuotaType}
				byType[e.QuotaType] = s
			}
			s.Total += e.Count
			s.Events++
		}
		for _, s := range byType {
			out = append(out, *s)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].QuotaType < out[j].QuotaType })
		return nil
	})
	return out, err
}

func (r *quotaRepo) InsertViolation(ctx context.Context, violation *models.QuotaViolation) error {
	return r.v.do(ctx, "Quota.InsertViolation", func(st *state) error {
		violation.ID = st.id()
		if violation.CreatedAt.IsZero() {
			violation.CreatedAt = r.v.store.now()
		}
		st.violations = append(st.violations, *violation)
		return nil
	})
}

func (r *quotaRepo) ListViolations(ctx context.Context, service string, limit int) ([]models.QuotaViolation, error) {
	var out []models.QuotaViolation
	err := r.v.do(ctx, "Quota.ListViolations", func(st *state) error {
		for _, v := range st.violations {
			if service == "" || v.Service == service {
				out = append(out, v)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].ID > out[j].ID
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *quotaRepo) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.v.do(ctx, "Quota.DeleteEventsBefore", func(st *state) error {
		kept := st.events[:0:0]
		for _, e := range st.events {
			if e.CreatedAt.Before(before) {
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		st.events = kept
		return nil
	})
	return deleted, err
}

type planMappingRepo struct{ v *view }

func planKey(provider, ref string) string {
	return provider + "|" + ref
}

func (r *planMappingRepo) FindActive(ctx context.Context, provider, providerPlanRef string) (*models.BillingPlanMapping, error) {
	var out *models.BillingPlanMapping
	err := r.v.do(ctx, "PlanMapping.FindActive", func(st *state) error {
		m, ok := st.planMappings[planKey(provider, providerPlanRef)]
		if !ok || !m.IsActive {
			return notFound("plan mapping", providerPlanRef)
		}
		out = &m
		return nil
	})
	return out, err
}

func (r *planMappingRepo) Upsert(ctx context.Context, mapping *models.BillingPlanMapping) error {
	return r.v.do(ctx, "PlanMapping.Upsert", func(st *state) error {
		key := planKey(mapping.Provider, mapping.ProviderPlanRef)
		now := r.v.store.now()
		if existing, ok := st.planMappings[key]; ok {
			mapping.ID = existing.ID
			mapping.CreatedAt = existing.CreatedAt
		} else {
			mapping.ID = st.id()
			mapping.CreatedAt = now
		}
		mapping.UpdatedAt = now
		st.planMappings[key] = *mapping
		return nil
	})
}

type webhookEventRepo struct{ v *view }

func (r *webhookEventRepo) CreateIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	created := false
	var stored *models.BillingWebhookEvent
	err := r.v.do(ctx, "WebhookEvent.CreateIfNotExists", func(st *state) error {
		for _, e := range st.webhookEvents {
			if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
				row := e
				stored = &row
				return nil
			}
		}
		now := r.v.store.now()
		event.ID = st.id()
		event.CreatedAt = now
		event.UpdatedAt = now
		st.webhookEvents = append(st.webhookEvents, *event)
		row := *event
		stored = &row
		created = true
		return nil
	})
	return created, stored, err
}

func (r *webhookEventRepo) MarkProcessed(ctx context.Context, id uint, processingError string) error {
	return r.v.do(ctx, "WebhookEvent.MarkProcessed", func(st *state) error {
		for i := range st.webhookEvents {
			if st.webhookEvents[i].ID == id {
				now := r.v.store.now()
				st.webhookEvents[i].ProcessedAt = &now
				st.webhookEvents[i].ProcessingError = processingError
				st.webhookEvents[i].UpdatedAt = now
				return nil
			}
		}
		return notFound("webhook event", "")
	})
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
