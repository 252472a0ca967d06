package entitlements

import (
	"sort"
	"strings"

	"github.com/sutto4/ccc-sub004/app/models"
)

type Plan string

const (
	PlanFree    Plan = models.PackageFree
	PlanPremium Plan = models.PackagePremium
)

// PlanFor returns the package tier a guild is entitled to.
func PlanFor(premium bool) Plan {
	if premium {
		return PlanPremium
	}
	return PlanFree
}

// Allows reports whether plan satisfies a feature's minimum package.
func Allows(plan Plan, minimumPackage string) bool {
	switch Plan(strings.ToLower(strings.TrimSpace(minimumPackage))) {
	case PlanPremium:
		return plan == PlanPremium
	default:
		return true
	}
}

// EffectiveFeatures combines the catalog, the default-enablement table and a
// guild's overrides. Defaults seed the set, overrides replace the default in
// either direction, and the tier gate and catalog deactivation are applied
// last so no override can get past them.
func EffectiveFeatures(catalog []models.Feature, defaults []models.FeatureDefault, overrides []models.GuildFeature, premium bool) []string {
	byKey := make(map[string]models.Feature, len(catalog))
	for _, f := range catalog {
		byKey[f.FeatureKey] = f
	}

	enabled := make(map[string]bool, len(defaults))
	for _, d := range defaults {
		if f, ok := byKey[d.FeatureKey]; ok && f.IsActive {
			enabled[d.FeatureKey] = d.Enabled
		}
	}
	for _, o := range overrides {
		enabled[o.FeatureKey] = o.Enabled
	}

	plan := PlanFor(premium)
	out := make([]string, 0, len(enabled))
	for key, on := range enabled {
		if !on {
			continue
		}
		f, ok := byKey[key]
		if !ok || !f.IsActive {
			continue
		}
		if !Allows(plan, f.MinimumPackage) {
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
