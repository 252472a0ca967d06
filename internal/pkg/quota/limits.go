package quota

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// Limit is the configured ceiling for one (service, quota type) pair.
type Limit struct {
	Service   string        `json:"service"`
	QuotaType string        `json:"quota_type"`
	Limit     int64         `json:"limit"`
	Window    time.Duration `json:"window"`
}

func (l Limit) key() string {
	return l.Service + ":" + l.QuotaType
}

// DefaultLimits apply when QUOTA_LIMITS is empty.
var DefaultLimits = []Limit{
	{Service: "ai", QuotaType: "requests", Limit: 100, Window: time.Hour},
	{Service: "ai", QuotaType: "tokens", Limit: 200000, Window: 24 * time.Hour},
	{Service: "bot", QuotaType: "commands", Limit: 5000, Window: time.Hour},
}

// ParseLimits reads a comma separated list of service:type=limit/window
// entries, for example "ai:requests=100/1h,bot:commands=5000/1h".
func ParseLimits(raw string) ([]Limit, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return append([]Limit(nil), DefaultLimits...), nil
	}

	seen := map[string]bool{}
	var out []Limit
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		l, err := parseLimit(entry)
		if err != nil {
			return nil, err
		}
		if seen[l.key()] {
			return nil, fmt.Errorf("%w: duplicate quota limit %q", errs.ErrInvalidInput, l.key())
		}
		seen[l.key()] = true
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no quota limits in %q", errs.ErrInvalidInput, raw)
	}
	sortLimits(out)
	return out, nil
}

func parseLimit(entry string) (Limit, error) {
	name, rule, ok := strings.Cut(entry, "=")
	if !ok {
		return Limit{}, fmt.Errorf("%w: quota limit %q: missing '='", errs.ErrInvalidInput, entry)
	}
	service, quotaType, ok := strings.Cut(strings.TrimSpace(name), ":")
	if !ok || service == "" || quotaType == "" {
		return Limit{}, fmt.Errorf("%w: quota limit %q: expected service:type", errs.ErrInvalidInput, entry)
	}
	count, window, ok := strings.Cut(strings.TrimSpace(rule), "/")
	if !ok {
		return Limit{}, fmt.Errorf("%w: quota limit %q: expected limit/window", errs.ErrInvalidInput, entry)
	}
	n, err := strconv.ParseInt(count, 10, 64)
	if err != nil || n < 0 {
		return Limit{}, fmt.Errorf("%w: quota limit %q: bad limit", errs.ErrInvalidInput, entry)
	}
	d, err := time.ParseDuration(window)
	if err != nil || d <= 0 {
		return Limit{}, fmt.Errorf("%w: quota limit %q: bad window", errs.ErrInvalidInput, entry)
	}
	return Limit{Service: service, QuotaType: quotaType, Limit: n, Window: d}, nil
}

func sortLimits(limits []Limit) {
	sort.Slice(limits, func(i, j int) bool {
		if limits[i].Service != limits[j].Service {
			return limits[i].Service < limits[j].Service
		}
		return limits[i].QuotaType < limits[j].QuotaType
	})
}

// LongestWindow returns the widest configured window.
func LongestWindow(limits []Limit) time.Duration {
	var longest time.Duration
	for _, l := range limits {
		if l.Window > longest {
			longest = l.Window
		}
	}
	return longest
}
