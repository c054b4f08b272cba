package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CloudSource is the slice of the cloud client the quota service reads.
type CloudSource interface {
	Subscription(ctx context.Context) (Subscription, error)
	Usage(ctx context.Context) (map[string]int64, error)
	Plans(ctx context.Context) ([]Plan, error)
}

const (
	cacheKey        = "current"
	defaultCacheTTL = time.Minute
)

// Service answers quota questions from short-lived cached cloud snapshots,
// so a burst of UI checks does not hammer the subscription endpoints.
type Service struct {
	source CloudSource

	subs  *expirable.LRU[string, Subscription]
	usage *expirable.LRU[string, map[string]int64]
	plans *expirable.LRU[string, []Plan]
}

// NewService creates a Service that caches cloud snapshots for ttl.
// A non-positive ttl falls back to one minute.
func NewService(source CloudSource, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		source: source,
		subs:   expirable.NewLRU[string, Subscription](1, nil, ttl),
		usage:  expirable.NewLRU[string, map[string]int64](1, nil, ttl),
		plans:  expirable.NewLRU[string, []Plan](1, nil, ttl),
	}
}

func (s *Service) subscription(ctx context.Context) (Subscription, error) {
	if sub, ok := s.subs.Get(cacheKey); ok {
		return sub, nil
	}
	sub, err := s.source.Subscription(ctx)
	if err != nil {
		return Subscription{}, fmt.Errorf("fetching subscription: %w", err)
	}
	s.subs.Add(cacheKey, sub)
	return sub, nil
}

func (s *Service) usageCounts(ctx context.Context) (map[string]int64, error) {
	if u, ok := s.usage.Get(cacheKey); ok {
		return u, nil
	}
	u, err := s.source.Usage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching usage: %w", err)
	}
	s.usage.Add(cacheKey, u)
	return u, nil
}

func (s *Service) planCatalog(ctx context.Context) ([]Plan, error) {
	if p, ok := s.plans.Get(cacheKey); ok {
		return p, nil
	}
	p, err := s.source.Plans(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching plans: %w", err)
	}
	s.plans.Add(cacheKey, p)
	return p, nil
}

// planLimits returns the limits of the user's plan, or an empty map when
// the catalog doesn't know the plan (every check then denies).
func (s *Service) planLimits(ctx context.Context, planID string) (map[string]Limit, error) {
	catalog, err := s.planCatalog(ctx)
	if err != nil {
		return nil, err
	}
	plan, ok := FindPlan(catalog, planID)
	if !ok {
		return map[string]Limit{}, nil
	}
	return plan.Limits, nil
}

// FeatureQuota is one row of a quota summary.
type FeatureQuota struct {
	Limit       Limit   `json:"limit"`
	Used        int64   `json:"used"`
	Remaining   Limit   `json:"remaining"`
	Percentage  float64 `json:"percentage"`
	Approaching bool    `json:"approaching"`
}

// Summary is the user's subscription state plus per-feature quota standing.
type Summary struct {
	Plan          string                  `json:"plan"`
	Status        string                  `json:"status"`
	Active        bool                    `json:"active"`
	DaysRemaining *int                    `json:"daysRemaining,omitempty"`
	ExpiringSoon  bool                    `json:"expiringSoon"`
	Features      map[string]FeatureQuota `json:"features"`
}

// Summary assembles the subscription state and every plan feature's quota
// standing from (possibly cached) cloud snapshots.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	sub, err := s.subscription(ctx)
	if err != nil {
		return Summary{}, err
	}
	usage, err := s.usageCounts(ctx)
	if err != nil {
		return Summary{}, err
	}
	limits, err := s.planLimits(ctx, sub.Plan)
	if err != nil {
		return Summary{}, err
	}

	now := time.Now().UTC()
	sum := Summary{
		Plan:         sub.Plan,
		Status:       sub.Status,
		Active:       sub.IsActive(),
		ExpiringSoon: sub.IsExpiringSoon(now),
		Features:     make(map[string]FeatureQuota, len(limits)),
	}
	if d, ok := sub.DaysRemaining(now); ok {
		sum.DaysRemaining = &d
	}

	for feature := range limits {
		sum.Features[feature] = FeatureQuota{
			Limit:       limits[feature],
			Used:        usage[feature],
			Remaining:   RemainingQuota(limits, usage, feature),
			Percentage:  UsagePercentage(limits, usage, feature),
			Approaching: IsApproachingLimit(limits, usage, feature),
		}
	}
	return sum, nil
}

// FeatureAccess is the answer to "can this user use feature X right now".
type FeatureAccess struct {
	Feature   string `json:"feature"`
	Allowed   bool   `json:"allowed"`
	Reached   bool   `json:"reached"`
	Remaining Limit  `json:"remaining"`
}

// CheckAccess combines plan access, subscription status and usage limits.
// Callers must treat an error as denial; nothing here ever fails open.
func (s *Service) CheckAccess(ctx context.Context, feature string) (FeatureAccess, error) {
	sub, err := s.subscription(ctx)
	if err != nil {
		return FeatureAccess{Feature: feature}, err
	}
	usage, err := s.usageCounts(ctx)
	if err != nil {
		return FeatureAccess{Feature: feature}, err
	}
	limits, err := s.planLimits(ctx, sub.Plan)
	if err != nil {
		return FeatureAccess{Feature: feature}, err
	}

	reached := HasReachedLimit(limits, usage, feature)
	return FeatureAccess{
		Feature:   feature,
		Allowed:   sub.IsActive() && HasFeatureAccess(sub.Plan, feature) && !reached,
		Reached:   reached,
		Remaining: RemainingQuota(limits, usage, feature),
	}, nil
}
