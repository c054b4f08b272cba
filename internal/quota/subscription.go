package quota

import (
	"math"
	"time"
)

// Subscription statuses as reported by the cloud.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusPastDue = "past_due"
)

// Subscription is the user's billing state fetched from the cloud.
type Subscription struct {
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	Amount    float64    `json:"amount"`
	Currency  string     `json:"currency"`
	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

func (s Subscription) IsActive() bool  { return s.Status == StatusActive }
func (s Subscription) IsExpired() bool { return s.Status == StatusExpired }
func (s Subscription) IsPastDue() bool { return s.Status == StatusPastDue }

// DaysRemaining returns the ceiling of the time left until the subscription
// ends, in whole days. ok is false when the subscription has no end date.
// The value goes negative once the end date has passed.
func (s Subscription) DaysRemaining(now time.Time) (int, bool) {
	if s.EndDate == nil {
		return 0, false
	}
	return int(math.Ceil(s.EndDate.Sub(now).Hours() / 24)), true
}

// IsExpiringSoon reports whether the subscription ends within the next
// seven days. Already-ended subscriptions are not "expiring".
func (s Subscription) IsExpiringSoon(now time.Time) bool {
	d, ok := s.DaysRemaining(now)
	return ok && d > 0 && d <= 7
}

// Plan is one entry of the cloud plans catalog.
type Plan struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Price  float64          `json:"price"`
	Limits map[string]Limit `json:"limits"`
}

// FindPlan looks a plan up by id in a fetched catalog.
func FindPlan(plans []Plan, id string) (Plan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
