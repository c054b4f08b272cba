// Package quota answers feature-access and usage-limit questions against the
// user's NexusAI subscription. The checks are pure functions over fetched
// snapshots and fail closed: unknown plans, unknown features and missing
// limits all deny rather than allow.
package quota

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Plan identifiers as they appear in the cloud plans catalog.
const (
	PlanFree  = "free"
	PlanBasic = "basic"
	PlanPro   = "pro"
)

// Feature names shared with the cloud usage and plans endpoints.
const (
	FeatureImageGeneration = "imageGeneration"
	FeatureVideoGeneration = "videoGeneration"
	FeatureAudioGeneration = "audioGeneration"
	FeatureCodeGeneration  = "codeGeneration"
	FeatureHighResolution  = "highResolution"
	FeatureBatchProcessing = "batchProcessing"
)

var knownFeatures = map[string]bool{
	FeatureImageGeneration: true,
	FeatureVideoGeneration: true,
	FeatureAudioGeneration: true,
	FeatureCodeGeneration:  true,
	FeatureHighResolution:  true,
	FeatureBatchProcessing: true,
}

var planFeatures = map[string]map[string]bool{
	PlanFree: {
		FeatureImageGeneration: true,
		FeatureCodeGeneration:  true,
	},
	PlanBasic: {
		FeatureImageGeneration: true,
		FeatureCodeGeneration:  true,
		FeatureVideoGeneration: true,
		FeatureAudioGeneration: true,
		FeatureHighResolution:  true,
		FeatureBatchProcessing: true,
	},
}

// Limit is a per-feature quota. The cloud encodes boundless quotas as the
// string "unlimited"; locally that is the Unlimited sentinel.
type Limit int64

// Unlimited marks a feature with no usage cap.
const Unlimited Limit = -1

// IsUnlimited reports whether the limit never caps usage.
func (l Limit) IsUnlimited() bool { return l < 0 }

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(int64(l), 10)
}

// UnmarshalJSON accepts either a JSON number or the string "unlimited".
func (l *Limit) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.EqualFold(s, "unlimited") {
			*l = Unlimited
			return nil
		}
		return fmt.Errorf("invalid limit %q", s)
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*l = Limit(n)
	return nil
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsUnlimited() {
		return []byte(`"unlimited"`), nil
	}
	return json.Marshal(int64(l))
}

// HasFeatureAccess reports whether the plan's allow-list contains the
// feature. Pro allows every known feature; unknown plans and unknown
// features are denied.
func HasFeatureAccess(plan, feature string) bool {
	if !knownFeatures[feature] {
		return false
	}
	if plan == PlanPro {
		return true
	}
	return planFeatures[plan][feature]
}

// HasReachedLimit reports whether the feature's usage has hit its limit.
// An Unlimited limit is never reached; a feature absent from limits counts
// as reached. Usage absent from the counters counts as zero.
func HasReachedLimit(limits map[string]Limit, usage map[string]int64, feature string) bool {
	limit, ok := limits[feature]
	if !ok {
		return true
	}
	if limit.IsUnlimited() {
		return false
	}
	return usage[feature] >= int64(limit)
}

// RemainingQuota returns what is left of the feature's limit. Unlimited
// passes through; a feature absent from limits has nothing remaining.
func RemainingQuota(limits map[string]Limit, usage map[string]int64, feature string) Limit {
	limit, ok := limits[feature]
	if !ok {
		return 0
	}
	if limit.IsUnlimited() {
		return Unlimited
	}
	rem := int64(limit) - usage[feature]
	if rem < 0 {
		return 0
	}
	return Limit(rem)
}

// UsagePercentage returns how much of the feature's limit is used, clamped
// to [0, 100]. Unlimited limits always read as 0; a missing or zero limit
// reads as 100.
func UsagePercentage(limits map[string]Limit, usage map[string]int64, feature string) float64 {
	limit, ok := limits[feature]
	if !ok {
		return 100
	}
	if limit.IsUnlimited() {
		return 0
	}
	if limit == 0 {
		return 100
	}
	pct := float64(usage[feature]) / float64(limit) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// IsApproachingLimit reports whether the feature sits at 80% of its limit
// or above.
func IsApproachingLimit(limits map[string]Limit, usage map[string]int64, feature string) bool {
	return UsagePercentage(limits, usage, feature) >= 80
}
