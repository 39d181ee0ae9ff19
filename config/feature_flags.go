package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags toggles optional engine components. A flag can be on, off or
// rolled out to a stable percentage of users.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent is 0-100. Users are bucketed by a hash of their id.
	RolloutPercent int
}

// Predefined feature flag names.
const (
	FeatureRedisLock     = "redis.lock"     // Cross-instance per-user command lock
	FeatureProgressCache = "progress.cache" // Cached progress summaries
	FeatureEventPublish  = "events.publish" // Share events with other instances
	FeatureUnlockAll     = "achievements.unlock_all"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureRedisLock] = &Feature{
		Name:           FeatureRedisLock,
		Description:    "Serialize commands per user across instances through Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}
	ff.features[FeatureProgressCache] = &Feature{
		Name:           FeatureProgressCache,
		Description:    "Cache progress summaries in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}
	ff.features[FeatureEventPublish] = &Feature{
		Name:           FeatureEventPublish,
		Description:    "Publish domain events on Redis pub/sub",
		Enabled:        true,
		RolloutPercent: 100,
	}
	ff.features[FeatureUnlockAll] = &Feature{
		Name:           FeatureUnlockAll,
		Description:    "Unlock every satisfied achievement in one evaluation",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment applies FEATURE_<NAME>=true|false|<percent>.
// Values that are neither are ignored.
// Example: FEATURE_REDIS_LOCK=false
// Example: FEATURE_PROGRESS_CACHE=50
func (ff *FeatureFlags) loadFromEnvironment() {
	for name := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			percent := 0
			if b {
				percent = 100
			}
			_ = ff.SetRolloutPercent(name, percent)
			continue
		}

		if p, err := strconv.Atoi(val); err == nil {
			_ = ff.SetRolloutPercent(name, p)
		}
	}
}

// featureNameToEnvKey converts a feature name to its environment key.
// "redis.lock" -> "FEATURE_REDIS_LOCK"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks a feature for userID. An empty userID asks whether the
// feature is on at all, which holds for any rollout above zero.
func (ff *FeatureFlags) IsEnabled(featureName, userID string) bool {
	if ff == nil {
		return false
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && userID != "" {
		return isInRollout(userID, featureName, feature.RolloutPercent)
	}
	return feature.RolloutPercent > 0
}

// isInRollout buckets users by a hash of feature and id so a user stays in
// the same bucket while the percentage grows.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// GetAllFeatures returns copies of all features ordered by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
