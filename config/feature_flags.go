package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/core"
)

// Feature is one scheduling toggle and its rollout.
type Feature struct {
	Name        string
	Description string

	// Percent of learners, bucketed by a hash of their ID, that get the
	// feature. 0 is off and 100 is everyone.
	Percent int

	// Pilots always get the feature while its window is open, whatever
	// the percentage.
	Pilots []string

	// From and Until bound the window; zero means unbounded.
	From  time.Time
	Until time.Time
}

func (f Feature) open(at time.Time) bool {
	return (f.From.IsZero() || !at.Before(f.From)) && (f.Until.IsZero() || at.Before(f.Until))
}

var defaultFeatures = []Feature{
	{Name: core.FeatureInterleaving, Description: "Serve an interleaving slice from neighbouring domains"},
	{Name: core.FeatureRecoveryDay, Description: "Serve an easier recovery mix after two difficult days"},
	{Name: core.FeatureDayOneSoftening, Description: "Start the first session one band below the starting band"},
	{Name: core.FeatureRecallDomains, Description: "Let next-domain suggestions revisit completed domains"},
}

// FeatureFlags answers core.Features from a fixed set of features. A learner
// stays in the same rollout bucket for a feature across processes and
// restarts.
type FeatureFlags struct {
	features map[string]Feature
	now      func() time.Time
}

var _ core.Features = (*FeatureFlags)(nil)

// NewFeatureFlags returns every scheduling feature fully on.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]Feature, len(defaultFeatures)), now: time.Now}
	for _, f := range defaultFeatures {
		f.Percent = 100
		ff.features[f.Name] = f
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_* variables to the defaults. For a feature
// named "mix.recovery_day":
//
//	FEATURE_MIX_RECOVERY_DAY=false            off for everyone
//	FEATURE_MIX_RECOVERY_DAY=25               on for a quarter of learners
//	FEATURE_MIX_RECOVERY_DAY_PILOTS=l-1,l-2   always on for these learners
//	FEATURE_MIX_RECOVERY_DAY_FROM=2026-04-01T00:00:00Z
//	FEATURE_MIX_RECOVERY_DAY_UNTIL=2026-05-01T00:00:00Z
func LoadFeatureFlags() (*FeatureFlags, error) {
	return parseFeatureFlags(os.LookupEnv)
}

func parseFeatureFlags(lookup func(string) (string, bool)) (*FeatureFlags, error) {
	ff := NewFeatureFlags()
	var errs []error
	for name, f := range ff.features {
		key := featureEnvKey(name)

		if v, ok := lookup(key); ok && v != "" {
			p, err := parsePercent(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
			f.Percent = p
		}
		if v, ok := lookup(key + "_PILOTS"); ok {
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					f.Pilots = append(f.Pilots, id)
				}
			}
		}
		for suffix, dst := range map[string]*time.Time{"_FROM": &f.From, "_UNTIL": &f.Until} {
			v, ok := lookup(key + suffix)
			if !ok || v == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", key, suffix, err))
				continue
			}
			*dst = t
		}
		if !f.From.IsZero() && !f.Until.IsZero() && !f.From.Before(f.Until) {
			errs = append(errs, fmt.Errorf("%s: window ends before it starts", key))
		}
		ff.features[name] = f
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ff, nil
}

// parsePercent accepts a boolean or a percentage such as "25" or "25%".
func parsePercent(v string) (int, error) {
	if b, err := strconv.ParseBool(v); err == nil {
		if b {
			return 100, nil
		}
		return 0, nil
	}
	p, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
	if err != nil || p < 0 || p > 100 {
		return 0, fmt.Errorf("want true, false or a percentage 0-100, got %q", v)
	}
	return p, nil
}

// featureEnvKey maps "mix.recovery_day" to "FEATURE_MIX_RECOVERY_DAY".
func featureEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// Enabled implements core.Features. Unknown features are off, and a partial
// rollout never applies to an anonymous caller.
func (ff *FeatureFlags) Enabled(featureName, learnerID string) bool {
	f, ok := ff.features[featureName]
	if !ok || !f.open(ff.now()) {
		return false
	}
	switch {
	case learnerID != "" && slices.Contains(f.Pilots, learnerID):
		return true
	case f.Percent >= 100:
		return true
	case f.Percent <= 0 || learnerID == "":
		return false
	}
	return rolloutBucket(featureName, learnerID) < f.Percent
}

// rolloutBucket hashes feature and learner into [0, 100).
func rolloutBucket(featureName, learnerID string) int {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(learnerID))
	return int(h.Sum32() % 100)
}

// List returns the features sorted by name.
func (ff *FeatureFlags) List() []Feature {
	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		f.Pilots = slices.Clone(f.Pilots)
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
