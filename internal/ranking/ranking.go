// Package ranking holds the pure scoring functions used to order
// recommendation candidates.
package ranking

import (
	"math"
	"strings"
	"time"
)

// Blend weights.
const (
	WeightSimilarity = 0.6
	WeightLexical    = 0.2
	WeightMeta       = 0.1
	WeightFreshness  = 0.1
)

// DefaultTauDays is the freshness decay constant.
const DefaultTauDays = 30.0

// Blend combines component scores with the fixed weights.
func Blend(sim, lex, meta, fresh float64) float64 {
	return WeightSimilarity*sim + WeightLexical*lex + WeightMeta*meta + WeightFreshness*fresh
}

// Similarity maps a non-negative distance into (0, 1].
func Similarity(distance float64) float64 {
	return 1.0 / (1.0 + distance)
}

// Freshness returns exp(-days/tau) for the whole days elapsed between
// createdAt and now. A missing or unparseable timestamp scores 1.0; a
// timestamp in the future counts as zero days old.
func Freshness(createdAt string, now time.Time, tauDays float64) float64 {
	if tauDays <= 0 {
		tauDays = DefaultTauDays
	}
	created, ok := ParseTimestamp(createdAt)
	if !ok {
		return 1.0
	}
	days := math.Floor(now.Sub(created).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / tauDays)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses ISO-8601 text. Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MetaMatch scores tag overlap and series affinity, capped at 1.
func MetaMatch(userTags, candidateTags []string, sameSeries bool) float64 {
	score := 0.2 * float64(intersection(userTags, candidateTags))
	if sameSeries {
		score += 0.2
	}
	return math.Min(1.0, score)
}

func intersection(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	n := 0
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := set[s]; ok {
			n++
		}
	}
	return n
}

// Diversify keeps at most maxPerKey items per key, preserving order. Items
// with an empty key share one bucket.
func Diversify[T any](items []T, key func(T) string, maxPerKey int) []T {
	out := make([]T, 0, len(items))
	counts := make(map[string]int)
	for _, it := range items {
		k := key(it)
		if counts[k] >= maxPerKey {
			continue
		}
		counts[k]++
		out = append(out, it)
	}
	return out
}
