package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBlend(t *testing.T) {
	assert.InDelta(t, 1.0, Blend(1, 1, 1, 1), 1e-12)
	assert.InDelta(t, 0.6*0.5+0.1*0.4+0.1*0.2, Blend(0.5, 0, 0.4, 0.2), 1e-12)
	assert.Zero(t, Blend(0, 0, 0, 0))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(0))
	assert.Equal(t, 0.5, Similarity(1))
	assert.Greater(t, Similarity(0.2), Similarity(0.3))
}

func TestFreshness(t *testing.T) {
	now := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		createdAt string
		want      float64
	}{
		{"missing", "", 1.0},
		{"garbage", "yesterday-ish", 1.0},
		{"same day", "2025-01-31T01:00:00", 1.0},
		{"thirty days", "2025-01-01T12:00:00", math.Exp(-1)},
		{"partial day floors", "2025-01-30T13:00:00", 1.0},
		{"utc suffix", "2025-01-01T12:00:00Z", math.Exp(-1)},
		{"offset", "2025-01-01T14:00:00+02:00", math.Exp(-1)},
		{"date only", "2025-01-21", math.Exp(-10.0 / 30)},
		{"future clamps", "2025-03-01T00:00:00", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Freshness(tt.createdAt, now, DefaultTauDays), 1e-12)
		})
	}
}

func TestFreshness_Monotonic(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	newer := Freshness("2025-05-20T00:00:00", now, 30)
	older := Freshness("2025-01-20T00:00:00", now, 30)
	assert.Greater(t, newer, older)
	assert.Greater(t, older, 0.0)
}

func TestMetaMatch(t *testing.T) {
	assert.InDelta(t, 0.4, MetaMatch([]string{"python", "ml"}, []string{"python", "ml", "go"}, false), 1e-12)
	assert.InDelta(t, 0.2, MetaMatch(nil, []string{"python"}, true), 1e-12)
	assert.InDelta(t, 0.4, MetaMatch([]string{"python", "python"}, []string{"python"}, true), 1e-12)
	assert.Equal(t, 1.0, MetaMatch(
		[]string{"a", "b", "c", "d", "e", "f"},
		[]string{"a", "b", "c", "d", "e", "f"},
		true,
	))
	assert.Zero(t, MetaMatch(nil, nil, false))
}

type item struct {
	id     string
	series string
}

func TestDiversify(t *testing.T) {
	in := []item{
		{"1", "S"}, {"2", "S"}, {"3", "S"}, {"4", "S"}, {"5", "T"}, {"6", "S"},
	}
	got := Diversify(in, func(i item) string { return i.series }, 3)

	var idsOut []string
	for _, it := range got {
		idsOut = append(idsOut, it.id)
	}
	assert.Equal(t, []string{"1", "2", "3", "5"}, idsOut)
}

func TestDiversify_EmptyKeyShareBucket(t *testing.T) {
	in := []item{{"1", ""}, {"2", ""}, {"3", "S"}, {"4", ""}}
	got := Diversify(in, func(i item) string { return i.series }, 2)
	assert.Equal(t, []item{{"1", ""}, {"2", ""}, {"3", "S"}}, got)

	assert.Empty(t, Diversify([]item{}, func(i item) string { return i.series }, 3))
}
