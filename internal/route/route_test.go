package route

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripupdate-processor/internal/events"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"1010H4", "1010H"},
		{"1010 3", "1010"},
		{"1010", "1010"},
		{"1010H", "1010H"},
		{"1010HK", "1010HK"},
		{"4250D8", "4250D"},
		{"7575", "7575"},
		{"10104", "10104"},
		{"", ""},
		{"1", "1"},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got := Normalize(tc.raw)
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, got, Normalize(got), "normalize must be idempotent")
		})
	}
}

func TestToFeedDirection(t *testing.T) {
	d, ok := ToFeedDirection(1)
	assert.True(t, ok)
	assert.Equal(t, 0, d)

	d, ok = ToFeedDirection(2)
	assert.True(t, ok)
	assert.Equal(t, 1, d)

	for _, invalid := range []int{-1, 0, 3, 10} {
		_, ok := ToFeedDirection(invalid)
		assert.False(t, ok, "direction %d", invalid)
	}
}

type fakeCatalog map[string]int

func (c fakeCatalog) RouteType(id string) (int, bool) {
	t, ok := c[id]
	return t, ok
}

func cancellation(route string, dir int) events.TripCancellation {
	return events.TripCancellation{
		TripKey:       1,
		Status:        events.Canceled,
		RouteID:       route,
		Direction:     dir,
		StartDateTime: time.Date(2020, 12, 24, 18, 0, 0, 0, time.UTC),
	}
}

func TestFilter_Eligible(t *testing.T) {
	f, err := NewFilter(DefaultRules(), fakeCatalog{"1300M": 1, "9999A": 109}, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		ev       events.Event
		eligible bool
		reason   string
	}{
		{"bus", cancellation("7575", 1), true, ""},
		{"bus direction 2", cancellation("7575", 2), true, ""},
		{"direction zero", cancellation("7575", 0), false, ReasonInvalidDirection},
		{"direction ten", cancellation("7575", 10), false, ReasonInvalidDirection},
		{"train 3001", cancellation("3001", 1), false, ReasonExcludedRoute},
		{"train 3002 variant", cancellation("3002U6", 2), false, ReasonExcludedRoute},
		{"metro by catalog is carried", cancellation("1300M", 1), true, ""},
		{"rail by catalog", cancellation("9999A4", 1), false, ReasonExcludedRoute},
		{"estimate on train", events.StopEstimate{TripKey: 1, RouteID: "3001", Direction: 1, StopID: "1"}, false, ReasonExcludedRoute},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.eligible, f.Eligible(tc.ev))
			reason, rejected := f.Reject(tc.ev)
			assert.Equal(t, !tc.eligible, rejected)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestFilter_NoCatalog(t *testing.T) {
	f, err := NewFilter(DefaultRules(), nil, nil)
	require.NoError(t, err)
	assert.True(t, f.Eligible(cancellation("9999", 1)))
}

func TestNewFilter_BadPattern(t *testing.T) {
	_, err := NewFilter(Rules{ExcludedRoutePatterns: []string{"("}}, nil, nil)
	assert.Error(t, err)
}

func TestLoadRules(t *testing.T) {
	r, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), r)

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yml")
	require.NoError(t, os.WriteFile(path, []byte("excludedRoutePatterns:\n  - '^300[12]'\n  - '^31M'\nexcludedRouteTypes: [2, 1]\n"), 0o644))

	r, err = LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"^300[12]", "^31M"}, r.ExcludedRoutePatterns)
	assert.Equal(t, []int{2, 1}, r.ExcludedRouteTypes)

	f, err := NewFilter(r, nil, nil)
	require.NoError(t, err)
	assert.False(t, f.Eligible(cancellation("31M1", 1)))
}

func TestLoadRules_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("invalid: yaml: content: [[["), 0o644))
	_, err := LoadRules(bad)
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.yml")
	require.NoError(t, os.WriteFile(negative, []byte("excludedRouteTypes: [-1]\n"), 0o644))
	_, err = LoadRules(negative)
	assert.Error(t, err)

	_, err = LoadRules(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func TestLoadRules_ExampleFile(t *testing.T) {
	r, err := LoadRules("../../configs/filter-rules.example.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"^300[12]", "^31M"}, r.ExcludedRoutePatterns)
	assert.Equal(t, []int{1, 2, 109}, r.ExcludedRouteTypes)
}
