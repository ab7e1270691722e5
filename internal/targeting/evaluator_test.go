package targeting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforge/adledger/internal/models"
)

// Tuesday 14:00 UTC.
var tuesdayAfternoon = time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

func TestEligible(t *testing.T) {
	tests := []struct {
		name  string
		rules *models.TargetingRules
		ctx   models.RequestContext
		want  bool
	}{
		{
			name:  "nil rules match everything",
			rules: nil,
			ctx:   models.RequestContext{},
			want:  true,
		},
		{
			name:  "empty rules match everything",
			rules: &models.TargetingRules{},
			ctx:   models.RequestContext{Country: "NG", DeviceType: "mobile"},
			want:  true,
		},
		{
			name:  "country allowed",
			rules: &models.TargetingRules{Countries: []string{"NG", "GH"}},
			ctx:   models.RequestContext{Country: "NG"},
			want:  true,
		},
		{
			name:  "country case insensitive",
			rules: &models.TargetingRules{Countries: []string{"ng"}},
			ctx:   models.RequestContext{Country: "NG"},
			want:  true,
		},
		{
			name:  "country not in list",
			rules: &models.TargetingRules{Countries: []string{"NG"}},
			ctx:   models.RequestContext{Country: "KE"},
			want:  false,
		},
		{
			name:  "country configured but context missing fails closed",
			rules: &models.TargetingRules{Countries: []string{"NG"}},
			ctx:   models.RequestContext{DeviceType: "mobile"},
			want:  false,
		},
		{
			name:  "device type allowed",
			rules: &models.TargetingRules{DeviceTypes: []string{"mobile", "tablet"}},
			ctx:   models.RequestContext{DeviceType: "mobile"},
			want:  true,
		},
		{
			name:  "device type rejected",
			rules: &models.TargetingRules{DeviceTypes: []string{"mobile"}},
			ctx:   models.RequestContext{DeviceType: "desktop"},
			want:  false,
		},
		{
			name: "schedule window match",
			rules: &models.TargetingRules{Schedule: &models.Schedule{
				Windows: []models.DayWindow{{Day: 2, StartHour: 9, EndHour: 18}},
			}},
			ctx:  models.RequestContext{Now: tuesdayAfternoon},
			want: true,
		},
		{
			name: "schedule end hour exclusive",
			rules: &models.TargetingRules{Schedule: &models.Schedule{
				Windows: []models.DayWindow{{Day: 2, StartHour: 9, EndHour: 14}},
			}},
			ctx:  models.RequestContext{Now: tuesdayAfternoon},
			want: false,
		},
		{
			name: "schedule wrong day",
			rules: &models.TargetingRules{Schedule: &models.Schedule{
				Windows: []models.DayWindow{{Day: 3, StartHour: 9, EndHour: 18}},
			}},
			ctx:  models.RequestContext{Now: tuesdayAfternoon},
			want: false,
		},
		{
			name: "schedule evaluated in configured timezone",
			rules: &models.TargetingRules{Schedule: &models.Schedule{
				// 14:00 UTC is 15:00 in Lagos (UTC+1).
				Timezone: "Africa/Lagos",
				Windows:  []models.DayWindow{{Day: 2, StartHour: 15, EndHour: 16}},
			}},
			ctx:  models.RequestContext{Now: tuesdayAfternoon},
			want: true,
		},
		{
			name: "unknown timezone fails closed",
			rules: &models.TargetingRules{Schedule: &models.Schedule{
				Timezone: "Mars/Olympus",
				Windows:  []models.DayWindow{{Day: 2, StartHour: 0, EndHour: 24}},
			}},
			ctx:  models.RequestContext{Now: tuesdayAfternoon},
			want: false,
		},
		{
			name:  "blackout date suspends serving",
			rules: &models.TargetingRules{BlackoutDates: []string{"2025-06-10"}},
			ctx:   models.RequestContext{Now: tuesdayAfternoon},
			want:  false,
		},
		{
			name:  "non-blackout date serves",
			rules: &models.TargetingRules{BlackoutDates: []string{"2025-06-11"}},
			ctx:   models.RequestContext{Now: tuesdayAfternoon},
			want:  true,
		},
		{
			name: "all categories conjunctive",
			rules: &models.TargetingRules{
				Countries:   []string{"NG"},
				DeviceTypes: []string{"mobile"},
				Schedule: &models.Schedule{
					Windows: []models.DayWindow{{Day: 2, StartHour: 9, EndHour: 18}},
				},
			},
			ctx: models.RequestContext{
				Country: "NG", DeviceType: "mobile", Now: tuesdayAfternoon,
			},
			want: true,
		},
		{
			name: "one failing category rejects",
			rules: &models.TargetingRules{
				Countries:   []string{"NG"},
				DeviceTypes: []string{"mobile"},
			},
			ctx:  models.RequestContext{Country: "NG", DeviceType: "desktop"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(tt.rules, tt.ctx))
		})
	}
}

func TestReason(t *testing.T) {
	rules := &models.TargetingRules{
		Countries:   []string{"NG"},
		DeviceTypes: []string{"mobile"},
		Schedule: &models.Schedule{
			Windows: []models.DayWindow{{Day: 2, StartHour: 9, EndHour: 18}},
		},
		BlackoutDates: []string{"2025-06-10"},
	}

	assert.Equal(t, "country", Reason(rules, models.RequestContext{
		Country: "KE", DeviceType: "mobile", Now: tuesdayAfternoon,
	}))
	assert.Equal(t, "device_type", Reason(rules, models.RequestContext{
		Country: "NG", DeviceType: "desktop", Now: tuesdayAfternoon,
	}))
	assert.Equal(t, "schedule", Reason(rules, models.RequestContext{
		Country: "NG", DeviceType: "mobile",
		Now: tuesdayAfternoon.Add(10 * time.Hour),
	}))
	assert.Equal(t, "blackout", Reason(rules, models.RequestContext{
		Country: "NG", DeviceType: "mobile", Now: tuesdayAfternoon,
	}))
	assert.Equal(t, "", Reason(nil, models.RequestContext{}))
}

func TestDeviceTypeFromUserAgent(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", "mobile"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", "mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", "tablet"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "desktop"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeviceTypeFromUserAgent(tt.ua), tt.ua)
	}
}

func TestContextResolver(t *testing.T) {
	geo := NewMockGeoProvider()
	geo.AddEntry("41.58.0.1", "NG")

	resolver := NewContextResolver(geo, 100, time.Minute)

	resolved := resolver.Resolve(models.RequestContext{
		IP:        "41.58.0.1",
		UserAgent: "Mozilla/5.0 (Linux; Android 14)",
	})
	assert.Equal(t, "NG", resolved.Country)
	assert.Equal(t, "mobile", resolved.DeviceType)

	// Caller-supplied fields win over lookup.
	resolved = resolver.Resolve(models.RequestContext{
		IP: "41.58.0.1", Country: "GH", DeviceType: "desktop",
	})
	assert.Equal(t, "GH", resolved.Country)
	assert.Equal(t, "desktop", resolved.DeviceType)

	// Lookup failures leave the field empty.
	resolved = resolver.Resolve(models.RequestContext{IP: "not-an-ip"})
	assert.Empty(t, resolved.Country)

	// Cached entries survive provider mutation.
	geo.AddEntry("41.58.0.1", "KE")
	resolved = resolver.Resolve(models.RequestContext{IP: "41.58.0.1"})
	require.Equal(t, "NG", resolved.Country)
}
