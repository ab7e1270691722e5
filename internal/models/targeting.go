package models

import "reflect"

// TargetingRules restricts where and when an ad may serve. Every field
// is optional; an absent category places no restriction.
type TargetingRules struct {
	// Countries is an ISO 3166-1 alpha-2 allow-list.
	Countries []string `json:"countries,omitempty"`

	// DeviceTypes allow-list, e.g. "mobile", "desktop", "tablet".
	DeviceTypes []string `json:"device_types,omitempty"`

	// Schedule limits serving to day/hour windows in its timezone.
	Schedule *Schedule `json:"schedule,omitempty"`

	// BlackoutDates are "2006-01-02" dates (in the schedule timezone,
	// UTC when no schedule is set) on which serving is suspended.
	BlackoutDates []string `json:"blackout_dates,omitempty"`
}

// Schedule defines day-of-week/hour serving windows.
type Schedule struct {
	// Timezone is an IANA name, e.g. "Africa/Lagos". Empty means UTC.
	Timezone string      `json:"timezone,omitempty"`
	Windows  []DayWindow `json:"windows"`
}

// DayWindow allows serving on a weekday between StartHour (inclusive)
// and EndHour (exclusive). Day follows time.Weekday: 0 = Sunday.
type DayWindow struct {
	Day       int `json:"day"`
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Empty reports whether the rule set places no restrictions at all.
func (t *TargetingRules) Empty() bool {
	if t == nil {
		return true
	}
	return len(t.Countries) == 0 && len(t.DeviceTypes) == 0 &&
		t.Schedule == nil && len(t.BlackoutDates) == 0
}

// Equal reports whether two rule sets are identical.
func (t *TargetingRules) Equal(other *TargetingRules) bool {
	return reflect.DeepEqual(t, other)
}
