// Package targeting decides whether an advertisement is eligible to
// serve for a given request context. Evaluation is conjunctive: every
// configured rule category must pass, an absent category is vacuously
// true, and a configured category with missing or malformed context
// fails closed.
package targeting

import (
	"strings"
	"time"

	"github.com/adforge/adledger/internal/models"
)

// Eligible reports whether the request context satisfies the rules.
// It is a pure function: no I/O, no side effects.
func Eligible(rules *models.TargetingRules, ctx models.RequestContext) bool {
	if rules.Empty() {
		return true
	}

	if len(rules.Countries) > 0 && !matchCountry(ctx.Country, rules.Countries) {
		return false
	}

	if len(rules.DeviceTypes) > 0 && !matchDeviceType(ctx.DeviceType, rules.DeviceTypes) {
		return false
	}

	if rules.Schedule != nil || len(rules.BlackoutDates) > 0 {
		local, ok := localTime(rules.Schedule, ctx.Timestamp())
		if !ok {
			return false
		}
		if rules.Schedule != nil && !matchSchedule(rules.Schedule, local) {
			return false
		}
		if matchBlackout(rules.BlackoutDates, local) {
			return false
		}
	}

	return true
}

// Reason returns the first failing rule category, or "" when eligible.
// Used for rejection metrics and diagnostics.
func Reason(rules *models.TargetingRules, ctx models.RequestContext) string {
	if rules.Empty() {
		return ""
	}
	if len(rules.Countries) > 0 && !matchCountry(ctx.Country, rules.Countries) {
		return "country"
	}
	if len(rules.DeviceTypes) > 0 && !matchDeviceType(ctx.DeviceType, rules.DeviceTypes) {
		return "device_type"
	}
	if rules.Schedule != nil || len(rules.BlackoutDates) > 0 {
		local, ok := localTime(rules.Schedule, ctx.Timestamp())
		if !ok {
			return "timezone"
		}
		if rules.Schedule != nil && !matchSchedule(rules.Schedule, local) {
			return "schedule"
		}
		if matchBlackout(rules.BlackoutDates, local) {
			return "blackout"
		}
	}
	return ""
}

func matchCountry(country string, allowed []string) bool {
	if country == "" {
		return false
	}
	country = strings.ToUpper(country)
	for _, c := range allowed {
		if strings.ToUpper(c) == country {
			return true
		}
	}
	return false
}

func matchDeviceType(dt string, allowed []string) bool {
	if dt == "" {
		return false
	}
	dt = strings.ToLower(dt)
	for _, a := range allowed {
		if strings.ToLower(a) == dt {
			return true
		}
	}
	return false
}

// localTime converts ts into the schedule timezone. An unknown timezone
// name fails closed.
func localTime(sched *models.Schedule, ts time.Time) (time.Time, bool) {
	tz := "UTC"
	if sched != nil && sched.Timezone != "" {
		tz = sched.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, false
	}
	return ts.In(loc), true
}

func matchSchedule(sched *models.Schedule, local time.Time) bool {
	if len(sched.Windows) == 0 {
		return true
	}
	day := int(local.Weekday())
	hour := local.Hour()
	for _, w := range sched.Windows {
		if w.Day == day && hour >= w.StartHour && hour < w.EndHour {
			return true
		}
	}
	return false
}

func matchBlackout(dates []string, local time.Time) bool {
	if len(dates) == 0 {
		return false
	}
	today := local.Format("2006-01-02")
	for _, d := range dates {
		if d == today {
			return true
		}
	}
	return false
}
