package rules

import "github.com/samber/lo"

// ZoneVerdict is the outcome of the zone gate for one candidate.
type ZoneVerdict struct {
	IsAlways     bool
	IsIncluded   bool
	IsExcluded   bool
	MatchingZone string
}

// Passed reports isAlways || (isIncluded && !isExcluded).
func (v ZoneVerdict) Passed() bool {
	return v.IsAlways || (v.IsIncluded && !v.IsExcluded)
}

// ZoneGate checks a candidate's zones against the rule's zone lists.
// Empty lists never restrict, so the gate is safe to apply to every rule.
// MatchingZone is the first candidate zone found in the always-list when
// that list triggered, else the first found in the whitelist.
func ZoneGate(zones []string, rule *CompiledRule) ZoneVerdict {
	var v ZoneVerdict

	if z, ok := lo.Find(zones, func(z string) bool { return lo.Contains(rule.AlwaysZones, z) }); ok {
		v.IsAlways = true
		v.MatchingZone = z
	}

	if len(rule.WhitelistedZones) == 0 {
		v.IsIncluded = true
	} else if z, ok := lo.Find(zones, func(z string) bool { return lo.Contains(rule.WhitelistedZones, z) }); ok {
		v.IsIncluded = true
		if v.MatchingZone == "" {
			v.MatchingZone = z
		}
	}

	v.IsExcluded = lo.Some(zones, rule.BlacklistedZones)
	return v
}
