// internal/rules/evaluate_test.go
package rules

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/watchkeeper/internal/types"
)

func score(v float64) *float64 { return &v }

func mustCompile(t *testing.T, rule types.DetectionRule) *CompiledRule {
	t.Helper()
	compiled, err := Compile(&rule, CompileOptions{})
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}
	return compiled
}

func TestEvaluate_SimpleMatch(t *testing.T) {
	rule := mustCompile(t, types.DetectionRule{
		ID:               "front-person",
		DetectionClasses: []string{"person"},
		ScoreThreshold:   score(0.7),
		WhitelistedZones: []string{"yard"},
	})

	candidates := []types.DetectionResult{
		{ClassName: "person", Score: score(0.81), Zones: []string{"yard"}, HasBoundingBox: true},
	}

	matches := Evaluate(candidates, []*CompiledRule{rule}, Options{DefaultScoreThreshold: 0.7})
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %v, want 1", len(matches))
	}
	if matches[0].Rule.ID != "front-person" {
		t.Errorf("Rule.ID = %v, want front-person", matches[0].Rule.ID)
	}
	if matches[0].MatchingZone != "yard" {
		t.Errorf("MatchingZone = %v, want yard", matches[0].MatchingZone)
	}
	if matches[0].Class != ClassPerson {
		t.Errorf("Class = %v, want %v", matches[0].Class, ClassPerson)
	}
}

func TestEvaluate_ScoreStrictlyGreater(t *testing.T) {
	rule := mustCompile(t, types.DetectionRule{ID: "r", ScoreThreshold: score(0.7)})

	tests := []struct {
		name  string
		score *float64
		want  bool
	}{
		{"equal does not pass", score(0.7), false},
		{"above passes", score(0.7000001), true},
		{"below fails", score(0.5), false},
		{"missing score passes", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := types.DetectionResult{ClassName: "person", Score: tt.score}
			got := Check(rule, 0, d, Options{}).Passed()
			if got != tt.want {
				t.Errorf("Passed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_AlwaysZoneOverridesBlacklist(t *testing.T) {
	rule := mustCompile(t, types.DetectionRule{
		ID:               "r",
		AlwaysZones:      []string{"A"},
		WhitelistedZones: []string{"B"},
		BlacklistedZones: []string{"A"},
	})

	trace := Check(rule, 0, types.DetectionResult{ClassName: "person", Zones: []string{"A"}}, Options{})
	if !trace.Passed() {
		t.Fatalf("Passed() = false (reason %q), want true", trace.Reason)
	}
	if !trace.Zones.IsAlways {
		t.Errorf("IsAlways = false, want true")
	}
	if !trace.Zones.IsExcluded {
		t.Errorf("IsExcluded = false, want true")
	}
	if trace.Zones.MatchingZone != "A" {
		t.Errorf("MatchingZone = %v, want A", trace.Zones.MatchingZone)
	}
}

func TestEvaluate_ZoneGate(t *testing.T) {
	tests := []struct {
		name      string
		white     []string
		black     []string
		always    []string
		zones     []string
		want      bool
		wantMatch string
	}{
		{"no lists", nil, nil, nil, []string{"x"}, true, ""},
		{"no lists no zones", nil, nil, nil, nil, true, ""},
		{"whitelisted", []string{"yard"}, nil, nil, []string{"street", "yard"}, true, "yard"},
		{"not whitelisted", []string{"yard"}, nil, nil, []string{"street"}, false, ""},
		{"blacklisted", nil, []string{"street"}, nil, []string{"street"}, false, ""},
		{"whitelisted and blacklisted", []string{"yard"}, []string{"street"}, nil, []string{"yard", "street"}, false, "yard"},
		{"always beats missing whitelist", []string{"yard"}, nil, []string{"door"}, []string{"door"}, true, "door"},
		{"always without zones", nil, nil, []string{"door"}, nil, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := mustCompile(t, types.DetectionRule{
				ID:               "r",
				WhitelistedZones: tt.white,
				BlacklistedZones: tt.black,
				AlwaysZones:      tt.always,
			})
			v := ZoneGate(tt.zones, rule)
			if v.Passed() != tt.want {
				t.Errorf("Passed() = %v, want %v (%+v)", v.Passed(), tt.want, v)
			}
			if v.MatchingZone != tt.wantMatch {
				t.Errorf("MatchingZone = %q, want %q", v.MatchingZone, tt.wantMatch)
			}
		})
	}
}

func TestEvaluate_FirstCandidateWins(t *testing.T) {
	rule := mustCompile(t, types.DetectionRule{ID: "r", DetectionClasses: []string{"person"}})

	candidates := []types.DetectionResult{
		{ClassName: "dog", Score: score(0.99)},
		{ClassName: "person", Label: "alice", Score: score(0.9)},
		{ClassName: "person", Label: "bob", Score: score(0.95)},
	}

	out := EvaluateRule(rule, candidates, Options{})
	if out.Match == nil {
		t.Fatalf("Match = nil, want match")
	}
	if out.Match.Detection.Label != "alice" {
		t.Errorf("Detection.Label = %v, want alice", out.Match.Detection.Label)
	}
	if len(out.Traces) != 2 {
		t.Errorf("len(Traces) = %v, want 2 (evaluation stops at first match)", len(out.Traces))
	}
	if out.Traces[0].Reason != ReasonClass {
		t.Errorf("Traces[0].Reason = %v, want %v", out.Traces[0].Reason, ReasonClass)
	}
}

func TestEvaluate_RulesIndependent(t *testing.T) {
	first := mustCompile(t, types.DetectionRule{ID: "a", DetectionClasses: []string{"person"}})
	second := mustCompile(t, types.DetectionRule{ID: "b"})
	third := mustCompile(t, types.DetectionRule{ID: "c", DetectionClasses: []string{"vehicle"}})

	candidates := []types.DetectionResult{{ClassName: "person", Score: score(0.9)}}

	matches := Evaluate(candidates, []*CompiledRule{first, second, third}, Options{})
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %v, want 2", len(matches))
	}
	if matches[0].Rule.ID != "a" || matches[1].Rule.ID != "b" {
		t.Errorf("rule order = [%v %v], want [a b]", matches[0].Rule.ID, matches[1].Rule.ID)
	}
}

func TestEvaluate_IgnoreUnbounded(t *testing.T) {
	rule := mustCompile(t, types.DetectionRule{ID: "r"})
	d := types.DetectionResult{ClassName: "person", Score: score(0.9)}

	if got := Check(rule, 0, d, Options{IgnoreUnboundedDetections: true}); got.Reason != ReasonUnbounded {
		t.Errorf("Reason = %v, want %v", got.Reason, ReasonUnbounded)
	}
	if got := Check(rule, 0, d, Options{}); !got.Passed() {
		t.Errorf("Passed() = false, want true when unbounded detections are allowed")
	}
}

func TestEvaluate_UnmappedClassRejected(t *testing.T) {
	rule := mustCompile(t, types.DetectionRule{ID: "r"})
	got := Check(rule, 0, types.DetectionResult{ClassName: "spaceship"}, Options{})
	if got.Reason != ReasonUnmapped {
		t.Errorf("Reason = %v, want %v", got.Reason, ReasonUnmapped)
	}
}

func TestEvaluate_ThresholdPrecedence(t *testing.T) {
	tests := []struct {
		name string
		rule types.DetectionRule
		want float64
	}{
		{"fallback", types.DetectionRule{ID: "r"}, 0.6},
		{"rule", types.DetectionRule{ID: "r", ScoreThreshold: score(0.5)}, 0.5},
		{"class override", types.DetectionRule{ID: "r", ScoreThreshold: score(0.5), ClassThresholds: map[string]float64{"person": 0.9}}, 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := mustCompile(t, tt.rule)
			got := Check(rule, 0, types.DetectionResult{ClassName: "person"}, Options{DefaultScoreThreshold: 0.6})
			if got.Threshold != tt.want {
				t.Errorf("Threshold = %v, want %v", got.Threshold, tt.want)
			}
		})
	}
}

// Property-based test: equal score never passes, anything above always does
func TestEvaluate_PropertyStrictThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("score equal to threshold never matches", prop.ForAll(
		func(pct int) bool {
			th := float64(pct) / 100
			rule := &CompiledRule{ID: "r", Threshold: &th}
			d := types.DetectionResult{ClassName: "person", Score: &th}
			return !Check(rule, 0, d, Options{}).Passed()
		},
		gen.IntRange(0, 100),
	))

	properties.Property("score above threshold matches", prop.ForAll(
		func(pct int, bump int) bool {
			th := float64(pct) / 100
			s := th + float64(bump)/1000
			rule := &CompiledRule{ID: "r", Threshold: &th}
			d := types.DetectionResult{ClassName: "person", Score: &s}
			return Check(rule, 0, d, Options{}).Passed()
		},
		gen.IntRange(0, 99),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// Property-based test: a candidate inside an always-zone passes regardless of other lists
func TestEvaluate_PropertyAlwaysZone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	zone := gen.OneConstOf("yard", "street", "door", "drive")

	properties.Property("always-zone bypasses whitelist and blacklist", prop.ForAll(
		func(always, white, black string) bool {
			rule := &CompiledRule{
				ID:               "r",
				AlwaysZones:      []string{always},
				WhitelistedZones: []string{white},
				BlacklistedZones: []string{black, always},
			}
			return ZoneGate([]string{always}, rule).Passed()
		},
		zone, zone, zone,
	))

	properties.TestingRun(t)
}
