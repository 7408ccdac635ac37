// internal/rules/compile_test.go
package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/solatis/watchkeeper/internal/types"
)

func TestCompile_Defaults(t *testing.T) {
	compiled, err := Compile(&types.DetectionRule{ID: "r"}, CompileOptions{})
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}
	if compiled.Source != types.SourcePlugin {
		t.Errorf("Source = %v, want %v", compiled.Source, types.SourcePlugin)
	}
	if compiled.Priority != types.PriorityNormal {
		t.Errorf("Priority = %v, want %v", compiled.Priority, types.PriorityNormal)
	}
	if compiled.Activation != types.ActivationAlways {
		t.Errorf("Activation = %v, want %v", compiled.Activation, types.ActivationAlways)
	}
	if compiled.Name != "r" {
		t.Errorf("Name = %v, want r", compiled.Name)
	}
}

func TestCompile_MapsRawClasses(t *testing.T) {
	compiled, err := Compile(&types.DetectionRule{ID: "r", DetectionClasses: []string{"car", "Truck", "person"}}, CompileOptions{})
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}
	if len(compiled.Classes) != 2 {
		t.Fatalf("len(Classes) = %v, want 2", len(compiled.Classes))
	}
	if compiled.Classes[0] != ClassVehicle || compiled.Classes[1] != ClassPerson {
		t.Errorf("Classes = %v, want [vehicle person]", compiled.Classes)
	}
}

func TestCompile_Rejections(t *testing.T) {
	negative := -time.Second
	tests := []struct {
		name    string
		rule    types.DetectionRule
		opts    CompileOptions
		wantErr error
	}{
		{"missing id", types.DetectionRule{}, CompileOptions{}, types.ErrMissingRuleID},
		{"unknown class", types.DetectionRule{ID: "r", DetectionClasses: []string{"ufo"}}, CompileOptions{}, types.ErrUnknownClass},
		{"threshold above one", types.DetectionRule{ID: "r", ScoreThreshold: score(1.5)}, CompileOptions{}, types.ErrInvalidThreshold},
		{"class threshold negative", types.DetectionRule{ID: "r", ClassThresholds: map[string]float64{"person": -0.1}}, CompileOptions{}, types.ErrInvalidThreshold},
		{"bad source", types.DetectionRule{ID: "r", Source: "cloud"}, CompileOptions{}, types.ErrInvalidSource},
		{"device rule without devices", types.DetectionRule{ID: "r", Source: types.SourceDevice}, CompileOptions{}, types.ErrDeviceScopeMissing},
		{"bad priority", types.DetectionRule{ID: "r", Priority: "urgent"}, CompileOptions{}, types.ErrInvalidPriority},
		{"bad activation", types.DetectionRule{ID: "r", Activation: "sometimes"}, CompileOptions{}, types.ErrInvalidActivation},
		{"negative delay", types.DetectionRule{ID: "r", MinDelay: &negative}, CompileOptions{}, types.ErrInvalidDelay},
		{"unknown notifier", types.DetectionRule{ID: "r", Notifiers: []string{"pager"}}, CompileOptions{Notifiers: []string{"phone"}}, types.ErrUnknownNotifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(&tt.rule, tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compile() error = %v, want %v", err, tt.wantErr)
			}
			if !types.IsConfigError(err) {
				t.Errorf("IsConfigError(%v) = false, want true", err)
			}
		})
	}
}

func TestCompileAll_RejectsSingleRule(t *testing.T) {
	rules := []types.DetectionRule{
		{ID: "first"},
		{ID: "broken", ScoreThreshold: score(7)},
		{ID: "first"},
		{ID: "off", Disabled: true},
		{ID: "last"},
	}

	compiled, rejected := CompileAll(rules, CompileOptions{})
	if len(compiled) != 2 {
		t.Fatalf("len(compiled) = %v, want 2", len(compiled))
	}
	if compiled[0].ID != "first" || compiled[1].ID != "last" {
		t.Errorf("compiled order = [%v %v], want [first last]", compiled[0].ID, compiled[1].ID)
	}
	if len(rejected) != 2 {
		t.Fatalf("len(rejected) = %v, want 2", len(rejected))
	}
	if !errors.Is(rejected[1], types.ErrDuplicateRuleID) {
		t.Errorf("rejected[1] = %v, want %v", rejected[1], types.ErrDuplicateRuleID)
	}
}

func TestRuleSet_ForDevice(t *testing.T) {
	set := NewRuleSet([]types.DetectionRule{
		{ID: "global"},
		{ID: "front", Devices: []types.DeviceID{"front"}},
		{ID: "back", Source: types.SourceDevice, Devices: []types.DeviceID{"back"}},
	}, CompileOptions{})

	got := set.ForDevice("front")
	if len(got) != 2 {
		t.Fatalf("len(ForDevice) = %v, want 2", len(got))
	}
	if got[0].ID != "global" || got[1].ID != "front" {
		t.Errorf("ForDevice = [%v %v], want [global front]", got[0].ID, got[1].ID)
	}

	var nilSet *RuleSet
	if nilSet.Len() != 0 {
		t.Errorf("nil Len() = %v, want 0", nilSet.Len())
	}
}
