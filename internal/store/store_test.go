package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/solatis/watchkeeper/internal/rules"
	"github.com/solatis/watchkeeper/internal/types"
)

func TestReplacePublishesSnapshot(t *testing.T) {
	s := New(rules.CompileOptions{}, nil)
	if got := s.Current().Version; got != 0 {
		t.Fatalf("initial Version = %d, want 0", got)
	}

	snap := s.Replace(
		[]types.DetectionRule{
			{ID: "people", DetectionClasses: []string{"person"}},
			{ID: "bad", DetectionClasses: []string{"dragon"}},
		},
		[]types.DeviceSettings{{ID: "cam-1", Room: "Garden"}, {Name: "no id"}},
	)

	if snap.Version != 1 {
		t.Errorf("Version = %d, want 1", snap.Version)
	}
	if snap.Rules.Len() != 1 {
		t.Errorf("Rules.Len() = %d, want 1", snap.Rules.Len())
	}
	if len(snap.Rules.Rejected()) != 1 {
		t.Errorf("Rejected() = %v, want one error", snap.Rules.Rejected())
	}
	if !errors.Is(snap.Rules.Rejected()[0], types.ErrUnknownClass) {
		t.Errorf("rejection = %v, want ErrUnknownClass", snap.Rules.Rejected()[0])
	}
	if len(snap.Devices) != 1 {
		t.Errorf("Devices = %v, want only cam-1", snap.Devices)
	}
	if s.Current() != snap {
		t.Error("Current() did not return the published snapshot")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New(rules.CompileOptions{}, nil)
	old := s.Replace([]types.DetectionRule{{ID: "a"}}, nil)

	s.Replace([]types.DetectionRule{{ID: "a"}, {ID: "b"}}, nil)

	if old.Rules.Len() != 1 {
		t.Errorf("held snapshot changed: Len() = %d, want 1", old.Rules.Len())
	}
	if s.Current().Rules.Len() != 2 {
		t.Errorf("Current().Rules.Len() = %d, want 2", s.Current().Rules.Len())
	}
}

func TestUpdateAndRemoveDevice(t *testing.T) {
	s := New(rules.CompileOptions{}, nil)
	s.Replace([]types.DetectionRule{{ID: "a"}}, []types.DeviceSettings{{ID: "cam-1"}})
	rulesBefore := s.Current().Rules

	d := 20 * time.Second
	s.UpdateDevice(types.DeviceSettings{ID: "cam-2", MinDelay: &d})

	snap := s.Current()
	if got := snap.DeviceIDs(); len(got) != 2 || got[0] != "cam-1" || got[1] != "cam-2" {
		t.Errorf("DeviceIDs() = %v, want [cam-1 cam-2]", got)
	}
	if snap.Rules != rulesBefore {
		t.Error("UpdateDevice recompiled rules")
	}

	if !s.RemoveDevice("cam-1") {
		t.Error("RemoveDevice(cam-1) = false, want true")
	}
	if s.RemoveDevice("cam-1") {
		t.Error("second RemoveDevice(cam-1) = true, want false")
	}
	if _, ok := s.Current().Device("cam-1"); ok {
		t.Error("cam-1 still configured after removal")
	}
}

func TestSubscribeCoalesces(t *testing.T) {
	s := New(rules.CompileOptions{}, nil)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Replace(nil, nil)
	s.Replace(nil, nil)
	s.Replace(nil, nil)

	select {
	case <-ch:
	default:
		t.Fatal("no notification after Replace")
	}
	select {
	case <-ch:
		t.Fatal("burst of publishes produced more than one pending notification")
	default:
	}

	cancel()
	cancel()
	s.Replace(nil, nil)
	select {
	case <-ch:
		t.Fatal("notification delivered after cancel")
	default:
	}
}

func TestDecodeFile(t *testing.T) {
	doc := `
devices:
  - id: front-door
    room: Hallway
    min_delay: 30s
    notifications_enabled: true
rules:
  - id: people-at-night
    detection_classes: [person]
    score_threshold: 0.8
    whitelisted_zones: [driveway]
    notifiers: [phone]
    min_delay: 1m
`
	f, err := DecodeFile(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeFile failed: %v", err)
	}
	if len(f.Devices) != 1 || f.Devices[0].Room != "Hallway" {
		t.Fatalf("Devices = %+v", f.Devices)
	}
	if f.Devices[0].MinDelay == nil || *f.Devices[0].MinDelay != 30*time.Second {
		t.Errorf("device MinDelay = %v, want 30s", f.Devices[0].MinDelay)
	}
	r := f.Rules[0]
	if r.ScoreThreshold == nil || *r.ScoreThreshold != 0.8 {
		t.Errorf("ScoreThreshold = %v, want 0.8", r.ScoreThreshold)
	}
	if r.MinDelay == nil || *r.MinDelay != time.Minute {
		t.Errorf("MinDelay = %v, want 1m", r.MinDelay)
	}

	s := New(rules.CompileOptions{Notifiers: []string{"phone"}}, nil)
	snap := f.Apply(s)
	if snap.Rules.Len() != 1 {
		t.Errorf("applied Rules.Len() = %d, want 1", snap.Rules.Len())
	}
}

func TestDecodeFileRejectsUnknownFields(t *testing.T) {
	_, err := DecodeFile(strings.NewReader("rules:\n  - id: a\n    score_treshold: 0.5\n"))
	if err == nil {
		t.Error("expected error for misspelled field")
	}
}

func TestDecodeFileEmpty(t *testing.T) {
	f, err := DecodeFile(strings.NewReader(""))
	if err != nil {
		t.Fatalf("DecodeFile(empty) failed: %v", err)
	}
	if len(f.Rules) != 0 || len(f.Devices) != 0 {
		t.Errorf("DecodeFile(empty) = %+v, want empty", f)
	}
}
