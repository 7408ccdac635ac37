package store

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/solatis/watchkeeper/internal/types"
)

// File is the on-disk YAML layout:
//
//	devices:
//	  - id: front-door
//	    room: Hallway
//	    notifications_enabled: true
//	rules:
//	  - id: people-at-night
//	    detection_classes: [person]
//	    notifiers: [phone]
type File struct {
	Devices []types.DeviceSettings `yaml:"devices"`
	Rules   []types.DetectionRule  `yaml:"rules"`
}

// LoadFile reads and decodes a rules file. Unknown keys are errors so typos
// in field names do not silently drop a gate.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	file, err := DecodeFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// DecodeFile decodes the YAML layout from r. An empty document yields an
// empty File.
func DecodeFile(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return &file, nil
}

// Apply publishes the file's contents to s.
func (f *File) Apply(s *Store) *Snapshot {
	return s.Replace(f.Rules, f.Devices)
}
