package notify

import (
	"regexp"
	"time"

	"github.com/solatis/watchkeeper/internal/rules"
)

// Template keys for the global and per-notifier text tables.
const (
	TextPerson   = "person"
	TextFamiliar = "familiar"
	TextAnimal   = "animal"
	TextVehicle  = "vehicle"
	TextDefault  = "default"
	// TextTimeLayout holds a Go time layout rather than a message.
	TextTimeLayout = "time_layout"
)

// DefaultTimeLayout renders ${time} when no layout is configured.
const DefaultTimeLayout = "2006-01-02 15:04:05"

// DefaultTexts returns the built-in message table.
func DefaultTexts() map[string]string {
	return map[string]string{
		TextPerson:     "Person detected in ${room}",
		TextFamiliar:   "${person} detected in ${room}",
		TextAnimal:     "Animal detected in ${room}",
		TextVehicle:    "Vehicle detected in ${room}",
		TextDefault:    "${class} detected in ${room}",
		TextTimeLayout: DefaultTimeLayout,
	}
}

// Texts resolves message templates.
type Texts struct {
	Defaults  map[string]string
	Overrides map[string]map[string]string // notifier id -> key -> template
	Location  *time.Location
}

// NewTexts layers defaults over DefaultTexts.
func NewTexts(defaults map[string]string, overrides map[string]map[string]string, loc *time.Location) *Texts {
	merged := DefaultTexts()
	for k, v := range defaults {
		if v != "" {
			merged[k] = v
		}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Texts{Defaults: merged, Overrides: overrides, Location: loc}
}

// EventKey picks the text table key for a detection.
func EventKey(class rules.Class, label string) string {
	switch class {
	case rules.ClassPerson:
		if label != "" {
			return TextFamiliar
		}
		return TextPerson
	case rules.ClassAnimal:
		return TextAnimal
	case rules.ClassVehicle:
		return TextVehicle
	default:
		return TextDefault
	}
}

// Lookup returns the per-notifier override for key, else the global value.
func (t *Texts) Lookup(notifierID, key string) string {
	if v := t.Overrides[notifierID][key]; v != "" {
		return v
	}
	return t.Defaults[key]
}

// Resolve picks the message template: rule custom text > per-notifier
// override > global default for the event key > global generic default.
func (t *Texts) Resolve(customText, notifierID, key string) string {
	if customText != "" {
		return customText
	}
	if v := t.Lookup(notifierID, key); v != "" {
		return v
	}
	return t.Lookup(notifierID, TextDefault)
}

// FormatTime renders ts with the notifier's time layout.
func (t *Texts) FormatTime(notifierID string, ts time.Time) string {
	layout := t.Lookup(notifierID, TextTimeLayout)
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return ts.In(t.Location).Format(layout)
}

// Vars are the placeholder values available to templates.
type Vars struct {
	Time    string
	NVRLink string
	Label   string
	Class   string
	Zone    string
	Room    string
	Device  string
}

var placeholder = regexp.MustCompile(`\$\{(\w+)\}`)

// Render substitutes ${name} placeholders. Unknown or empty placeholders
// become the empty string; Render never fails.
func Render(tpl string, v Vars) string {
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		switch placeholder.FindStringSubmatch(m)[1] {
		case "time":
			return v.Time
		case "nvrLink":
			return v.NVRLink
		case "person", "label":
			return v.Label
		case "class":
			return v.Class
		case "zone":
			return v.Zone
		case "room":
			return v.Room
		case "device":
			return v.Device
		default:
			return ""
		}
	})
}
