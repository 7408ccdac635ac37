// Package notify renders and fans out notifications for rule matches.
//
// Each notifier named by a rule is handled in its own goroutine. A failing
// sink is logged and reported in the Result; it never stops the others, so
// the outcome of a dispatch is "N of M succeeded".
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solatis/watchkeeper/internal/rules"
	"github.com/solatis/watchkeeper/internal/snapshot"
	"github.com/solatis/watchkeeper/internal/types"
)

// Event is one confirmed match ready for dispatch.
type Event struct {
	Match  rules.MatchRule
	Device types.DeviceSettings
	Time   time.Time
	// Image is the pass snapshot taken at Size; nil when capture failed.
	Image *types.Image
	Size  types.SizeHint
}

// Outcome is the result for one notifier.
type Outcome struct {
	ID         types.NotificationID
	NotifierID string
	Provider   string
	RuleID     types.RuleID
	Device     types.DeviceID
	Title      string
	Body       string
	SentAt     time.Time
	Err        error
}

// OK reports whether the notifier accepted the message.
func (o Outcome) OK() bool { return o.Err == nil }

// Result aggregates every notifier outcome of one dispatch.
type Result struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
}

func (r Result) String() string {
	return fmt.Sprintf("%d of %d succeeded", r.Succeeded, r.Succeeded+r.Failed)
}

// Dispatcher sends matches to configured notifiers.
type Dispatcher struct {
	notifiers   map[string]*Notifier
	texts       *Texts
	nvr         NVR
	snapshotter snapshot.Snapshotter
	observers   []func(Outcome)
	logger      *slog.Logger
	now         func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithNVR sets the deep-link target.
func WithNVR(nvr NVR) DispatcherOption { return func(d *Dispatcher) { d.nvr = nvr } }

// WithSnapshotter enables per-notifier rescaled captures.
func WithSnapshotter(s snapshot.Snapshotter) DispatcherOption {
	return func(d *Dispatcher) { d.snapshotter = s }
}

// WithOutcomeObserver is called once per notifier outcome.
func WithOutcomeObserver(fn func(Outcome)) DispatcherOption {
	return func(d *Dispatcher) { d.observers = append(d.observers, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption { return func(d *Dispatcher) { d.logger = l } }

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(notifiers []*Notifier, texts *Texts, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifiers: make(map[string]*Notifier, len(notifiers)),
		texts:     texts,
		logger:    slog.Default(),
		now:       time.Now,
	}
	if d.texts == nil {
		d.texts = NewTexts(nil, nil, nil)
	}
	for _, n := range notifiers {
		d.notifiers[n.ID] = n
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifierIDs returns the ids of configured notifiers.
func (d *Dispatcher) NotifierIDs() []string {
	ids := make([]string, 0, len(d.notifiers))
	for id := range d.notifiers {
		ids = append(ids, id)
	}
	return ids
}

// Links returns the deep links notifications for camera at ts carry.
func (d *Dispatcher) Links(camera types.DeviceID, ts time.Time) Links {
	return BuildLinks(d.nvr, camera, ts)
}

// Dispatch sends ev to every notifier of the matched rule concurrently and
// waits for all of them.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) Result {
	ids := ev.Match.Rule.Notifiers
	outcomes := make([]Outcome, len(ids))
	links := BuildLinks(d.nvr, ev.Device.Camera(), ev.Time)

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = d.send(ctx, id, ev, links)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.OK() {
			res.Succeeded++
		} else {
			res.Failed++
		}
		for _, obs := range d.observers {
			obs(o)
		}
	}
	return res
}

// send renders and delivers ev to one notifier. A panicking sink or
// snapshotter is reported as a failed outcome like any other error.
func (d *Dispatcher) send(ctx context.Context, id string, ev Event, links Links) (out Outcome) {
	out = Outcome{
		ID:         types.NewNotificationID(),
		NotifierID: id,
		RuleID:     ev.Match.Rule.ID,
		Device:     ev.Device.ID,
	}
	logger := d.logger.With("device", ev.Device.ID, "rule", ev.Match.Rule.ID, "notifier", id)

	defer func() {
		if r := recover(); r != nil {
			out.Err = types.WrapTransient("send", id, fmt.Errorf("panic: %v", r))
			out.SentAt = d.now()
			logger.Error("notifier panicked", "panic", r)
		}
	}()

	n, ok := d.notifiers[id]
	if !ok || n.Sink == nil {
		out.Err = fmt.Errorf("%w: %s", types.ErrUnknownNotifier, id)
		logger.Warn("notifier not configured")
		return out
	}
	out.Provider = n.Provider

	key := EventKey(ev.Match.Class, ev.Match.Detection.Label)
	tpl := d.texts.Resolve(ev.Match.Rule.CustomText, id, key)
	out.Title = ev.Device.DisplayName()
	out.Body = Render(tpl, Vars{
		Time:    d.texts.FormatTime(id, ev.Time),
		NVRLink: links.Timeline,
		Label:   ev.Match.Detection.Label,
		Class:   string(ev.Match.Class),
		Zone:    ev.Match.MatchingZone,
		Room:    ev.Device.Room,
		Device:  ev.Device.DisplayName(),
	})

	msg := buildMessage(n.Provider, out.Title, out.Body, &ev.Match, links)
	msg.Image = d.imageFor(ctx, n, ev, logger)

	err := n.Sink.Send(ctx, msg)
	out.SentAt = d.now()
	if err != nil {
		out.Err = types.WrapTransient("send", id, err)
		logger.Error("notification failed", "error", err)
		return out
	}
	logger.Info("notification sent", "provider", n.Provider)
	return out
}

// imageFor returns the pass snapshot unless the notifier wants another
// scale, in which case it captures once for this notifier. A failed
// capture sends without an image.
func (d *Dispatcher) imageFor(ctx context.Context, n *Notifier, ev Event, logger *slog.Logger) *types.Image {
	if n.Scale <= 0 || n.Scale == 1 || d.snapshotter == nil {
		return ev.Image
	}
	img, err := d.snapshotter.TakeSnapshot(ctx, ev.Device.Camera(), ev.Size.Scaled(n.Scale))
	if err != nil {
		logger.Warn("scaled snapshot failed, sending without image", "scale", n.Scale, "error", err)
		return nil
	}
	return img
}
