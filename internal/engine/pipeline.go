package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/solatis/watchkeeper/internal/notify"
	"github.com/solatis/watchkeeper/internal/ratelimit"
	"github.com/solatis/watchkeeper/internal/rules"
	"github.com/solatis/watchkeeper/internal/store"
	"github.com/solatis/watchkeeper/internal/types"
)

// PassReport summarizes one batch for logs and the journal.
type PassReport struct {
	Device      types.DeviceID `json:"device"`
	Time        time.Time      `json:"time"`
	Candidates  int            `json:"candidates"`
	Dropped     int            `json:"dropped"`
	Matches     []MatchReport  `json:"matches,omitempty"`
	Activated   bool           `json:"activated,omitempty"`
	SnapshotURL string         `json:"snapshotUrl,omitempty"`
}

// Dispatched counts matches that reached the dispatcher.
func (r *PassReport) Dispatched() int {
	n := 0
	for _, m := range r.Matches {
		if !m.RateLimited {
			n++
		}
	}
	return n
}

// MatchReport is one rule match within a pass.
type MatchReport struct {
	RuleID      types.RuleID    `json:"ruleId"`
	Class       rules.Class     `json:"class"`
	Label       string          `json:"label,omitempty"`
	Identity    string          `json:"identity"`
	Zone        string          `json:"zone,omitempty"`
	Score       *float64        `json:"score,omitempty"`
	RateLimited bool            `json:"rateLimited,omitempty"`
	Result      string          `json:"result,omitempty"`
	Outcomes    []OutcomeReport `json:"outcomes,omitempty"`
}

// OutcomeReport is one notifier outcome of a match.
type OutcomeReport struct {
	NotifierID string `json:"notifier"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// accepted is a match that cleared the rate limiter.
type accepted struct {
	match    rules.MatchRule
	minDelay time.Duration
	report   int
}

// ProcessBatch runs one detection batch through filter, evaluation, rate
// limiting and dispatch. Batches for the same device are processed one at
// a time in call order.
func (e *Engine) ProcessBatch(ctx context.Context, batch types.DetectionBatch) (*PassReport, error) {
	d, ok := e.lookup(batch.DeviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDeviceNotAttached, batch.DeviceID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Detach may have won the race for d.mu; its entry is gone or replaced.
	if cur, ok := e.lookup(batch.DeviceID); !ok || cur != d {
		return nil, fmt.Errorf("%w: %s", types.ErrDeviceNotAttached, batch.DeviceID)
	}

	// One snapshot for the whole pass; a reload mid-pass is not observed.
	snap := e.store.Current()
	settings, ok := snap.Device(d.id)
	if !ok {
		settings = types.DeviceSettings{ID: d.id}
	}

	now := batch.Timestamp
	if now.IsZero() {
		now = e.clock.Now()
	}
	logger := e.logger.With("device", d.id)

	candidates, dropped := rules.FilterCandidates(batch.Detections, logger)
	report := &PassReport{
		Device:     d.id,
		Time:       now,
		Candidates: len(candidates),
		Dropped:    len(dropped),
	}
	e.metrics.Batch(string(d.id), len(dropped))

	if settings.ReportDetections {
		e.publisher.PublishDetections(d.id, batch)
	}

	opts := rules.Options{
		IgnoreUnboundedDetections: e.cfg.IgnoreUnboundedDetections,
		DefaultScoreThreshold:     e.cfg.ScoreThreshold,
	}
	if settings.IgnoreUnboundedDetections != nil {
		opts.IgnoreUnboundedDetections = *settings.IgnoreUnboundedDetections
	}
	if settings.ScoreThreshold != nil {
		opts.DefaultScoreThreshold = *settings.ScoreThreshold
	}

	var active []*rules.CompiledRule
	for _, r := range snap.Rules.ForDevice(d.id) {
		if r.Activation == types.ActivationOnActive && !settings.NotificationsEnabled {
			continue
		}
		active = append(active, r)
	}

	outcomes := rules.EvaluateAll(candidates, active, opts)
	pass := d.ledger.Begin(now)
	var fire []accepted

	for _, out := range outcomes {
		for _, t := range out.Traces {
			if !t.Passed() {
				logger.Debug("candidate rejected",
					"rule", t.RuleID, "candidate", t.Candidate,
					"class", t.ClassName, "reason", t.Reason)
			}
		}
		if out.Match == nil {
			continue
		}

		m := *out.Match
		identity := ratelimit.Identity(m.Detection)
		minDelay := ratelimit.ResolveMinDelay(m.Rule.MinDelay, settings.MinDelay, e.cfg.MinDelay)
		mr := MatchReport{
			RuleID:   m.Rule.ID,
			Class:    m.Class,
			Label:    m.Detection.Label,
			Identity: identity,
			Zone:     m.MatchingZone,
			Score:    m.Detection.Score,
		}

		if !pass.Allow(identity, minDelay) {
			mr.RateLimited = true
			report.Matches = append(report.Matches, mr)
			e.metrics.RateLimited(string(m.Rule.ID))
			logger.Debug("match rate limited", "rule", m.Rule.ID, "identity", identity, "min_delay", minDelay)
			continue
		}
		pass.Record(identity)
		e.metrics.Match(string(m.Rule.ID), string(m.Class))
		logger.Info("rule matched", "rule", m.Rule.ID, "identity", identity, "zone", m.MatchingZone)

		report.Matches = append(report.Matches, mr)
		fire = append(fire, accepted{match: m, minDelay: minDelay, report: len(report.Matches) - 1})
	}

	if len(fire) == 0 {
		return report, nil
	}

	img := e.capture(ctx, d, settings)
	if img != nil {
		report.SnapshotURL = img.URL
	}

	first := fire[0]
	hold := first.minDelay
	if settings.MotionDuration != nil {
		hold = *settings.MotionDuration
	}
	det := first.match.Detection
	detail := &types.StateDetail{
		RuleID:    first.match.Rule.ID,
		Detection: &det,
		Image:     img,
		URL:       e.dispatcher.Links(settings.Camera(), now).Timeline,
	}
	if img != nil {
		detail.ImageURL = img.URL
	}
	report.Activated = d.machine.Trigger(hold, detail)

	for _, a := range fire {
		res := e.dispatch(ctx, settings, a.match, now, img)
		mr := &report.Matches[a.report]
		mr.Result = res.String()
		for _, o := range res.Outcomes {
			rep := OutcomeReport{NotifierID: o.NotifierID, OK: o.OK()}
			if o.Err != nil {
				rep.Error = o.Err.Error()
			}
			mr.Outcomes = append(mr.Outcomes, rep)
		}
	}

	e.journal.Append(report)
	return report, nil
}

// capture takes the pass snapshot. Failures are logged and the pass
// continues without an image.
func (e *Engine) capture(ctx context.Context, d *device, settings types.DeviceSettings) *types.Image {
	if e.snapshotter == nil {
		return nil
	}
	img, err := e.snapshotter.TakeSnapshot(ctx, settings.Camera(), e.cfg.SnapshotSize)
	if err != nil {
		e.logger.Warn("snapshot failed", "device", d.id, "camera", settings.Camera(), "error", err)
		return nil
	}
	d.last = img
	return img
}

func (e *Engine) dispatch(ctx context.Context, settings types.DeviceSettings, m rules.MatchRule, now time.Time, img *types.Image) notify.Result {
	start := time.Now()
	res := e.dispatcher.Dispatch(ctx, notify.Event{
		Match:  m,
		Device: settings,
		Time:   now,
		Image:  img,
		Size:   e.cfg.SnapshotSize,
	})
	e.metrics.DispatchDuration(string(settings.ID), time.Since(start))

	recs := make([]store.DispatchRecord, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		e.metrics.Dispatch(o.NotifierID, o.OK())
		rec := store.DispatchRecord{
			ID:         o.ID,
			Device:     o.Device,
			RuleID:     o.RuleID,
			NotifierID: o.NotifierID,
			Provider:   o.Provider,
			Title:      o.Title,
			Body:       o.Body,
			Succeeded:  o.OK(),
		}
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
		if !o.SentAt.IsZero() {
			rec.SentAt = o.SentAt.UTC().Format(time.RFC3339Nano)
		}
		recs = append(recs, rec)
	}

	e.logger.Info("dispatch complete",
		"device", settings.ID, "rule", m.Rule.ID, "result", res.String())

	if e.auditor != nil && len(recs) > 0 {
		if err := e.auditor.RecordDispatch(ctx, recs...); err != nil {
			e.logger.Warn("dispatch audit failed", "device", settings.ID, "rule", m.Rule.ID, "error", err)
		}
	}
	return res
}
