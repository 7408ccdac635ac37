package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/solatis/watchkeeper/internal/core/db"
	"github.com/solatis/watchkeeper/internal/rules"
	"github.com/solatis/watchkeeper/internal/types"
)

// SQLStore persists rule definitions and the dispatch audit trail.
type SQLStore struct {
	q      *db.Queries
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLStore wraps loaded queries.
func NewSQLStore(q *db.Queries, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{q: q, logger: logger, now: time.Now}
}

type ruleRow struct {
	RuleID     string `db:"rule_id"`
	Name       string `db:"name"`
	Position   int    `db:"position"`
	Definition string `db:"definition"`
	Disabled   bool   `db:"disabled"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

// Load returns stored rules in position order. Rows whose definition cannot
// be decoded are skipped and reported as ConfigErrors; the rest still load.
func (s *SQLStore) Load(ctx context.Context) ([]types.DetectionRule, []error, error) {
	var rows []ruleRow
	if err := s.q.Select(ctx, "list-rules", &rows); err != nil {
		return nil, nil, types.WrapTransient("load rules", "database", err)
	}

	defs := make([]types.DetectionRule, 0, len(rows))
	var skipped []error
	for _, r := range rows {
		var def types.DetectionRule
		if err := json.Unmarshal([]byte(r.Definition), &def); err != nil {
			cerr := types.NewConfigError(types.RuleID(r.RuleID), "definition", err)
			s.logger.Warn("skipping malformed rule", "rule_id", r.RuleID, "error", err)
			skipped = append(skipped, cerr)
			continue
		}
		def.ID = types.RuleID(r.RuleID)
		def.Disabled = r.Disabled
		if def.Name == "" {
			def.Name = r.Name
		}
		defs = append(defs, def)
	}
	return defs, skipped, nil
}

// ImportResult counts what Import changed.
type ImportResult struct {
	Upserted int
	Deleted  int
}

// Import validates defs and stores them in order inside one transaction.
// Any invalid rule aborts the import. With prune set, stored rules absent
// from defs are deleted.
func (s *SQLStore) Import(ctx context.Context, defs []types.DetectionRule, prune bool) (ImportResult, error) {
	var res ImportResult
	if _, rejected := rules.CompileAll(defs, rules.CompileOptions{}); len(rejected) > 0 {
		return res, rejected[0]
	}

	var existing []ruleRow
	if prune {
		if err := s.q.Select(ctx, "list-rules", &existing); err != nil {
			return res, types.WrapTransient("import rules", "database", err)
		}
	}

	tx, err := s.q.DB().BeginTxx(ctx, nil)
	if err != nil {
		return res, types.WrapTransient("import rules", "database", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339)
	keep := make(map[string]struct{}, len(defs))
	for i, def := range defs {
		payload, err := json.Marshal(def)
		if err != nil {
			return res, fmt.Errorf("encode rule %s: %w", def.ID, err)
		}
		_, err = s.q.ExecTx(ctx, tx, "upsert-rule",
			string(def.ID), def.Name, i, string(payload), def.Disabled, now, now)
		if err != nil {
			return res, types.WrapTransient("import rules", "database", err)
		}
		keep[string(def.ID)] = struct{}{}
		res.Upserted++
	}

	for _, r := range existing {
		if _, ok := keep[r.RuleID]; ok {
			continue
		}
		if _, err := s.q.ExecTx(ctx, tx, "delete-rule", r.RuleID); err != nil {
			return res, types.WrapTransient("import rules", "database", err)
		}
		res.Deleted++
	}

	if err := tx.Commit(); err != nil {
		return res, types.WrapTransient("import rules", "database", err)
	}
	return res, nil
}

// Delete removes one rule. It reports false when no such rule existed.
func (s *SQLStore) Delete(ctx context.Context, id types.RuleID) (bool, error) {
	res, err := s.q.Exec(ctx, "delete-rule", string(id))
	if err != nil {
		return false, types.WrapTransient("delete rule", "database", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DispatchRecord is one audited notifier delivery.
type DispatchRecord struct {
	ID         types.NotificationID `db:"notification_id" json:"id"`
	Device     types.DeviceID       `db:"device_id" json:"device"`
	RuleID     types.RuleID         `db:"rule_id" json:"ruleId"`
	NotifierID string               `db:"notifier_id" json:"notifier"`
	Provider   string               `db:"provider" json:"provider"`
	Title      string               `db:"title" json:"title"`
	Body       string               `db:"body" json:"body"`
	Succeeded  bool                 `db:"succeeded" json:"succeeded"`
	Error      string               `db:"error" json:"error,omitempty"`
	SentAt     string               `db:"sent_at" json:"sentAt"`
}

// RecordDispatch appends audit rows. Empty ids are assigned. A missing
// send time falls back to the time embedded in a UUIDv7 id, else now.
func (s *SQLStore) RecordDispatch(ctx context.Context, recs ...DispatchRecord) error {
	for _, r := range recs {
		sentAt := s.now()
		if r.ID == "" {
			r.ID = types.NewNotificationID()
		} else if ts := types.NotificationIDTime(r.ID); !ts.IsZero() {
			sentAt = ts
		}
		if r.SentAt == "" {
			r.SentAt = sentAt.UTC().Format(time.RFC3339Nano)
		}
		_, err := s.q.Exec(ctx, "insert-notification",
			string(r.ID), string(r.Device), string(r.RuleID), r.NotifierID, r.Provider,
			r.Title, r.Body, r.Succeeded, r.Error, r.SentAt)
		if err != nil {
			return types.WrapTransient("record dispatch", "database", err)
		}
	}
	return nil
}

// RecentDispatches returns up to limit audit rows for device, newest first.
func (s *SQLStore) RecentDispatches(ctx context.Context, device types.DeviceID, limit int) ([]DispatchRecord, error) {
	var recs []DispatchRecord
	if err := s.q.Select(ctx, "list-notifications", &recs, string(device), limit); err != nil {
		return nil, types.WrapTransient("list dispatches", "database", err)
	}
	return recs, nil
}
