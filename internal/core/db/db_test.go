package db

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *Queries {
	t.Helper()
	conn, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	q, err := LoadQueries(conn)
	if err != nil {
		t.Fatalf("LoadQueries failed: %v", err)
	}
	return q
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open(context.Background(), "mysql://localhost/wk"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestMigrateUpIdempotent(t *testing.T) {
	ctx := context.Background()
	q := openTestDB(t)

	before, err := MigrateStatus(ctx, q.DB())
	if err != nil {
		t.Fatalf("MigrateStatus failed: %v", err)
	}
	if len(before) == 0 {
		t.Fatal("no embedded migrations found")
	}
	for _, s := range before {
		if s.Applied {
			t.Errorf("migration %s applied before MigrateUp", s.ID)
		}
	}

	if err := MigrateUp(ctx, q.DB()); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if err := MigrateUp(ctx, q.DB()); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	after, err := MigrateStatus(ctx, q.DB())
	if err != nil {
		t.Fatalf("MigrateStatus failed: %v", err)
	}
	for _, s := range after {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.ID)
		}
		if s.AppliedAt == nil {
			t.Errorf("migration %s has no applied_at", s.ID)
		}
	}
}

func TestMigrateUpDetectsTampering(t *testing.T) {
	ctx := context.Background()
	q := openTestDB(t)

	if err := MigrateUp(ctx, q.DB()); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if _, err := q.DB().ExecContext(ctx, "UPDATE migrations SET checksum = 'bogus'"); err != nil {
		t.Fatal(err)
	}
	if err := MigrateUp(ctx, q.DB()); err == nil {
		t.Error("expected checksum mismatch error")
	}
}

func TestNamedQueries(t *testing.T) {
	ctx := context.Background()
	q := openTestDB(t)
	if err := MigrateUp(ctx, q.DB()); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	if _, err := q.Exec(ctx, "upsert-rule", "r1", "first", 0, "{}", false, "t0", "t0"); err != nil {
		t.Fatalf("upsert-rule failed: %v", err)
	}
	if _, err := q.Exec(ctx, "upsert-rule", "r1", "renamed", 3, "{}", true, "t1", "t1"); err != nil {
		t.Fatalf("second upsert-rule failed: %v", err)
	}

	var count int
	if err := q.Get(ctx, "count-rules", &count); err != nil {
		t.Fatalf("count-rules failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count-rules = %d, want 1", count)
	}

	var rows []struct {
		RuleID     string `db:"rule_id"`
		Name       string `db:"name"`
		Position   int    `db:"position"`
		Definition string `db:"definition"`
		Disabled   bool   `db:"disabled"`
		CreatedAt  string `db:"created_at"`
		UpdatedAt  string `db:"updated_at"`
	}
	if err := q.Select(ctx, "list-rules", &rows); err != nil {
		t.Fatalf("list-rules failed: %v", err)
	}
	if rows[0].Name != "renamed" || !rows[0].Disabled || rows[0].CreatedAt != "t0" {
		t.Errorf("upsert result = %+v, want renamed, disabled, created_at kept", rows[0])
	}

	if _, err := q.Exec(ctx, "no-such-query"); err == nil {
		t.Error("expected error for unknown query name")
	}
}
