package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hrkit/access"
)

func TestSQLSettingStoreUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewSQLSettingStore(newTestDB(t))

	now := time.Now().UTC().Truncate(time.Second)
	if _, err := store.GetSetting(ctx, "appraisal_cycle"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.PutSetting(ctx, &access.Setting{Key: "appraisal_cycle", Value: "quarterly", Description: "review cadence", IsActive: true, UpdatedAt: now}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.GetSetting(ctx, "appraisal_cycle")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != "quarterly" || got.Description != "review cadence" {
		t.Fatalf("unexpected row %+v", got)
	}

	// upsert replaces in place
	if err := store.PutSetting(ctx, &access.Setting{Key: "appraisal_cycle", Value: "annual", IsActive: true, UpdatedAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = store.GetSetting(ctx, "appraisal_cycle")
	if got.Value != "annual" {
		t.Fatalf("expected upserted value, got %s", got.Value)
	}

	// deactivated settings read as missing
	if err := store.PutSetting(ctx, &access.Setting{Key: "appraisal_cycle", Value: "annual", IsActive: false, UpdatedAt: now}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := store.GetSetting(ctx, "appraisal_cycle"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected inactive setting to read as missing, got %v", err)
	}
}

func TestSQLAuditStoreFilters(t *testing.T) {
	ctx := context.Background()
	store := NewSQLAuditStore(newTestDB(t))

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	performer := int64(9)
	entries := []*access.PermissionAudit{
		{UserID: 1, PermissionCode: "read_evaluation", Action: access.AuditOverrideGranted, Reason: "a", PerformedBy: &performer, Timestamp: base},
		{UserID: 1, Action: access.AuditRoleAssigned, RoleCode: "reviewer", Reason: "b", Timestamp: base.Add(time.Minute)},
		{UserID: 2, Action: access.AuditRoleAssigned, RoleCode: "reviewer", Reason: "c", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.List(ctx, access.AuditFilter{UserID: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows for user 1, got %d", len(got))
	}
	// newest first
	if got[0].Action != access.AuditRoleAssigned || got[1].Action != access.AuditOverrideGranted {
		t.Fatalf("expected newest-first ordering, got %+v", got)
	}
	if got[1].PerformedBy == nil || *got[1].PerformedBy != 9 {
		t.Fatalf("expected performer to roundtrip, got %+v", got[1].PerformedBy)
	}

	got, _ = store.List(ctx, access.AuditFilter{Action: access.AuditRoleAssigned})
	if len(got) != 2 {
		t.Fatalf("expected 2 role_assigned rows, got %d", len(got))
	}

	got, _ = store.List(ctx, access.AuditFilter{StartTime: base.Add(90 * time.Second)})
	if len(got) != 1 || got[0].UserID != 2 {
		t.Fatalf("expected only the newest row, got %+v", got)
	}

	got, _ = store.List(ctx, access.AuditFilter{Limit: 1})
	if len(got) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}
}
