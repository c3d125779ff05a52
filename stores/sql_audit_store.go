package stores

import (
	"context"
	"fmt"

	"github.com/hrkit/access"
	"github.com/oarkflow/squealx"
)

// SQLAuditStore reads and appends permission audit records. Audited
// mutations write their record inside the SQLEntityStore transaction; this
// store serves reporting queries and standalone appends.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) Append(ctx context.Context, entry *access.PermissionAudit) error {
	q := `INSERT INTO permission_audit(user_id, permission_code, action, role_code, override_id, reason, performed_by, timestamp)
	      VALUES(:user_id, :permission_code, :action, :role_code, :override_id, :reason, :performed_by, :timestamp)`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id":         entry.UserID,
		"permission_code": entry.PermissionCode,
		"action":          string(entry.Action),
		"role_code":       entry.RoleCode,
		"override_id":     entry.OverrideID,
		"reason":          entry.Reason,
		"performed_by":    nullInt64Param(entry.PerformedBy),
		"timestamp":       entry.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", access.ErrAuditWrite, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// List returns matching records, newest first. An unset limit defaults to
// 100 rows.
func (s *SQLAuditStore) List(ctx context.Context, filter access.AuditFilter) ([]*access.PermissionAudit, error) {
	q := `SELECT id, user_id, permission_code, action, role_code, override_id, reason, performed_by, timestamp
	      FROM permission_audit WHERE 1=1`
	params := map[string]any{}
	if filter.UserID != 0 {
		q += " AND user_id = :user_id"
		params["user_id"] = filter.UserID
	}
	if filter.PermissionCode != "" {
		q += " AND permission_code = :permission_code"
		params["permission_code"] = filter.PermissionCode
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*access.PermissionAudit, 0)
	for r.Next() {
		var id, userID, overrideID int64
		var permCode, action, roleCode, reason string
		var performedRaw, timestampRaw interface{}
		if err := r.Scan(&id, &userID, &permCode, &action, &roleCode, &overrideID, &reason, &performedRaw, &timestampRaw); err != nil {
			return nil, err
		}
		out = append(out, &access.PermissionAudit{
			ID:             id,
			UserID:         userID,
			PermissionCode: permCode,
			Action:         access.AuditAction(action),
			RoleCode:       roleCode,
			OverrideID:     overrideID,
			Reason:         reason,
			PerformedBy:    scanNullInt64(performedRaw),
			Timestamp:      scanTime(timestampRaw),
		})
	}
	return out, nil
}
