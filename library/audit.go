package library

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Action constants
const (
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionLogout         = "logout"
	ActionRegister       = "register"
	ActionUserCreate     = "user_create"
	ActionUserRole       = "user_role"
	ActionUserBlock      = "user_block"
	ActionUserUnblock    = "user_unblock"
	ActionPasswordChange = "password_change"
	ActionPasswordReset  = "password_reset"
	ActionProfileUpdate  = "profile_update"
	ActionBookCreate     = "book_create"
	ActionBookUpdate     = "book_update"
	ActionBookDelete     = "book_delete"
	ActionCheckout       = "checkout"
	ActionReturn         = "return"
	ActionReconcile      = "reconcile"
)

// Entity types
const (
	EntityUser = "user"
	EntityBook = "book"
)

// AuditEntry is one action to record. Details is encoded as JSON unless it
// is already a string.
type AuditEntry struct {
	UserID     *int64
	Action     string
	EntityType string
	EntityID   *int64
	Details    any
	IP         string
}

// InsertAudit appends an entry to the audit log.
func (d *Database) InsertAudit(ctx context.Context, e AuditEntry) error {
	var details string
	switch v := e.Details.(type) {
	case nil:
	case string:
		details = v
	default:
		encoded, err := jsoniter.ConfigFastest.MarshalToString(v)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = encoded
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO audit_log(user_id,action,entity_type,entity_id,details,ip,created_at) VALUES(?,?,?,?,?,?,?)`,
		e.UserID, e.Action, e.EntityType, e.EntityID, details, e.IP, d.timestamp())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListAudit returns one page of the audit log, newest first, and the total
// number of entries.
func (d *Database) ListAudit(ctx context.Context, limit, offset int) ([]*AuditLog, int, error) {
	logs := []*AuditLog{}
	if err := d.db.SelectContext(ctx, &logs,
		`SELECT id,user_id,action,entity_type,entity_id,details,ip,created_at FROM audit_log
         ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list audit: %w", err)
	}
	var total int
	if err := d.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_log`); err != nil {
		return nil, 0, fmt.Errorf("count audit: %w", err)
	}
	return logs, total, nil
}
