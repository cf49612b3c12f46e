package library

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

func generateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSession stores a fresh opaque token for the user.
func (d *Database) CreateSession(ctx context.Context, userID int64, role Role) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := d.now().UTC()
	s := &Session{
		ID:        id,
		UserID:    userID,
		Role:      role,
		ExpiresAt: now.Add(d.sessionTTL).Format(TimeLayout),
		CreatedAt: now.Format(TimeLayout),
	}
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions(id,user_id,role,expires_at,created_at) VALUES(?,?,?,?,?)`,
		s.ID, s.UserID, s.Role, s.ExpiresAt, s.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// GetSession returns ErrUnauthorized for unknown tokens.
func (d *Database) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := d.getSessionStmt.QueryRowContext(ctx, id).Scan(&s.ID, &s.UserID, &s.Role, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (d *Database) DeleteSession(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions logs the user out everywhere.
func (d *Database) DeleteUserSessions(ctx context.Context, userID int64) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// ExtendSession pushes the expiry of a session one full TTL from now.
func (d *Database) ExtendSession(ctx context.Context, id string) error {
	expires := d.now().UTC().Add(d.sessionTTL).Format(TimeLayout)
	if _, err := d.db.ExecContext(ctx, `UPDATE sessions SET expires_at=? WHERE id=?`, expires, id); err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry.
func (d *Database) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, d.timestamp())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (d *Database) sessionExpired(s *Session) bool {
	return s.ExpiresAt <= d.timestamp()
}

// sessionNeedsExtension is true once less than half of the TTL remains.
func (d *Database) sessionNeedsExtension(s *Session) bool {
	expires, err := time.Parse(TimeLayout, s.ExpiresAt)
	if err != nil {
		return true
	}
	return expires.Sub(d.now()) < d.sessionTTL/2
}
