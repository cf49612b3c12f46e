package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// AddUser inserts a user with an already hashed password.
func (d *Database) AddUser(ctx context.Context, name, email, passwordHash string, role Role) (*User, error) {
	now := d.timestamp()
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO users(name,email,password_hash,role,is_active,created_at,updated_at) VALUES(?,?,?,?,1,?,?)`,
		name, email, passwordHash, role, now, now)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetUser(ctx, id)
}

func (d *Database) GetUser(ctx context.Context, id int64) (*User, error) {
	return scanUser(d.getUserStmt.QueryRowContext(ctx, id))
}

func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(d.db.QueryRowContext(ctx,
		`SELECT id,name,email,password_hash,role,is_active,created_at,updated_at FROM users WHERE email=?`, email))
}

// ListUsers returns all users ordered by id.
func (d *Database) ListUsers(ctx context.Context) ([]*User, error) {
	users := []*User{}
	err := d.db.SelectContext(ctx, &users,
		`SELECT id,name,email,password_hash,role,is_active,created_at,updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CountActiveAdmins is used at startup to warn about a locked-out install.
func (d *Database) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := d.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE role=? AND is_active=1`, RoleAdmin)
	return n, err
}

// UpdateProfile changes name and email. The uniqueness check skips the
// user's own row so re-saving an unchanged email succeeds.
func (d *Database) UpdateProfile(ctx context.Context, id int64, name, email string) (*User, error) {
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		var taken bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE email=? AND id<>?)`, email, id).Scan(&taken); err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET name=?, email=?, updated_at=? WHERE id=?`, name, email, d.timestamp(), id)
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		if err != nil {
			return err
		}
		return requireAffected(res, ErrUserNotFound)
	})
	if err != nil {
		return nil, err
	}
	return d.GetUser(ctx, id)
}

// SetPasswordHash stores a new digest for the user.
func (d *Database) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE users SET password_hash=?, updated_at=? WHERE id=?`, hash, d.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(res, ErrUserNotFound)
}

// SetUserRole stores the new role and rewrites it on every live session of
// the user so the next role check sees it without a fresh login.
func (d *Database) SetUserRole(ctx context.Context, id int64, role Role) (*User, error) {
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET role=?, updated_at=? WHERE id=?`, role, d.timestamp(), id)
		if err != nil {
			return err
		}
		if err := requireAffected(res, ErrUserNotFound); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET role=? WHERE user_id=?`, role, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d.GetUser(ctx, id)
}

// SetUserActive flips the active flag. Deactivation revokes every session of
// the user in the same transaction.
func (d *Database) SetUserActive(ctx context.Context, id int64, active bool) (*User, error) {
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET is_active=?, updated_at=? WHERE id=?`, active, d.timestamp(), id)
		if err != nil {
			return err
		}
		if err := requireAffected(res, ErrUserNotFound); err != nil {
			return err
		}
		if !active {
			_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return d.GetUser(ctx, id)
}

// ToggleUserActive flips the active flag in a single transaction, revoking
// every session of the user when the flip deactivates them.
func (d *Database) ToggleUserActive(ctx context.Context, id int64) (*User, error) {
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET is_active = NOT is_active, updated_at=? WHERE id=?`, d.timestamp(), id)
		if err != nil {
			return err
		}
		if err := requireAffected(res, ErrUserNotFound); err != nil {
			return err
		}
		var active bool
		if err := tx.GetContext(ctx, &active, `SELECT is_active FROM users WHERE id=?`, id); err != nil {
			return err
		}
		if !active {
			_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return d.GetUser(ctx, id)
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
