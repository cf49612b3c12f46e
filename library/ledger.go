package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
)

var dialect = goqu.Dialect("sqlite3")

// selectOpenEntrySQL picks the newest open entry should more than one exist.
const selectOpenEntrySQL = `SELECT id,user_id,book_id,checkout_date,return_date FROM checkout_history
    WHERE book_id=? AND return_date IS NULL ORDER BY id DESC LIMIT 1`

// CheckoutBook opens a ledger entry for the book and marks it unavailable.
// One open entry per book exists system-wide: the in-transaction check gives
// the friendly error and the partial unique index is the final guard.
func (d *Database) CheckoutBook(ctx context.Context, userID, bookID int64) (*CheckoutEntry, error) {
	var entry *CheckoutEntry
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		var active bool
		err := tx.QueryRowContext(ctx, `SELECT is_active FROM users WHERE id=?`, userID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if !active {
			return ErrAccountDeactivated
		}

		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`, bookID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrBookNotFound
		}

		var open bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM checkout_history WHERE book_id=? AND return_date IS NULL)`, bookID).Scan(&open); err != nil {
			return err
		}
		if open {
			return ErrAlreadyCheckedOut
		}

		now := d.timestamp()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO checkout_history(user_id,book_id,checkout_date) VALUES(?,?,?)`, userID, bookID, now)
		if isUniqueViolation(err) {
			return ErrAlreadyCheckedOut
		}
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE books SET available=0 WHERE id=?`, bookID); err != nil {
			return err
		}
		entry = &CheckoutEntry{ID: id, UserID: userID, BookID: bookID, CheckoutDate: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ReturnBook closes the most recent open entry of the book. A non-zero
// borrowerID restricts the return to that borrower's own loan.
func (d *Database) ReturnBook(ctx context.Context, bookID, borrowerID int64) (*CheckoutEntry, error) {
	var entry CheckoutEntry
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &entry, selectOpenEntrySQL, bookID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoActiveCheckout
		}
		if err != nil {
			return err
		}
		if borrowerID != 0 && entry.UserID != borrowerID {
			return ErrNotBorrower
		}

		// The clock may step backwards; a loan never ends before it starts.
		returned := d.timestamp()
		if returned < entry.CheckoutDate {
			returned = entry.CheckoutDate
		}
		if _, err := tx.ExecContext(ctx, `UPDATE checkout_history SET return_date=? WHERE id=?`, returned, entry.ID); err != nil {
			return err
		}
		entry.ReturnDate = &returned

		_, err = tx.ExecContext(ctx, `UPDATE books SET available = NOT EXISTS(
                SELECT 1 FROM checkout_history WHERE book_id=? AND return_date IS NULL)
            WHERE id=?`, bookID, bookID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// OpenEntry returns the current loan of a book.
func (d *Database) OpenEntry(ctx context.Context, bookID int64) (*CheckoutEntry, error) {
	var entry CheckoutEntry
	err := d.db.GetContext(ctx, &entry, selectOpenEntrySQL, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveCheckout
	}
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	return &entry, nil
}

// ---------------------------------------------------------------------------
// History views
// ---------------------------------------------------------------------------

// historyQuery left-joins so entries of deleted books or users still show.
func historyQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T("checkout_history").As("h")).
		LeftJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("h.book_id")))).
		LeftJoin(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("h.user_id")))).
		Select(
			goqu.I("h.id").As("id"),
			goqu.I("h.user_id").As("user_id"),
			goqu.I("h.book_id").As("book_id"),
			goqu.I("h.checkout_date").As("checkout_date"),
			goqu.I("h.return_date").As("return_date"),
			goqu.COALESCE(goqu.I("b.title"), "").As("title"),
			goqu.COALESCE(goqu.I("b.title"), "").As("book_title"),
			goqu.COALESCE(goqu.I("b.author"), "").As("author"),
			goqu.COALESCE(goqu.I("u.name"), "").As("user_name"),
			goqu.COALESCE(goqu.I("u.email"), "").As("user_email"),
		).
		Order(goqu.I("h.checkout_date").Desc(), goqu.I("h.id").Desc())
}

func (d *Database) selectHistory(ctx context.Context, ds *goqu.SelectDataset) ([]*HistoryEntry, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}
	entries := []*HistoryEntry{}
	if err := d.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	return entries, nil
}

// UserHistory lists every loan of a user, newest first.
func (d *Database) UserHistory(ctx context.Context, userID int64) ([]*HistoryEntry, error) {
	return d.selectHistory(ctx, historyQuery().Where(goqu.I("h.user_id").Eq(userID)))
}

// BookHistory lists every loan of a book with its borrowers, newest first.
func (d *Database) BookHistory(ctx context.Context, bookID int64) ([]*HistoryEntry, error) {
	return d.selectHistory(ctx, historyQuery().Where(goqu.I("h.book_id").Eq(bookID)))
}

// AllHistory lists the whole ledger, newest first.
func (d *Database) AllHistory(ctx context.Context) ([]*HistoryEntry, error) {
	return d.selectHistory(ctx, historyQuery())
}

// ReconcileAvailability rewrites every cached availability flag that
// disagrees with the ledger and returns the ids it repaired.
func (d *Database) ReconcileAvailability(ctx context.Context) ([]int64, error) {
	repaired := []int64{}
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &repaired, `SELECT b.id FROM books b
            WHERE b.available <> (NOT EXISTS(
                SELECT 1 FROM checkout_history h WHERE h.book_id = b.id AND h.return_date IS NULL))
            ORDER BY b.id`); err != nil {
			return err
		}
		for _, id := range repaired {
			if _, err := tx.ExecContext(ctx, `UPDATE books SET available = NOT EXISTS(
                    SELECT 1 FROM checkout_history WHERE book_id=? AND return_date IS NULL)
                WHERE id=?`, id, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile availability: %w", err)
	}
	return repaired, nil
}
