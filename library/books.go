package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// openEntryExists is true while the book has a checkout without a return.
// Every read derives availability from it instead of the cached column.
var openEntryExists = goqu.L(
	`EXISTS(SELECT 1 FROM checkout_history h WHERE h.book_id = b.id AND h.return_date IS NULL)`)

func bookQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T("books").As("b")).
		Select(
			goqu.I("b.id").As("id"),
			goqu.I("b.title").As("title"),
			goqu.I("b.author").As("author"),
			goqu.I("b.year").As("year"),
			goqu.I("b.language").As("language"),
			goqu.L("NOT ?", openEntryExists).As("available"),
			goqu.I("b.created_at").As("created_at"),
		).
		Order(goqu.I("b.id").Asc())
}

// GetBook fetches one book with its ledger-derived availability.
func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	query, args, err := bookQuery().Where(goqu.I("b.id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}
	var b Book
	err = d.db.GetContext(ctx, &b, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &b, nil
}

// ListBooks returns the catalog. A non-empty search matches title or author
// case-insensitively.
func (d *Database) ListBooks(ctx context.Context, search string) ([]*Book, error) {
	ds := bookQuery()
	if q := strings.TrimSpace(search); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		ds = ds.Where(goqu.Or(
			goqu.L(`lower(b.title) LIKE ? ESCAPE '\'`, pattern),
			goqu.L(`lower(b.author) LIKE ? ESCAPE '\'`, pattern),
		))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}
	books := []*Book{}
	if err := d.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// AddBook inserts a book. New books are always available.
func (d *Database) AddBook(ctx context.Context, in BookInput) (*Book, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO books(title,author,year,language,available,created_at) VALUES(?,?,?,?,1,?)`,
		in.Title, in.Author, in.Year, in.Language, d.timestamp())
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetBook(ctx, id)
}

// UpdateBook replaces the editable metadata. Availability is owned by the
// ledger and is not touched here.
func (d *Database) UpdateBook(ctx context.Context, id int64, in BookInput) (*Book, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE books SET title=?, author=?, year=?, language=? WHERE id=?`,
		in.Title, in.Author, in.Year, in.Language, id)
	if err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}
	if err := requireAffected(res, ErrBookNotFound); err != nil {
		return nil, err
	}
	return d.GetBook(ctx, id)
}

// DeleteBook hard-deletes a book. History rows keep pointing at the old id.
// A book on loan cannot be deleted.
func (d *Database) DeleteBook(ctx context.Context, id int64) error {
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		var onLoan bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM checkout_history WHERE book_id=? AND return_date IS NULL)`, id).Scan(&onLoan); err != nil {
			return err
		}
		if onLoan {
			return ErrBookOnLoan
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id=?`, id)
		if err != nil {
			return err
		}
		return requireAffected(res, ErrBookNotFound)
	})
}
