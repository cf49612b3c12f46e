package library

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

const (
	trendDays   = 7
	topListSize = 5
)

// Dashboard computes the admin overview straight from the ledger.
func (d *Database) Dashboard(ctx context.Context) (*Dashboard, error) {
	dash := &Dashboard{
		Trend7d:  []TrendPoint{},
		TopBooks: []TopBook{},
		TopUsers: []TopUser{},
	}

	if err := d.db.GetContext(ctx, &dash.Totals, `SELECT
            (SELECT COUNT(*) FROM books) AS total_books,
            (SELECT COUNT(*) FROM users) AS total_users,
            (SELECT COUNT(*) FROM checkout_history WHERE return_date IS NULL) AS active_loans`); err != nil {
		return nil, fmt.Errorf("dashboard totals: %w", err)
	}

	// Every day of the window is generated so days without checkouts report 0.
	today := d.now().UTC().Format(dateLayout)
	if err := d.db.SelectContext(ctx, &dash.Trend7d, `WITH RECURSIVE days(day) AS (
                SELECT date(?, ?)
                UNION ALL
                SELECT date(day, '+1 day') FROM days WHERE day < date(?)
            )
            SELECT days.day AS date, COUNT(h.id) AS count
            FROM days
            LEFT JOIN checkout_history h ON substr(h.checkout_date, 1, 10) = days.day
            GROUP BY days.day
            ORDER BY days.day`, today, fmt.Sprintf("-%d days", trendDays-1), today); err != nil {
		return nil, fmt.Errorf("dashboard trend: %w", err)
	}

	if err := d.db.SelectContext(ctx, &dash.TopBooks, `SELECT h.book_id AS book_id,
                COALESCE(b.title, '') AS title, COUNT(*) AS count
            FROM checkout_history h
            LEFT JOIN books b ON b.id = h.book_id
            GROUP BY h.book_id
            ORDER BY count DESC, h.book_id ASC
            LIMIT ?`, topListSize); err != nil {
		return nil, fmt.Errorf("dashboard top books: %w", err)
	}

	if err := d.db.SelectContext(ctx, &dash.TopUsers, `SELECT h.user_id AS user_id,
                COALESCE(u.name, '') AS name, COALESCE(u.email, '') AS email, COUNT(*) AS count
            FROM checkout_history h
            LEFT JOIN users u ON u.id = h.user_id
            GROUP BY h.user_id
            ORDER BY count DESC, h.user_id ASC
            LIMIT ?`, topListSize); err != nil {
		return nil, fmt.Errorf("dashboard top users: %w", err)
	}

	// Open entries have no duration and are excluded.
	var avg sql.NullFloat64
	if err := d.db.GetContext(ctx, &avg, `SELECT AVG(julianday(return_date) - julianday(checkout_date))
            FROM checkout_history WHERE return_date IS NOT NULL`); err != nil {
		return nil, fmt.Errorf("dashboard average: %w", err)
	}
	if avg.Valid {
		dash.AvgBorrowDays = math.Round(avg.Float64*100) / 100
	}
	return dash, nil
}
