package library

import "strings"

// Role is the access level recorded on a user and captured into each session.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleMember    Role = "member"
	// RoleUser is the legacy default of accounts created before roles existed.
	// It carries member capabilities and cannot be assigned any more.
	RoleUser Role = "user"
)

// AssignableRoles lists the roles an administrator may grant.
var AssignableRoles = []Role{RoleAdmin, RoleLibrarian, RoleMember}

// ParseRole normalises s and accepts only assignable roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, ok := range AssignableRoles {
		if r == ok {
			return r, nil
		}
	}
	return "", ErrInvalidRole
}

// User is a library account. PasswordHash never leaves the process.
type User struct {
	ID           int64  `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"`
	Role         Role   `json:"role" db:"role"`
	IsActive     bool   `json:"is_active" db:"is_active"`
	CreatedAt    string `json:"created_at" db:"created_at"`
	UpdatedAt    string `json:"updated_at" db:"updated_at"`
}

// Book represents catalog metadata. Available is derived from the checkout
// ledger on every read.
type Book struct {
	ID        int64   `json:"id" db:"id"`
	Title     string  `json:"title" db:"title"`
	Author    string  `json:"author" db:"author"`
	Year      *int64  `json:"year" db:"year"`
	Language  *string `json:"language" db:"language"`
	Available bool    `json:"available" db:"available"`
	CreatedAt string  `json:"created_at" db:"created_at"`
}

// BookInput carries the editable fields of a book.
type BookInput struct {
	Title    string
	Author   string
	Year     *int64
	Language *string
}

// CheckoutEntry is one row of the checkout ledger. A nil ReturnDate marks an
// open entry.
type CheckoutEntry struct {
	ID           int64   `json:"id" db:"id"`
	UserID       int64   `json:"user_id" db:"user_id"`
	BookID       int64   `json:"book_id" db:"book_id"`
	CheckoutDate string  `json:"checkout_date" db:"checkout_date"`
	ReturnDate   *string `json:"return_date" db:"return_date"`
}

// HistoryEntry is a ledger row joined with the book and borrower it refers
// to. Title and borrower fields are empty when the referenced row is gone.
// BookTitle repeats Title under the key the book and admin history views read.
type HistoryEntry struct {
	CheckoutEntry
	Title     string `json:"title" db:"title"`
	BookTitle string `json:"book_title" db:"book_title"`
	Author    string `json:"author" db:"author"`
	UserName  string `json:"user_name" db:"user_name"`
	UserEmail string `json:"email" db:"user_email"`
}

// Session binds an opaque token to a user and the role they held at login.
type Session struct {
	ID        string `json:"-" db:"id"`
	UserID    int64  `json:"user_id" db:"user_id"`
	Role      Role   `json:"role" db:"role"`
	ExpiresAt string `json:"expires_at" db:"expires_at"`
	CreatedAt string `json:"created_at" db:"created_at"`
}

// Principal is the authenticated caller of a request, resolved from a
// server-side session.
type Principal struct {
	SessionID string
	UserID    int64
	Name      string
	Email     string
	Role      Role
}

// AuditLog records who did what to which entity.
type AuditLog struct {
	ID         int64  `json:"id" db:"id"`
	UserID     *int64 `json:"user_id" db:"user_id"`
	Action     string `json:"action" db:"action"`
	EntityType string `json:"entity_type" db:"entity_type"`
	EntityID   *int64 `json:"entity_id" db:"entity_id"`
	Details    string `json:"details" db:"details"`
	IP         string `json:"ip" db:"ip"`
	CreatedAt  string `json:"created_at" db:"created_at"`
}

// Dashboard is the admin overview computed on demand from the ledger.
type Dashboard struct {
	Totals        DashboardTotals `json:"totals"`
	Trend7d       []TrendPoint    `json:"trend_7d"`
	TopBooks      []TopBook       `json:"top_books"`
	TopUsers      []TopUser       `json:"top_users"`
	AvgBorrowDays float64         `json:"avg_borrow_days"`
}

type DashboardTotals struct {
	TotalBooks  int64 `json:"total_books" db:"total_books"`
	TotalUsers  int64 `json:"total_users" db:"total_users"`
	ActiveLoans int64 `json:"active_loans" db:"active_loans"`
}

type TrendPoint struct {
	Date  string `json:"date" db:"date"`
	Count int64  `json:"count" db:"count"`
}

type TopBook struct {
	BookID int64  `json:"book_id" db:"book_id"`
	Title  string `json:"title" db:"title"`
	Count  int64  `json:"count" db:"count"`
}

type TopUser struct {
	UserID int64  `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`
	Email  string `json:"email" db:"email"`
	Count  int64  `json:"count" db:"count"`
}
