package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 4

// LibraryManager is the façade the HTTP surface and the CLI talk to. It
// validates input, applies the access rules and delegates storage to the
// Database.
type LibraryManager struct {
	db *Database
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath, opts...)
	if err != nil {
		return nil, err
	}
	return &LibraryManager{db: db}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Database exposes the storage layer for maintenance commands.
func (lm *LibraryManager) Database() *Database { return lm.db }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return Validation("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

func (lm *LibraryManager) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), lm.db.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ------------------ User directory ------------------

// Register is public self-registration. The role is always member.
func (lm *LibraryManager) Register(ctx context.Context, name, email, password string) (*User, error) {
	return lm.CreateUser(ctx, name, email, password, RoleMember)
}

// CreateUser adds an active user with the given role.
func (lm *LibraryManager) CreateUser(ctx context.Context, name, email, password string, role Role) (*User, error) {
	name, email = strings.TrimSpace(name), normalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return nil, Validation("name, email and password are required")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	role, err := ParseRole(string(role))
	if err != nil {
		return nil, err
	}
	hash, err := lm.hashPassword(password)
	if err != nil {
		return nil, err
	}
	return lm.db.AddUser(ctx, name, email, hash, role)
}

func (lm *LibraryManager) GetUser(ctx context.Context, id int64) (*User, error) {
	return lm.db.GetUser(ctx, id)
}

func (lm *LibraryManager) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return lm.db.GetUserByEmail(ctx, normalizeEmail(email))
}

func (lm *LibraryManager) ListUsers(ctx context.Context) ([]*User, error) {
	return lm.db.ListUsers(ctx)
}

// UpdateProfile is the self-service name and email change.
func (lm *LibraryManager) UpdateProfile(ctx context.Context, id int64, name, email string) (*User, error) {
	name, email = strings.TrimSpace(name), normalizeEmail(email)
	if name == "" || email == "" {
		return nil, Validation("name and email are required")
	}
	return lm.db.UpdateProfile(ctx, id, name, email)
}

// ChangePassword verifies the current password before storing the new one.
func (lm *LibraryManager) ChangePassword(ctx context.Context, id int64, current, next string) error {
	if current == "" || next == "" {
		return Validation("current and new password are required")
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	user, err := lm.db.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrWrongCurrentPassword
	}
	hash, err := lm.hashPassword(next)
	if err != nil {
		return err
	}
	return lm.db.SetPasswordHash(ctx, id, hash)
}

// ResetPassword sets a password without knowing the old one.
func (lm *LibraryManager) ResetPassword(ctx context.Context, id int64, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hash, err := lm.hashPassword(password)
	if err != nil {
		return err
	}
	return lm.db.SetPasswordHash(ctx, id, hash)
}

// SetUserRole changes a user's role. Live sessions of the target pick up the
// new role, and so does the caller's in-flight principal when they changed
// their own role.
func (lm *LibraryManager) SetUserRole(ctx context.Context, actor *Principal, id int64, role Role) (*User, error) {
	if err := Authorize(actor, OpManageUsers); err != nil {
		return nil, err
	}
	role, err := ParseRole(string(role))
	if err != nil {
		return nil, err
	}
	user, err := lm.db.SetUserRole(ctx, id, role)
	if err != nil {
		return nil, err
	}
	if actor.UserID == id {
		actor.Role = role
	}
	return user, nil
}

// SetUserActive activates or deactivates a user. Deactivation revokes all of
// the target's sessions; selfRevoked reports that the caller's own session was
// among them.
func (lm *LibraryManager) SetUserActive(ctx context.Context, actor *Principal, id int64, active bool) (user *User, selfRevoked bool, err error) {
	if err := Authorize(actor, OpManageUsers); err != nil {
		return nil, false, err
	}
	user, err = lm.db.SetUserActive(ctx, id, active)
	if err != nil {
		return nil, false, err
	}
	return user, !active && actor.UserID == id, nil
}

// ToggleUserActive flips the active flag of a user.
func (lm *LibraryManager) ToggleUserActive(ctx context.Context, actor *Principal, id int64) (*User, bool, error) {
	if err := Authorize(actor, OpManageUsers); err != nil {
		return nil, false, err
	}
	user, err := lm.db.ToggleUserActive(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return user, !user.IsActive && actor.UserID == id, nil
}

// ------------------ Sessions ------------------

// Authenticate runs the credential state machine. Unknown email and wrong
// password are indistinguishable to the caller; a deactivated account is not.
func (lm *LibraryManager) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := lm.db.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and opens a session carrying the user's current role.
func (lm *LibraryManager) Login(ctx context.Context, email, password string) (*Session, *User, error) {
	user, err := lm.Authenticate(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	session, err := lm.db.CreateSession(ctx, user.ID, user.Role)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

func (lm *LibraryManager) Logout(ctx context.Context, sessionID string) error {
	return lm.db.DeleteSession(ctx, sessionID)
}

// ValidateSession resolves a token into a principal. The user row is
// re-read on every call: a session of a deleted or deactivated user is
// cleared and rejected.
func (lm *LibraryManager) ValidateSession(ctx context.Context, sessionID string) (*Principal, error) {
	if sessionID == "" {
		return nil, ErrUnauthorized
	}
	session, err := lm.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if lm.db.sessionExpired(session) {
		if err := lm.db.DeleteSession(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}

	user, err := lm.db.GetUser(ctx, session.UserID)
	if errors.Is(err, ErrUserNotFound) {
		if err := lm.db.DeleteSession(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		if err := lm.db.DeleteUserSessions(ctx, user.ID); err != nil {
			return nil, err
		}
		return nil, ErrSessionRevoked
	}

	if lm.db.sessionNeedsExtension(session) {
		if err := lm.db.ExtendSession(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	return &Principal{
		SessionID: session.ID,
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      session.Role,
	}, nil
}

// CleanupExpiredSessions drops sessions past their expiry.
func (lm *LibraryManager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return lm.db.DeleteExpiredSessions(ctx)
}

// ------------------ Catalog ------------------

func validateBook(in BookInput) (BookInput, error) {
	in.Title, in.Author = strings.TrimSpace(in.Title), strings.TrimSpace(in.Author)
	if in.Title == "" || in.Author == "" {
		return in, Validation("title and author are required")
	}
	if in.Language != nil {
		lang := strings.TrimSpace(*in.Language)
		if lang == "" {
			in.Language = nil
		} else {
			in.Language = &lang
		}
	}
	return in, nil
}

func (lm *LibraryManager) ListBooks(ctx context.Context, search string) ([]*Book, error) {
	return lm.db.ListBooks(ctx, search)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) AddBook(ctx context.Context, in BookInput) (*Book, error) {
	in, err := validateBook(in)
	if err != nil {
		return nil, err
	}
	return lm.db.AddBook(ctx, in)
}

func (lm *LibraryManager) UpdateBook(ctx context.Context, id int64, in BookInput) (*Book, error) {
	in, err := validateBook(in)
	if err != nil {
		return nil, err
	}
	return lm.db.UpdateBook(ctx, id, in)
}

func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	return lm.db.DeleteBook(ctx, id)
}

// ------------------ Circulation ------------------

// Checkout lends the book to userID, or to the caller when userID is zero.
// Lending to somebody else is a staff operation.
func (lm *LibraryManager) Checkout(ctx context.Context, actor *Principal, bookID, userID int64) (*CheckoutEntry, error) {
	if err := Authorize(actor, OpCheckout); err != nil {
		return nil, err
	}
	if userID == 0 {
		userID = actor.UserID
	}
	if userID != actor.UserID {
		if err := Authorize(actor, OpCheckoutOnBehalf); err != nil {
			return nil, err
		}
	}
	return lm.db.CheckoutBook(ctx, userID, bookID)
}

// Return closes the open loan of the book. Staff may return any loan,
// everybody else only their own.
func (lm *LibraryManager) Return(ctx context.Context, actor *Principal, bookID int64) (*CheckoutEntry, error) {
	if err := Authorize(actor, OpReturn); err != nil {
		return nil, err
	}
	var borrower int64
	if Authorize(actor, OpReturnAny) != nil {
		borrower = actor.UserID
	}
	return lm.db.ReturnBook(ctx, bookID, borrower)
}

func (lm *LibraryManager) UserHistory(ctx context.Context, actor *Principal, userID int64) ([]*HistoryEntry, error) {
	if err := AuthorizeUserHistory(actor, userID); err != nil {
		return nil, err
	}
	return lm.db.UserHistory(ctx, userID)
}

func (lm *LibraryManager) BookHistory(ctx context.Context, actor *Principal, bookID int64) ([]*HistoryEntry, error) {
	if err := Authorize(actor, OpViewBookHistory); err != nil {
		return nil, err
	}
	return lm.db.BookHistory(ctx, bookID)
}

func (lm *LibraryManager) AllHistory(ctx context.Context, actor *Principal) ([]*HistoryEntry, error) {
	if err := Authorize(actor, OpViewAllHistory); err != nil {
		return nil, err
	}
	return lm.db.AllHistory(ctx)
}

func (lm *LibraryManager) Dashboard(ctx context.Context, actor *Principal) (*Dashboard, error) {
	if err := Authorize(actor, OpViewDashboard); err != nil {
		return nil, err
	}
	return lm.db.Dashboard(ctx)
}

// ReconcileAvailability repairs cached availability flags from the ledger.
func (lm *LibraryManager) ReconcileAvailability(ctx context.Context) ([]int64, error) {
	return lm.db.ReconcileAvailability(ctx)
}

// ------------------ Audit ------------------

func (lm *LibraryManager) Audit(ctx context.Context, e AuditEntry) error {
	return lm.db.InsertAudit(ctx, e)
}

// Audit paging bounds. Their product keeps the row offset well inside int32.
const (
	DefaultAuditPerPage = 50
	MaxAuditPerPage     = 500
	MaxAuditPage        = 1_000_000
)

// ListAudit pages through the audit log. perPage defaults to 50; page and
// perPage are clamped to MaxAuditPage and MaxAuditPerPage.
func (lm *LibraryManager) ListAudit(ctx context.Context, page, perPage int) ([]*AuditLog, int, error) {
	if perPage <= 0 {
		perPage = DefaultAuditPerPage
	}
	perPage = min(perPage, MaxAuditPerPage)
	page = min(max(page, 1), MaxAuditPage)
	return lm.db.ListAudit(ctx, perPage, (page-1)*perPage)
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for CLI lists.
func PrettyBook(b *Book) string {
	year := ""
	if b.Year != nil {
		year = fmt.Sprint(*b.Year)
	}
	return fmt.Sprintf("%-5d %-30s %-25s %-6s %-10t", b.ID, TruncateString(b.Title, 30), TruncateString(b.Author, 25), year, b.Available)
}

// TruncateString shortens s to at most maxLen runes, marking the cut with
// "..." when there is room for it.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
