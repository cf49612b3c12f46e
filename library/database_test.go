package library

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeClock is a settable clock shared by goroutines.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func tempDB(t *testing.T, opts ...Option) *Database {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithBcryptCost(bcrypt.MinCost)}, opts...)
	db, err := NewDatabase(filepath.Join(dir, "test.db"), opts...)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func addUser(t *testing.T, db *Database, name, email string) int64 {
	t.Helper()
	u, err := db.AddUser(context.Background(), name, email, "x", RoleMember)
	require.NoError(t, err)
	return u.ID
}

func addBook(t *testing.T, db *Database, title string) int64 {
	t.Helper()
	b, err := db.AddBook(context.Background(), BookInput{Title: title, Author: "Author"})
	require.NoError(t, err)
	return b.ID
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	for i := 0; i < 2; i++ {
		db, err := NewDatabase(path)
		require.NoError(t, err)
		v, err := db.SchemaVersion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, migrations[len(migrations)-1].version, v)
		require.NoError(t, db.Close())
	}
}

func TestCheckoutFlow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	db := tempDB(t, WithClock(clock.Now))
	bookID := addBook(t, db, "Book")
	memberID := addUser(t, db, "Alice", "alice@test.com")

	entry, err := db.CheckoutBook(ctx, memberID, bookID)
	require.NoError(t, err)
	assert.Nil(t, entry.ReturnDate)

	book, err := db.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.False(t, book.Available)

	clock.Advance(48 * time.Hour)
	returned, err := db.ReturnBook(ctx, bookID, 0)
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, entry.ID, returned.ID)
	assert.GreaterOrEqual(t, *returned.ReturnDate, returned.CheckoutDate)

	book, err = db.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.True(t, book.Available)

	history, err := db.BookHistory(ctx, bookID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].ReturnDate)
	assert.Equal(t, "Alice", history[0].UserName)
	assert.Equal(t, "alice@test.com", history[0].UserEmail)
}

func TestCheckoutTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := addBook(t, db, "Book")
	alice := addUser(t, db, "Alice", "alice@test.com")
	bob := addUser(t, db, "Bob", "bob@test.com")

	_, err := db.CheckoutBook(ctx, alice, bookID)
	require.NoError(t, err)

	_, err = db.CheckoutBook(ctx, alice, bookID)
	assert.ErrorIs(t, err, ErrAlreadyCheckedOut)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = db.CheckoutBook(ctx, bob, bookID)
	assert.ErrorIs(t, err, ErrAlreadyCheckedOut)
}

func TestCheckoutPreconditions(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := addBook(t, db, "Book")
	alice := addUser(t, db, "Alice", "alice@test.com")

	_, err := db.CheckoutBook(ctx, 9999, bookID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = db.CheckoutBook(ctx, alice, 9999)
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = db.SetUserActive(ctx, alice, false)
	require.NoError(t, err)
	_, err = db.CheckoutBook(ctx, alice, bookID)
	assert.ErrorIs(t, err, ErrAccountDeactivated)
}

func TestReturnWithoutOpenEntry(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := addBook(t, db, "Book")

	_, err := db.ReturnBook(ctx, bookID, 0)
	assert.ErrorIs(t, err, ErrNoActiveCheckout)
	assert.Equal(t, KindNotFound, KindOf(err))

	alice := addUser(t, db, "Alice", "alice@test.com")
	_, err = db.CheckoutBook(ctx, alice, bookID)
	require.NoError(t, err)
	_, err = db.ReturnBook(ctx, bookID, 0)
	require.NoError(t, err)

	_, err = db.ReturnBook(ctx, bookID, 0)
	assert.ErrorIs(t, err, ErrNoActiveCheckout)
}

func TestReturnRestrictedToBorrower(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := addBook(t, db, "Book")
	alice := addUser(t, db, "Alice", "alice@test.com")
	bob := addUser(t, db, "Bob", "bob@test.com")

	_, err := db.CheckoutBook(ctx, alice, bookID)
	require.NoError(t, err)

	_, err = db.ReturnBook(ctx, bookID, bob)
	assert.ErrorIs(t, err, ErrNotBorrower)

	_, err = db.ReturnBook(ctx, bookID, alice)
	assert.NoError(t, err)
}

func TestReturnClampsBackwardsClock(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	db := tempDB(t, WithClock(clock.Now))
	bookID := addBook(t, db, "Book")
	alice := addUser(t, db, "Alice", "alice@test.com")

	entry, err := db.CheckoutBook(ctx, alice, bookID)
	require.NoError(t, err)

	clock.Set(time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC))
	returned, err := db.ReturnBook(ctx, bookID, 0)
	require.NoError(t, err)
	assert.Equal(t, entry.CheckoutDate, *returned.ReturnDate)
}

// TestConcurrentCheckout races two borrowers for the same book.
func TestConcurrentCheckout(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)

	for round := 0; round < 10; round++ {
		bookID := addBook(t, db, "Contested")
		u1 := addUser(t, db, "U1", fmt.Sprintf("u1-%d@test.com", round))
		u2 := addUser(t, db, "U2", fmt.Sprintf("u2-%d@test.com", round))

		start := make(chan struct{})
		done1 := make(chan error, 1)
		done2 := make(chan error, 1)

		go func() {
			<-start
			_, err := db.CheckoutBook(ctx, u1, bookID)
			done1 <- err
		}()
		go func() {
			<-start
			_, err := db.CheckoutBook(ctx, u2, bookID)
			done2 <- err
		}()
		close(start)

		err1, err2 := <-done1, <-done2
		if (err1 == nil) == (err2 == nil) {
			t.Fatalf("round %d: want exactly one success, got %v and %v", round, err1, err2)
		}
		failed := err1
		if failed == nil {
			failed = err2
		}
		assert.ErrorIs(t, failed, ErrAlreadyCheckedOut)

		open, err := db.OpenEntry(ctx, bookID)
		require.NoError(t, err)
		assert.Contains(t, []int64{u1, u2}, open.UserID)
	}
}

func TestPartialIndexRejectsSecondOpenEntry(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := addBook(t, db, "Book")
	alice := addUser(t, db, "Alice", "alice@test.com")

	_, err := db.CheckoutBook(ctx, alice, bookID)
	require.NoError(t, err)

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO checkout_history(user_id,book_id,checkout_date) VALUES(?,?,?)`, alice, bookID, db.timestamp())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestReconcileAvailability(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	onLoan := addBook(t, db, "On loan")
	onShelf := addBook(t, db, "On shelf")
	alice := addUser(t, db, "Alice", "alice@test.com")

	_, err := db.CheckoutBook(ctx, alice, onLoan)
	require.NoError(t, err)

	repaired, err := db.ReconcileAvailability(ctx)
	require.NoError(t, err)
	assert.Empty(t, repaired)

	// Corrupt both cached flags behind the ledger's back.
	_, err = db.db.ExecContext(ctx, `UPDATE books SET available=1 WHERE id=?`, onLoan)
	require.NoError(t, err)
	_, err = db.db.ExecContext(ctx, `UPDATE books SET available=0 WHERE id=?`, onShelf)
	require.NoError(t, err)

	repaired, err = db.ReconcileAvailability(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{onLoan, onShelf}, repaired)

	var cached []bool
	require.NoError(t, db.db.SelectContext(ctx, &cached, `SELECT available FROM books ORDER BY id`))
	assert.Equal(t, []bool{false, true}, cached)

	repaired, err = db.ReconcileAvailability(ctx)
	require.NoError(t, err)
	assert.Empty(t, repaired)
}

func TestDeleteBookKeepsHistory(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := addBook(t, db, "Doomed")
	alice := addUser(t, db, "Alice", "alice@test.com")

	_, err := db.CheckoutBook(ctx, alice, bookID)
	require.NoError(t, err)
	assert.ErrorIs(t, db.DeleteBook(ctx, bookID), ErrBookOnLoan)

	_, err = db.ReturnBook(ctx, bookID, 0)
	require.NoError(t, err)
	require.NoError(t, db.DeleteBook(ctx, bookID))
	assert.ErrorIs(t, db.DeleteBook(ctx, bookID), ErrBookNotFound)

	history, err := db.UserHistory(ctx, alice)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, bookID, history[0].BookID)
	assert.Empty(t, history[0].Title)
}

func TestHistoryOrderedNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	db := tempDB(t, WithClock(clock.Now))
	alice := addUser(t, db, "Alice", "alice@test.com")
	first := addBook(t, db, "First")
	second := addBook(t, db, "Second")

	_, err := db.CheckoutBook(ctx, alice, first)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = db.CheckoutBook(ctx, alice, second)
	require.NoError(t, err)

	history, err := db.UserHistory(ctx, alice)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Second", history[0].Title)
	assert.Equal(t, "First", history[1].Title)

	all, err := db.AllHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListBooksSearch(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	_, err := db.AddBook(ctx, BookInput{Title: "Animal Farm", Author: "George Orwell"})
	require.NoError(t, err)
	_, err = db.AddBook(ctx, BookInput{Title: "The Hobbit", Author: "J.R.R. Tolkien"})
	require.NoError(t, err)
	_, err = db.AddBook(ctx, BookInput{Title: "100% Pure", Author: "Anon"})
	require.NoError(t, err)

	all, err := db.ListBooks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	res, err := db.ListBooks(ctx, "orwell")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Animal Farm", res[0].Title)

	res, err = db.ListBooks(ctx, "%")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "100% Pure", res[0].Title)
}

func TestConcurrentToggleUserActive(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	id := addUser(t, db, "U", "u@test.com")

	const toggles = 8
	start := make(chan struct{})
	errs := make(chan error, toggles)
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := db.ToggleUserActive(ctx, id)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// An even number of flips lands back on the starting state.
	u, err := db.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.IsActive)

	_, err = db.ToggleUserActive(ctx, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
