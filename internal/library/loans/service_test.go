package loans

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"office-library-backend/internal/library/books"
)

// ===== test doubles =====

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type seqID struct{ n int32 }

func (g *seqID) New() (string, error) {
	return fmt.Sprintf("loan-%d", atomic.AddInt32(&g.n, 1)), nil
}

// fakeLedger is an in-memory stand-in for the MySQL store. InTx serializes
// transactions with a mutex (the analogue of the FOR UPDATE row lock) and
// rolls mutations back when fn fails. InsertLoan enforces the same
// uniqueness rule as uq_loans_active_book: a second open loan for a book
// fails with MySQL error 1062.
type fakeLedger struct {
	mu         sync.Mutex
	colleagues map[string]ColleagueRef
	books      map[string]*books.Book
	loans      map[string]*Loan

	// hideActiveLoans simulates the check-then-act race window: the
	// pre-check sees no active loan, so only the insert constraint is left
	// to stop a double borrow.
	hideActiveLoans bool
	statusErr       error
	insertErr       error
	// failColleague makes lookups of that one colleague id error, to stand
	// in for a store failure partway through the transaction
	failColleague string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		colleagues: map[string]ColleagueRef{},
		books:      map[string]*books.Book{},
		loans:      map[string]*Loan{},
	}
}

func (f *fakeLedger) addColleague(id, name string) {
	f.colleagues[id] = ColleagueRef{ID: id, Name: name}
}

func (f *fakeLedger) addBook(id, title string) {
	f.books[id] = &books.Book{ID: id, Title: title, Author: "unknown", Status: books.StatusAvailable}
}

func (f *fakeLedger) activeLoans(bookID string) []*Loan {
	var out []*Loan
	for _, l := range f.loans {
		if l.BookID == bookID && l.Active() {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeLedger) InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapLoans := make(map[string]Loan, len(f.loans))
	for k, v := range f.loans {
		snapLoans[k] = *v
	}
	snapStatus := make(map[string]string, len(f.books))
	for k, b := range f.books {
		snapStatus[k] = b.Status
	}

	if err := fn(ctx, &fakeTx{f: f}); err != nil {
		// rollback
		f.loans = make(map[string]*Loan, len(snapLoans))
		for k := range snapLoans {
			l := snapLoans[k]
			f.loans[k] = &l
		}
		for k, st := range snapStatus {
			f.books[k].Status = st
		}
		return err
	}
	return nil
}

func (f *fakeLedger) List(ctx context.Context, filter LoanFilter) ([]Loan, error) {
	var out []Loan
	for _, l := range f.loans {
		if filter.BookID != nil && l.BookID != *filter.BookID {
			continue
		}
		if filter.ColleagueID != nil && l.ColleagueID != *filter.ColleagueID {
			continue
		}
		if filter.Returned != nil && *filter.Returned == l.Active() {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

type fakeTx struct{ f *fakeLedger }

func (t *fakeTx) GetColleague(ctx context.Context, id string) (*ColleagueRef, error) {
	if id != "" && id == t.f.failColleague {
		return nil, fmt.Errorf("lookup failed")
	}
	if c, ok := t.f.colleagues[id]; ok {
		ref := c
		return &ref, nil
	}
	return nil, nil
}

func (t *fakeTx) GetBookForUpdate(ctx context.Context, id string) (*books.Book, error) {
	if b, ok := t.f.books[id]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, nil
}

func (t *fakeTx) FindActiveLoan(ctx context.Context, bookID string) (*Loan, error) {
	if t.f.hideActiveLoans {
		return nil, nil
	}
	for _, l := range t.f.activeLoans(bookID) {
		copied := *l
		return &copied, nil
	}
	return nil, nil
}

func (t *fakeTx) FindActiveLoanFor(ctx context.Context, bookID, colleagueID string) (*Loan, error) {
	for _, l := range t.f.activeLoans(bookID) {
		if l.ColleagueID == colleagueID {
			copied := *l
			return &copied, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) InsertLoan(ctx context.Context, l *Loan) error {
	if t.f.insertErr != nil {
		return t.f.insertErr
	}
	if len(t.f.activeLoans(l.BookID)) > 0 {
		return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	}
	copied := *l
	t.f.loans[l.ID] = &copied
	return nil
}

func (t *fakeTx) MarkReturned(ctx context.Context, loanID string, at time.Time) error {
	l, ok := t.f.loans[loanID]
	if !ok || !l.Active() {
		return fmt.Errorf("loan %s already returned", loanID)
	}
	l.ReturnedAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

func (t *fakeTx) SetBookStatus(ctx context.Context, bookID, status string) error {
	if t.f.statusErr != nil {
		return t.f.statusErr
	}
	if b, ok := t.f.books[bookID]; ok {
		b.Status = status
	}
	return nil
}

func newTestService(f *fakeLedger) (*Service, *fixedClock) {
	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return newService(f, clock, &seqID{}), clock
}

// checkInvariant asserts status == borrowed iff an active loan exists, and
// never more than one active loan per book.
func checkInvariant(t *testing.T, f *fakeLedger) {
	t.Helper()
	for id, b := range f.books {
		active := f.activeLoans(id)
		assert.LessOrEqual(t, len(active), 1, "book %s has %d active loans", id, len(active))
		if b.Status == books.StatusBorrowed {
			assert.Len(t, active, 1, "book %s marked borrowed without an active loan", id)
		} else {
			assert.Empty(t, active, "book %s marked available with an active loan", id)
		}
	}
}

// ===== Borrow =====

func TestBorrowAvailableBook(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addBook("b1", "The Pragmatic Programmer")
	svc, clock := newTestService(f)

	view, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, books.StatusBorrowed, view.Status)
	require.NotNil(t, view.BorrowerName)
	assert.Equal(t, "Ada Lovelace", *view.BorrowerName)
	require.NotNil(t, view.BorrowedAt)
	assert.Equal(t, clock.t, *view.BorrowedAt)
	assert.False(t, view.Overdue)

	assert.Equal(t, books.StatusBorrowed, f.books["b1"].Status)
	assert.Len(t, f.activeLoans("b1"), 1)
	checkInvariant(t, f)
}

func TestBorrowAlreadyBorrowedBySomeoneElse(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addColleague("c2", "Grace Hopper")
	f.addBook("b1", "The Pragmatic Programmer")
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)

	_, err = svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c2"})
	require.Error(t, err)
	assert.Equal(t, 400, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "already borrowed by someone else")
	assert.Len(t, f.activeLoans("b1"), 1)
}

func TestBorrowTwiceBySameColleague(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addBook("b1", "The Pragmatic Programmer")
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)

	_, err = svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.Error(t, err)
	assert.Equal(t, 400, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "already have this book checked out")
	assert.Len(t, f.activeLoans("b1"), 1)
}

func TestBorrowStaleStatusWithoutActiveLoan(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addBook("b1", "The Pragmatic Programmer")
	f.books["b1"].Status = books.StatusBorrowed // cache ahead of the ledger
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.Error(t, err)
	assert.Equal(t, 400, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "already marked as borrowed")
}

func TestBorrowUnknownColleague(t *testing.T) {
	f := newFakeLedger()
	f.addBook("b1", "The Pragmatic Programmer")
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "nobody"})
	require.Error(t, err)
	assert.Equal(t, 404, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "Colleague not found")
}

func TestBorrowUnknownBook(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "nope", ColleagueID: "c1"})
	require.Error(t, err)
	assert.Equal(t, 404, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "Book not found")
}

func TestBorrowMissingFields(t *testing.T) {
	svc, _ := newTestService(newFakeLedger())

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1"})
	require.Error(t, err)
	assert.Equal(t, 400, toHTTPStatus(err))

	_, err = svc.Borrow(context.Background(), LoanActionRequest{ColleagueID: "c1"})
	require.Error(t, err)
	assert.Equal(t, 400, toHTTPStatus(err))
}

// The pre-check can miss a concurrent insert; the store constraint is the
// real guarantee. When the insert collides, the request fails as a conflict
// and nothing is committed.
func TestBorrowConstraintBackstop(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addColleague("c2", "Grace Hopper")
	f.addBook("b1", "The Pragmatic Programmer")
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)

	// make the active loan invisible to the pre-check, as it would be for a
	// transaction racing against an uncommitted insert
	f.hideActiveLoans = true
	f.books["b1"].Status = books.StatusAvailable

	_, err = svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c2"})
	require.Error(t, err)
	assert.Equal(t, 400, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "already borrowed by someone else")

	f.hideActiveLoans = false
	assert.Len(t, f.activeLoans("b1"), 1, "constraint must keep a single active loan")
}

func TestBorrowStatusWriteFailureRollsBackLoan(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addBook("b1", "The Pragmatic Programmer")
	f.statusErr = fmt.Errorf("write failed")
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.Error(t, err)
	assert.Equal(t, 500, toHTTPStatus(err))

	// the transaction rolled back: no orphan ledger row, status untouched
	assert.Empty(t, f.activeLoans("b1"))
	assert.Equal(t, books.StatusAvailable, f.books["b1"].Status)
	checkInvariant(t, f)
}

func TestBorrowInsertFailure(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addBook("b1", "The Pragmatic Programmer")
	f.insertErr = fmt.Errorf("connection lost")
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.Error(t, err)
	assert.Equal(t, 500, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "Unable to create loan")
}

func TestBorrowViewIncludesOwnerName(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addColleague("own1", "Grace Hopper")
	f.addBook("b1", "The Pragmatic Programmer")
	f.books["b1"].OwnerID = sql.NullString{String: "own1", Valid: true}
	svc, _ := newTestService(f)

	view, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)
	require.NotNil(t, view.OwnerName)
	assert.Equal(t, "Grace Hopper", *view.OwnerName)
}

// A failed owner lookup while assembling the response is a failed borrow,
// not a success with a hole in it; the transaction rolls back with it.
func TestBorrowOwnerLookupFailure(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addBook("b1", "The Pragmatic Programmer")
	f.books["b1"].OwnerID = sql.NullString{String: "own1", Valid: true}
	f.failColleague = "own1"
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.Error(t, err)

	assert.Empty(t, f.activeLoans("b1"))
	assert.Equal(t, books.StatusAvailable, f.books["b1"].Status)
	checkInvariant(t, f)
}

func TestConcurrentBorrowSingleWinner(t *testing.T) {
	f := newFakeLedger()
	f.addBook("b1", "The Pragmatic Programmer")
	const workers = 16
	for i := 0; i < workers; i++ {
		f.addColleague(fmt.Sprintf("c%d", i), fmt.Sprintf("Colleague %d", i))
	}
	svc, _ := newTestService(f)

	var wg sync.WaitGroup
	var wins int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := LoanActionRequest{BookID: "b1", ColleagueID: fmt.Sprintf("c%d", i)}
			if _, err := svc.Borrow(context.Background(), req); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Len(t, f.activeLoans("b1"), 1)
	checkInvariant(t, f)
}

// ===== Return =====

func TestReturnByBorrower(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addBook("b1", "The Pragmatic Programmer")
	svc, _ := newTestService(f)

	before, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)

	view, err := svc.Return(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, books.StatusAvailable, view.Status)
	assert.Nil(t, view.BorrowerName)
	assert.Nil(t, view.BorrowedAt)
	assert.False(t, view.Overdue)

	// round trip: everything except status/borrower/borrowedAt matches
	assert.Equal(t, before.ID, view.ID)
	assert.Equal(t, before.Title, view.Title)
	assert.Equal(t, before.Author, view.Author)
	assert.Equal(t, before.Domains, view.Domains)

	assert.Equal(t, books.StatusAvailable, f.books["b1"].Status)
	assert.Empty(t, f.activeLoans("b1"))
	checkInvariant(t, f)
}

func TestReturnByWrongColleague(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addColleague("c2", "Grace Hopper")
	f.addBook("b1", "The Pragmatic Programmer")
	svc, _ := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)

	_, err = svc.Return(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c2"})
	require.Error(t, err)
	assert.Equal(t, 400, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "don't have this book checked out")

	// the loan stayed open and the book stayed borrowed
	assert.Len(t, f.activeLoans("b1"), 1)
	assert.Equal(t, books.StatusBorrowed, f.books["b1"].Status)
}

func TestReturnWithoutLoan(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addBook("b1", "The Pragmatic Programmer")
	svc, _ := newTestService(f)

	_, err := svc.Return(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.Error(t, err)
	assert.Equal(t, 400, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "don't have this book checked out")
}

func TestReturnUnknownColleague(t *testing.T) {
	f := newFakeLedger()
	f.addBook("b1", "The Pragmatic Programmer")
	svc, _ := newTestService(f)

	_, err := svc.Return(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, 404, toHTTPStatus(err))
	assert.Contains(t, err.Error(), "Colleague not found")
}

// Returned loans are immutable: the same loan is never closed twice, a
// rebooted cycle appends a fresh row.
func TestReborrowAppendsNewLoan(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addBook("b1", "The Pragmatic Programmer")
	svc, clock := newTestService(f)

	_, err := svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)
	clock.t = clock.t.Add(time.Hour)
	_, err = svc.Return(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)
	clock.t = clock.t.Add(time.Hour)
	_, err = svc.Borrow(context.Background(), LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)

	assert.Len(t, f.loans, 2)
	assert.Len(t, f.activeLoans("b1"), 1)
	checkInvariant(t, f)
}

func TestInvariantHoldsAcrossMixedSequence(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addColleague("c2", "Grace Hopper")
	f.addBook("b1", "The Pragmatic Programmer")
	f.addBook("b2", "A Philosophy of Software Design")
	svc, _ := newTestService(f)

	ctx := context.Background()
	steps := []struct {
		borrow bool
		book   string
		who    string
	}{
		{true, "b1", "c1"},
		{true, "b2", "c2"},
		{true, "b1", "c2"}, // conflict
		{false, "b1", "c2"}, // wrong colleague
		{false, "b1", "c1"},
		{true, "b1", "c2"},
		{false, "b2", "c2"},
		{false, "b2", "c2"}, // already returned
	}
	for _, st := range steps {
		req := LoanActionRequest{BookID: st.book, ColleagueID: st.who}
		if st.borrow {
			_, _ = svc.Borrow(ctx, req)
		} else {
			_, _ = svc.Return(ctx, req)
		}
		checkInvariant(t, f)
	}
}

func TestListFiltersLedgerHistory(t *testing.T) {
	f := newFakeLedger()
	f.addColleague("c1", "Ada Lovelace")
	f.addColleague("c2", "Grace Hopper")
	f.addBook("b1", "The Pragmatic Programmer")
	f.addBook("b2", "A Philosophy of Software Design")
	svc, _ := newTestService(f)

	ctx := context.Background()
	_, err := svc.Borrow(ctx, LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)
	_, err = svc.Borrow(ctx, LoanActionRequest{BookID: "b2", ColleagueID: "c2"})
	require.NoError(t, err)
	_, err = svc.Return(ctx, LoanActionRequest{BookID: "b1", ColleagueID: "c1"})
	require.NoError(t, err)

	all, err := svc.List(ctx, LoanFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	returned := true
	closed, err := svc.List(ctx, LoanFilter{Returned: &returned})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "b1", closed[0].BookID)
	require.NotNil(t, closed[0].ReturnedAt)

	open := false
	active, err := svc.List(ctx, LoanFilter{Returned: &open})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b2", active[0].BookID)
	assert.Nil(t, active[0].ReturnedAt)
}
