package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/query"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var day0 = time.Date(2022, time.February, 1, 0, 0, 0, 0, time.UTC)

func testLoan(amount int64, created time.Time) *models.Loan {
	return &models.Loan{
		ID:                   uuid.New(),
		MemberID:             uuid.New(),
		OriginalAmount:       decimal.NewFromInt(amount),
		UpdatedAmount:        decimal.NewFromInt(amount),
		MonthlyPaymentAmount: decimal.NewFromInt(amount / 10),
		InterestRate:         decimal.RequireFromString("0.0215"),
		LoanDate:             day0,
		PaymentDate:          day0.AddDate(0, 1, 0),
		LoanType:             models.LoanTypeOrdinary,
		CreatedAt:            created,
		UpdatedAt:            created,
	}
}

func opening(loan *models.Loan) *models.LoanTransaction {
	return &models.LoanTransaction{
		Date:               loan.LoanDate,
		DisbursementAmount: loan.OriginalAmount,
		LastBalance:        loan.OriginalAmount,
	}
}

func TestSQLiteStore_CreateAndGetLoan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loan := testLoan(8806200, day0)
	loan.MonthlyPaymentAmount = decimal.RequireFromString("1000000.55")
	open := opening(loan)
	require.NoError(t, s.CreateLoan(ctx, loan, open))
	assert.NotZero(t, open.ID)
	assert.Equal(t, loan.ID, open.LoanID)

	fetched, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.ID, fetched.ID)
	assert.Equal(t, loan.MemberID, fetched.MemberID)
	assert.True(t, fetched.OriginalAmount.Equal(loan.OriginalAmount))
	assert.True(t, fetched.MonthlyPaymentAmount.Equal(loan.MonthlyPaymentAmount), "got %s", fetched.MonthlyPaymentAmount)
	assert.True(t, fetched.InterestRate.Equal(loan.InterestRate), "got %s", fetched.InterestRate)
	assert.True(t, fetched.LoanDate.Equal(loan.LoanDate))
	assert.True(t, fetched.PaymentDate.Equal(loan.PaymentDate))
	assert.Equal(t, models.LoanTypeOrdinary, fetched.LoanType)

	txs, err := s.LoadTransactions(ctx, loan.ID, true)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].DisbursementAmount.Equal(loan.OriginalAmount))
	assert.True(t, txs[0].LastBalance.Equal(loan.OriginalAmount))
}

func TestSQLiteStore_GetLoanNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetLoan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSQLiteStore_ListLoans(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	amounts := []int64{1000000, 2000000, 3000000, 4000000, 5000000}
	var loans []*models.Loan
	for i, a := range amounts {
		loan := testLoan(a, day0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.CreateLoan(ctx, loan, opening(loan)))
		loans = append(loans, loan)
	}

	t.Run("newest first by default", func(t *testing.T) {
		got, total, err := s.ListLoans(ctx, query.ListQuery{
			Pagination: query.Pagination{Page: 1, PerPage: 2},
			Sort:       query.SortSpec{Field: "created_at"},
		})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, got, 2)
		assert.Equal(t, loans[4].ID, got[0].ID)
		assert.Equal(t, loans[3].ID, got[1].ID)
	})

	t.Run("last partial page", func(t *testing.T) {
		got, total, err := s.ListLoans(ctx, query.ListQuery{
			Pagination: query.Pagination{Page: 3, PerPage: 2},
			Sort:       query.SortSpec{Field: "created_at"},
		})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, got, 1)
		assert.Equal(t, loans[0].ID, got[0].ID)
	})

	t.Run("filter and ascending sort", func(t *testing.T) {
		filter, err := query.ParseFilter([]string{"original_amount:gte:2000000", "original_amount:lt:5000000"})
		require.NoError(t, err)
		got, total, err := s.ListLoans(ctx, query.ListQuery{
			Pagination: query.Pagination{Page: 1, PerPage: 10},
			Filter:     filter,
			Sort:       query.SortSpec{Field: "original_amount", Ascending: true},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, got, 3)
		assert.True(t, got[0].OriginalAmount.Equal(decimal.NewFromInt(2000000)))
		assert.True(t, got[2].OriginalAmount.Equal(decimal.NewFromInt(4000000)))
	})

	t.Run("filter by member", func(t *testing.T) {
		filter, err := query.ParseFilter([]string{"member_id:eq:" + loans[2].MemberID.String()})
		require.NoError(t, err)
		got, total, err := s.ListLoans(ctx, query.ListQuery{
			Pagination: query.Pagination{Page: 1, PerPage: 10},
			Filter:     filter,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, got, 1)
		assert.Equal(t, loans[2].ID, got[0].ID)
	})

	t.Run("no match", func(t *testing.T) {
		filter, err := query.ParseFilter([]string{"loan_type:eq:ACCION"})
		require.NoError(t, err)
		got, total, err := s.ListLoans(ctx, query.ListQuery{
			Pagination: query.Pagination{Page: 1, PerPage: 10},
			Filter:     filter,
		})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, got)
	})

	t.Run("unknown column", func(t *testing.T) {
		filter, err := query.ParseFilter([]string{"password:eq:x"})
		require.NoError(t, err)
		_, _, err = s.ListLoans(ctx, query.ListQuery{
			Pagination: query.Pagination{Page: 1, PerPage: 10},
			Filter:     filter,
		})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("bad value", func(t *testing.T) {
		filter, err := query.ParseFilter([]string{"original_amount:gt:lots"})
		require.NoError(t, err)
		_, _, err = s.ListLoans(ctx, query.ListQuery{
			Pagination: query.Pagination{Page: 1, PerPage: 10},
			Filter:     filter,
		})
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestSQLiteStore_LoadTransactionsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loan := testLoan(3000000, day0)
	require.NoError(t, s.CreateLoan(ctx, loan, opening(loan)))

	// Appended out of date order; the second and third share a date.
	dates := []time.Time{day0.AddDate(0, 2, 0), day0.AddDate(0, 1, 0), day0.AddDate(0, 1, 0)}
	var ids []int64
	for _, d := range dates {
		entry, err := s.AppendTransaction(ctx, loan.ID, func(l *models.Loan, _ LedgerHead) (*models.LoanTransaction, error) {
			return &models.LoanTransaction{Date: d, InterestAmount: decimal.NewFromInt(100), LastBalance: l.UpdatedAmount}, nil
		})
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}

	asc, err := s.LoadTransactions(ctx, loan.ID, true)
	require.NoError(t, err)
	require.Len(t, asc, 4)
	assert.Equal(t, []int64{asc[0].ID, ids[1], ids[2], ids[0]}, transactionIDs(asc))

	desc, err := s.LoadTransactions(ctx, loan.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[0], ids[2], ids[1], asc[0].ID}, transactionIDs(desc))

	none, err := s.LoadTransactions(ctx, uuid.New(), true)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func transactionIDs(txs []*models.LoanTransaction) []int64 {
	ids := make([]int64, 0, len(txs))
	for _, t := range txs {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestSQLiteStore_AppendTransaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loan := testLoan(8806200, day0)
	require.NoError(t, s.CreateLoan(ctx, loan, opening(loan)))

	updatedAt := day0.AddDate(0, 3, 0)
	entry, err := s.AppendTransaction(ctx, loan.ID, func(l *models.Loan, head LedgerHead) (*models.LoanTransaction, error) {
		assert.True(t, l.UpdatedAmount.Equal(decimal.NewFromInt(8806200)))
		assert.True(t, head.LastDate.Equal(day0), "got %s", head.LastDate)
		assert.True(t, head.Disbursed.Equal(decimal.NewFromInt(8806200)), "got %s", head.Disbursed)
		balance := l.UpdatedAmount.Sub(decimal.NewFromInt(806200))
		l.UpdatedAt = updatedAt
		return &models.LoanTransaction{
			Date:           updatedAt,
			PaymentAmount:  decimal.NewFromInt(806200),
			InterestAmount: decimal.NewFromInt(132093),
			LastBalance:    balance,
		}, nil
	})
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, loan.ID, entry.LoanID)

	fetched, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, fetched.UpdatedAmount.Equal(decimal.NewFromInt(8000000)))
	assert.True(t, fetched.UpdatedAt.Equal(updatedAt))
}

func TestSQLiteStore_AppendTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loan := testLoan(1000000, day0)
	require.NoError(t, s.CreateLoan(ctx, loan, opening(loan)))

	rejected := errors.New("rejected")
	_, err := s.AppendTransaction(ctx, loan.ID, func(l *models.Loan, _ LedgerHead) (*models.LoanTransaction, error) {
		l.UpdatedAmount = decimal.Zero
		return nil, rejected
	})
	assert.ErrorIs(t, err, rejected)

	fetched, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, fetched.UpdatedAmount.Equal(decimal.NewFromInt(1000000)))

	txs, err := s.LoadTransactions(ctx, loan.ID, true)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSQLiteStore_LedgerHeadTracksNewestEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loan := testLoan(1000000, day0)
	open := opening(loan)
	open.DisbursementAmount = decimal.NewFromInt(400000)
	open.LastBalance = open.DisbursementAmount
	loan.UpdatedAmount = open.LastBalance
	require.NoError(t, s.CreateLoan(ctx, loan, open))

	later := day0.AddDate(0, 2, 0)
	_, err := s.AppendTransaction(ctx, loan.ID, func(l *models.Loan, _ LedgerHead) (*models.LoanTransaction, error) {
		amount := decimal.NewFromInt(250000)
		return &models.LoanTransaction{Date: later, DisbursementAmount: amount, LastBalance: l.UpdatedAmount.Add(amount)}, nil
	})
	require.NoError(t, err)

	var seen LedgerHead
	_, err = s.AppendTransaction(ctx, loan.ID, func(l *models.Loan, head LedgerHead) (*models.LoanTransaction, error) {
		seen = head
		return nil, errors.New("inspect only")
	})
	require.Error(t, err)
	assert.True(t, seen.LastDate.Equal(later), "got %s", seen.LastDate)
	assert.True(t, seen.Disbursed.Equal(decimal.NewFromInt(650000)), "got %s", seen.Disbursed)
}

func TestSQLiteStore_AppendTransactionUnknownLoan(t *testing.T) {
	s := newTestStore(t)
	called := false
	_, err := s.AppendTransaction(context.Background(), uuid.New(), func(l *models.Loan, _ LedgerHead) (*models.LoanTransaction, error) {
		called = true
		return &models.LoanTransaction{}, nil
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, called)
}

func TestSQLiteStore_ForeignKeys(t *testing.T) {
	s := newTestStore(t)
	err := insertTransaction(context.Background(), s.db, &models.LoanTransaction{
		LoanID:      uuid.New(),
		Date:        day0,
		LastBalance: decimal.NewFromInt(1),
	})
	assert.Error(t, err, "transactions must reference an existing loan")
}

func TestSQLiteStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loan := testLoan(100000, day0)
	require.NoError(t, s.CreateLoan(ctx, loan, opening(loan)))

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendTransaction(ctx, loan.ID, func(l *models.Loan, _ LedgerHead) (*models.LoanTransaction, error) {
				pay := decimal.NewFromInt(1000)
				return &models.LoanTransaction{Date: day0, PaymentAmount: pay, LastBalance: l.UpdatedAmount.Sub(pay)}, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	fetched, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, fetched.UpdatedAmount.Equal(decimal.NewFromInt(80000)), "got %s", fetched.UpdatedAmount)
}

func TestParseTime(t *testing.T) {
	for _, raw := range []string{"2022-02-01T00:00:00Z", "2022-02-01", "1643673600"} {
		got, err := ParseTime(raw)
		require.NoError(t, err, raw)
		assert.True(t, got.Equal(day0), raw)
	}
	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}

func TestOrderClauseFallsBack(t *testing.T) {
	assert.Equal(t, " ORDER BY created_at ASC, id ASC", orderClause(query.SortSpec{Field: "drop table", Ascending: true}))
	assert.Equal(t, " ORDER BY original_amount DESC, id DESC", orderClause(query.SortSpec{Field: "original_amount"}))
}
