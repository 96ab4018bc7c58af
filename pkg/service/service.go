// Package service implements the read-side use cases of the loan ledger:
// loan lookups, paginated listings, reconciled history and schedules.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/amortization"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/query"
	"github.com/mcclellann/loanledger/pkg/store"
	"go.uber.org/zap"
)

// DefaultTransactionSort is the history sort used when none is requested: id, descending.
const DefaultTransactionSort = "id"

// TransactionSortFields are the ledger entry fields history can be sorted by.
var TransactionSortFields = []string{"id", "date", "capital", "interest", "balance"}

// Options configures a LoanService.
type Options struct {
	Pagination query.Defaults
	Method     amortization.Method
	Policy     amortization.Policy
}

// LoanService answers loan queries over a Storage.
type LoanService struct {
	storage store.Storage
	log     *zap.Logger
	opts    Options
}

func NewLoanService(s store.Storage, log *zap.Logger, opts Options) *LoanService {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Pagination.Page < 1 || opts.Pagination.PerPage < 1 {
		opts.Pagination = query.DefaultPagination
	}
	if opts.Method == "" {
		opts.Method = amortization.MethodFixedCapital
	}
	return &LoanService{storage: s, log: log, opts: opts}
}

// Pagination returns the configured pagination defaults.
func (s *LoanService) Pagination() query.Defaults {
	return s.opts.Pagination
}

// GetLoan returns one loan.
func (s *LoanService) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := s.storage.GetLoan(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: Loan with id %s Not Found", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	s.log.Debug(fmt.Sprintf("Getting %s Loan", id))
	return loan, nil
}

// GetLoans returns one page of loans matching filter, newest first. An empty
// page is reported as ErrNotFound.
func (s *LoanService) GetLoans(ctx context.Context, p query.Pagination, filter query.Filter) (query.Page[*models.Loan], error) {
	p = s.normalize(p)
	loans, total, err := s.storage.ListLoans(ctx, query.ListQuery{
		Pagination: p,
		Filter:     filter,
		Sort:       query.SortSpec{Field: "created_at"},
	})
	if err != nil {
		return query.Page[*models.Loan]{}, err
	}
	if len(loans) == 0 {
		return query.Page[*models.Loan]{}, fmt.Errorf("%w: Loan Not Found", models.ErrNotFound)
	}

	page := query.NewPage(total, p, loans)
	s.log.Debug(fmt.Sprintf("Getting %d loans of %d", len(page.Items), page.Total), zap.Int("filters", len(filter)))
	return page, nil
}

// GetLoanTransactions reconciles the loan's ledger and returns one page of it
// ordered by sortSpec.
func (s *LoanService) GetLoanTransactions(ctx context.Context, id uuid.UUID, p query.Pagination, sortSpec query.SortSpec) (query.RecordPage[models.LedgerEntry], error) {
	p = s.normalize(p)
	if sortSpec.Field == "" {
		sortSpec.Field = DefaultTransactionSort
	}

	loan, entries, err := s.reconciled(ctx, id)
	if err != nil {
		return query.RecordPage[models.LedgerEntry]{}, err
	}

	display := make([]models.LedgerEntry, len(entries))
	copy(display, entries)
	SortEntries(display, sortSpec)

	records := query.Slice(display, p)
	if len(records) == 0 {
		return query.RecordPage[models.LedgerEntry]{}, notFoundHistoric(loan.ID)
	}
	page := query.NewPage(len(display), p, records)
	s.log.Debug(fmt.Sprintf("Getting page %d with %d transactions from %d to loan %s",
		page.Page, len(page.Items), page.Total, loan.ID))
	return page.AsRecords(), nil
}

// reconciled loads a loan and its verified ledger in chronological order.
func (s *LoanService) reconciled(ctx context.Context, id uuid.UUID) (*models.Loan, []models.LedgerEntry, error) {
	loan, err := s.storage.GetLoan(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil, notFoundHistoric(id)
	}
	if err != nil {
		return nil, nil, err
	}

	txs, err := s.storage.LoadTransactions(ctx, id, true)
	if err != nil {
		return nil, nil, err
	}
	if len(txs) == 0 {
		return nil, nil, notFoundHistoric(id)
	}

	entries, err := ledger.Reconcile(ledger.OpeningBalance(loan, txs), txs)
	if err == nil {
		err = ledger.VerifyLoan(loan, entries)
	}
	if err != nil {
		s.log.Error("ledger failed reconciliation", zap.String("loan_id", id.String()), zap.Error(err))
		return nil, nil, err
	}
	return loan, entries, nil
}

func notFoundHistoric(id uuid.UUID) error {
	return fmt.Errorf("%w: Loan with id %s Not Found Historic", models.ErrNoHistory, id)
}

// GetAmortizationSchedule returns the full projected schedule of a loan from its original terms.
func (s *LoanService) GetAmortizationSchedule(ctx context.Context, id uuid.UUID) ([]models.ScheduleEntry, error) {
	loan, err := s.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	return amortization.Project(amortization.TermsForLoan(loan, s.opts.Method))
}

// GetRemainingSchedule projects what is left of a loan from its outstanding
// balance, after the periods its ledger already covers.
func (s *LoanService) GetRemainingSchedule(ctx context.Context, id uuid.UUID) ([]models.ScheduleEntry, error) {
	loan, entries, err := s.reconciled(ctx, id)
	if err != nil {
		return nil, err
	}
	return amortization.Remaining(loan, entries, s.opts.Method, s.opts.Policy)
}

// ProjectSchedule projects raw terms. An empty method uses the configured one.
func (s *LoanService) ProjectSchedule(terms amortization.Terms) ([]models.ScheduleEntry, error) {
	if terms.Method == "" {
		terms.Method = s.opts.Method
	}
	return amortization.Project(terms)
}

func (s *LoanService) normalize(p query.Pagination) query.Pagination {
	if p.Page < 1 {
		p.Page = s.opts.Pagination.Page
	}
	if p.PerPage < 1 {
		p.PerPage = s.opts.Pagination.PerPage
	}
	return p
}

// SortEntries orders entries on by.Field, breaking ties on id in the same direction.
func SortEntries(entries []models.LedgerEntry, by query.SortSpec) {
	compare := func(a, b models.LedgerEntry) int {
		switch by.Field {
		case "date":
			if c := a.Date.Compare(b.Date); c != 0 {
				return c
			}
		case "capital":
			if c := a.Capital.Cmp(b.Capital); c != 0 {
				return c
			}
		case "interest":
			if c := a.Interest.Cmp(b.Interest); c != 0 {
				return c
			}
		case "balance":
			if c := a.Balance.Cmp(b.Balance); c != 0 {
				return c
			}
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
	sort.SliceStable(entries, func(i, j int) bool {
		c := compare(entries[i], entries[j])
		if by.Ascending {
			return c < 0
		}
		return c > 0
	})
}
