package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/query"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// dsnOptions are applied on every pooled connection. Immediate transactions
// take the write lock at BEGIN, so two appends for the same loan cannot both
// read the prior balance.
const dsnOptions = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

const loanColumnList = `id, member_id, original_amount, updated_amount, monthly_payment_amount, interest_rate, loan_date, payment_date, loan_type, created_at, updated_at`

const transactionColumnList = `id, loan_id, date, payment_amount, interest_amount, disbursement_amount, last_balance`

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteStore opens path, applies the connection options and creates the schema.
func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", withOptions(path))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Info("database connection established and schema initialized", zap.String("path", path))
	return s, nil
}

func withOptions(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + dsnOptions
	}
	return path + "?" + dsnOptions
}

func (s *SQLiteStore) initSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateLoan inserts a new loan and its opening transaction in one SQL transaction.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan, opening *models.LoanTransaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumnList+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.MemberID.String(),
		amountCol(loan.OriginalAmount), amountCol(loan.UpdatedAmount), amountCol(loan.MonthlyPaymentAmount),
		rateCol(loan.InterestRate), loan.LoanDate.UTC(), loan.PaymentDate.UTC(), string(loan.LoanType),
		loan.CreatedAt.UTC(), loan.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	if opening != nil {
		opening.LoanID = loan.ID
		if err := insertTransaction(ctx, tx, opening); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumnList+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: loan %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// ListLoans returns the loans matching q.Filter, ordered by q.Sort, limited to q.Pagination.
func (s *SQLiteStore) ListLoans(ctx context.Context, q query.ListQuery) ([]*models.Loan, int, error) {
	where, args, err := whereClause(q.Filter)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM loans`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count loans: %w", err)
	}

	pageArgs := append(append([]any{}, args...), q.Pagination.PerPage, q.Pagination.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumnList+` FROM loans`+where+orderClause(q.Sort)+` LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, total, nil
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var id, memberID, loanType string
	var original, updated, monthly, rate int64
	err := row.Scan(&id, &memberID, &original, &updated, &monthly, &rate,
		&loan.LoanDate, &loan.PaymentDate, &loanType, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if loan.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", id, err)
	}
	if loan.MemberID, err = uuid.Parse(memberID); err != nil {
		return nil, fmt.Errorf("invalid member id %q: %w", memberID, err)
	}
	loan.OriginalAmount = amountFrom(original)
	loan.UpdatedAmount = amountFrom(updated)
	loan.MonthlyPaymentAmount = amountFrom(monthly)
	loan.InterestRate = rateFrom(rate)
	loan.LoanType = models.LoanType(loanType)
	return &loan, nil
}

// LoadTransactions retrieves the ledger of a loan ordered by date, then id.
func (s *SQLiteStore) LoadTransactions(ctx context.Context, loanID uuid.UUID, ascending bool) ([]*models.LoanTransaction, error) {
	dir := "DESC"
	if ascending {
		dir = "ASC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumnList+` FROM loan_transactions WHERE loan_id = ? ORDER BY date `+dir+`, id `+dir,
		loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var transactions []*models.LoanTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return transactions, nil
}

func scanTransaction(row rowScanner) (*models.LoanTransaction, error) {
	var t models.LoanTransaction
	var loanID string
	var payment, interest, disbursed, last int64
	if err := row.Scan(&t.ID, &loanID, &t.Date, &payment, &interest, &disbursed, &last); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(loanID)
	if err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", loanID, err)
	}
	t.LoanID = id
	t.PaymentAmount = amountFrom(payment)
	t.InterestAmount = amountFrom(interest)
	t.DisbursementAmount = amountFrom(disbursed)
	t.LastBalance = amountFrom(last)
	return &t, nil
}

// AppendTransaction reads the loan, builds the next entry, inserts it and
// updates the loan balance inside one immediate transaction.
func (s *SQLiteStore) AppendTransaction(ctx context.Context, loanID uuid.UUID, build BuildFunc) (*models.LoanTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan, err := scanLoan(tx.QueryRowContext(ctx, `SELECT `+loanColumnList+` FROM loans WHERE id = ?`, loanID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: loan %s", models.ErrNotFound, loanID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load loan: %w", err)
	}

	head, err := ledgerHead(ctx, tx, loan.ID)
	if err != nil {
		return nil, err
	}

	entry, err := build(loan, head)
	if err != nil {
		return nil, err
	}
	entry.LoanID = loan.ID
	if err := insertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `UPDATE loans SET updated_amount = ?, updated_at = ? WHERE id = ?`,
		amountCol(entry.LastBalance), loan.UpdatedAt.UTC(), loan.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to update loan balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return nil, fmt.Errorf("failed to update loan balance: %d rows affected", rowsAffected)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("transaction appended",
		zap.String("loan_id", loan.ID.String()),
		zap.Int64("transaction_id", entry.ID),
		zap.String("last_balance", entry.LastBalance.StringFixed(2)))
	return entry, nil
}

func ledgerHead(ctx context.Context, tx *sql.Tx, loanID uuid.UUID) (LedgerHead, error) {
	var head LedgerHead
	err := tx.QueryRowContext(ctx,
		`SELECT date FROM loan_transactions WHERE loan_id = ? ORDER BY date DESC, id DESC LIMIT 1`,
		loanID.String()).Scan(&head.LastDate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return head, fmt.Errorf("failed to read last transaction date: %w", err)
	}

	var disbursed int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(disbursement_amount), 0) FROM loan_transactions WHERE loan_id = ?`,
		loanID.String()).Scan(&disbursed); err != nil {
		return head, fmt.Errorf("failed to sum disbursements: %w", err)
	}
	head.Disbursed = amountFrom(disbursed)
	return head, nil
}

func insertTransaction(ctx context.Context, db execer, t *models.LoanTransaction) error {
	result, err := db.ExecContext(ctx,
		`INSERT INTO loan_transactions (loan_id, date, payment_amount, interest_amount, disbursement_amount, last_balance)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.LoanID.String(), t.Date.UTC(),
		amountCol(t.PaymentAmount), amountCol(t.InterestAmount), amountCol(t.DisbursementAmount), amountCol(t.LastBalance),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read transaction id: %w", err)
	}
	t.ID = id
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
