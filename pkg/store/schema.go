package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/query"
	"github.com/shopspring/decimal"
)

// Amounts are stored as INTEGER minor units and rates as INTEGER units of
// 10^-4 so that filters and ordering compare exactly.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		original_amount INTEGER NOT NULL,
		updated_amount INTEGER NOT NULL,
		monthly_payment_amount INTEGER NOT NULL,
		interest_rate INTEGER NOT NULL,
		loan_date DATETIME NOT NULL,
		payment_date DATETIME NOT NULL,
		loan_type TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_member ON loans(member_id)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_created ON loans(created_at)`,
	`CREATE TABLE IF NOT EXISTS loan_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		date DATETIME NOT NULL,
		payment_amount INTEGER NOT NULL DEFAULT 0,
		interest_amount INTEGER NOT NULL DEFAULT 0,
		disbursement_amount INTEGER NOT NULL DEFAULT 0,
		last_balance INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loan_transactions_loan_date ON loan_transactions(loan_id, date, id)`,
}

type columnKind int

const (
	kindText columnKind = iota
	kindUUID
	kindAmount
	kindRate
	kindTime
)

// loanColumns lists the loan columns that may be filtered and sorted on.
var loanColumns = map[string]columnKind{
	"id":                     kindUUID,
	"member_id":              kindUUID,
	"original_amount":        kindAmount,
	"updated_amount":         kindAmount,
	"monthly_payment_amount": kindAmount,
	"interest_rate":          kindRate,
	"loan_date":              kindTime,
	"payment_date":           kindTime,
	"loan_type":              kindText,
	"created_at":             kindTime,
	"updated_at":             kindTime,
}

// LoanSortFields are the fields ListLoans can order by.
func LoanSortFields() []string {
	fields := make([]string, 0, len(loanColumns))
	for f := range loanColumns {
		fields = append(fields, f)
	}
	return fields
}

var sqlOperators = map[query.Operator]string{
	query.OpEq:  "=",
	query.OpNe:  "<>",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

// whereClause translates f into a SQL condition over loans and its arguments.
func whereClause(f query.Filter) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(f))
	args := make([]any, 0, len(f))
	for _, c := range f {
		kind, ok := loanColumns[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: cannot filter on %q", models.ErrValidation, c.Field)
		}
		op, ok := sqlOperators[c.Op]
		if !ok {
			return "", nil, fmt.Errorf("%w: unsupported filter operator %q", models.ErrValidation, c.Op)
		}
		arg, err := columnValue(kind, c.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: filter %s: %v", models.ErrValidation, c.Field, err)
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", c.Field, op))
		args = append(args, arg)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func columnValue(kind columnKind, raw string) (any, error) {
	switch kind {
	case kindUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	case kindAmount:
		d, err := money.ParseAmount(raw)
		if err != nil {
			return nil, err
		}
		return money.ToUnits(d, money.AmountPlaces), nil
	case kindRate:
		d, err := money.ParseRate(raw)
		if err != nil {
			return nil, err
		}
		return money.ToUnits(d, money.RatePlaces), nil
	case kindTime:
		return ParseTime(raw)
	}
	return raw, nil
}

// ParseTime accepts RFC3339 timestamps, plain dates and unix seconds.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", raw)
}

func orderClause(s query.SortSpec) string {
	field := s.Field
	if _, ok := loanColumns[field]; !ok {
		field = "created_at"
	}
	dir := "DESC"
	if s.Ascending {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", field, dir, dir)
}

func amountCol(d decimal.Decimal) int64 { return money.ToUnits(d, money.AmountPlaces) }
func rateCol(d decimal.Decimal) int64   { return money.ToUnits(d, money.RatePlaces) }

func amountFrom(n int64) decimal.Decimal { return money.FromUnits(n, money.AmountPlaces) }
func rateFrom(n int64) decimal.Decimal   { return money.FromUnits(n, money.RatePlaces) }
