// Package amortization projects the installment plan of a loan from its terms.
//
// Two methods are supported. With MethodFixedPayment the installment is
// constant and its capital share grows as interest shrinks. With
// MethodFixedCapital the payment amount is the capital collected each period;
// any remainder of the principal that does not divide evenly is collected in
// the first period.
package amortization

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/shopspring/decimal"
)

// MaxPeriods bounds a schedule; longer plans are rejected as invalid terms.
const MaxPeriods = 1200

type Method string

const (
	MethodFixedPayment Method = "fixed_payment"
	MethodFixedCapital Method = "fixed_capital"
)

// ParseMethod resolves a configured method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodFixedPayment, MethodFixedCapital:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown amortization method %q", models.ErrValidation, s)
}

// Terms are the inputs of a projection.
type Terms struct {
	Principal   decimal.Decimal
	Rate        decimal.Decimal // Interest per period
	Payment     decimal.Decimal
	Start       time.Time
	Method      Method
	FirstPeriod int // Number of the first projected installment, 1 when zero
}

// TermsForLoan builds the terms of a loan's full schedule.
func TermsForLoan(loan *models.Loan, method Method) Terms {
	return Terms{
		Principal: loan.OriginalAmount,
		Rate:      loan.InterestRate,
		Payment:   loan.MonthlyPaymentAmount,
		Start:     loan.LoanDate,
		Method:    method,
	}
}

// rounded returns t with amounts at money precision and the rate at rate precision.
func (t Terms) rounded() Terms {
	t.Principal = money.Amount(t.Principal)
	t.Payment = money.Amount(t.Payment)
	t.Rate = money.Rate(t.Rate)
	return t
}

// validate expects rounded terms, so values that round to zero are rejected.
func (t Terms) validate() error {
	switch {
	case !money.IsPositive(t.Principal):
		return fmt.Errorf("%w: principal must be greater than zero", models.ErrInvalidTerms)
	case !money.IsPositive(t.Payment):
		return fmt.Errorf("%w: payment must be greater than zero", models.ErrInvalidTerms)
	case t.Rate.IsNegative() || t.Rate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: rate must be in [0, 1)", models.ErrInvalidTerms)
	}
	if t.Method == MethodFixedPayment {
		first := money.Interest(t.Principal, t.Rate)
		if t.Payment.LessThanOrEqual(first) {
			return fmt.Errorf("%w: payment %s does not exceed first period interest %s",
				models.ErrInvalidTerms, t.Payment.StringFixed(2), first.StringFixed(2))
		}
	}
	return nil
}

// Project returns the schedule of t, one PENDING entry per period until the
// balance reaches zero.
func Project(t Terms) ([]models.ScheduleEntry, error) {
	if t.Method == "" {
		t.Method = MethodFixedPayment
	}
	if _, err := ParseMethod(string(t.Method)); err != nil {
		return nil, err
	}
	t = t.rounded()
	if err := t.validate(); err != nil {
		return nil, err
	}
	first := t.FirstPeriod
	if first < 1 {
		first = 1
	}

	principal := t.Principal
	payment := t.Payment
	balance := principal

	var schedule []models.ScheduleEntry
	for n := 0; balance.GreaterThan(decimal.Zero); n++ {
		if n >= MaxPeriods {
			return nil, fmt.Errorf("%w: schedule exceeds %d periods", models.ErrInvalidTerms, MaxPeriods)
		}

		interest := money.Interest(balance, t.Rate)
		var capital decimal.Decimal
		switch t.Method {
		case MethodFixedPayment:
			capital = payment.Sub(interest)
		case MethodFixedCapital:
			capital = payment
			if n == 0 {
				if rem := principal.Mod(payment); !rem.IsZero() {
					capital = rem
				}
			}
		}
		capital = money.Min(capital, balance)
		balance = balance.Sub(capital)

		number := first + n
		schedule = append(schedule, models.ScheduleEntry{
			Number:   number,
			Date:     AddMonths(t.Start, number),
			Capital:  capital,
			Interest: interest,
			Payment:  capital.Add(interest),
			Balance:  balance,
			State:    models.StatePending,
		})
	}
	return schedule, nil
}

// AddMonths advances t by n calendar months, clamping the day to the end of
// the target month.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := target.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Policy decides how recorded entries advance the installment cadence.
type Policy struct {
	// InterestOnlyCountsAsPeriod makes an interest-only accrual consume a
	// period like a regular payment. When false it is a grace period.
	InterestOnlyCountsAsPeriod bool
}

// ElapsedPeriods counts the installments already covered by entries.
func (p Policy) ElapsedPeriods(entries []models.LedgerEntry) int {
	elapsed := 0
	for _, e := range entries {
		if e.Disbursement != nil {
			continue
		}
		if e.Capital.GreaterThan(decimal.Zero) || (p.InterestOnlyCountsAsPeriod && e.Interest.GreaterThan(decimal.Zero)) {
			elapsed++
		}
	}
	return elapsed
}

// Remaining projects the rest of a loan from its outstanding balance, numbering
// installments after the periods the reconciled entries already cover. A
// closed loan has an empty remaining schedule.
func Remaining(loan *models.Loan, entries []models.LedgerEntry, method Method, policy Policy) ([]models.ScheduleEntry, error) {
	if loan.Closed() {
		return []models.ScheduleEntry{}, nil
	}
	t := TermsForLoan(loan, method)
	t.Principal = loan.UpdatedAmount
	t.FirstPeriod = policy.ElapsedPeriods(entries) + 1
	return Project(t)
}
