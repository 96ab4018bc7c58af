package ledger

import (
	"sort"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// SortChronological returns a copy of txs ordered by date, then id.
func SortChronological(txs []*models.LoanTransaction) []*models.LoanTransaction {
	sorted := make([]*models.LoanTransaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// OpeningBalance is the balance the ledger starts from. A ledger that opens
// with a disbursement builds its balance from zero; otherwise the disbursal was
// never recorded and the loan's original amount is the starting point.
func OpeningBalance(loan *models.Loan, txs []*models.LoanTransaction) decimal.Decimal {
	sorted := SortChronological(txs)
	if len(sorted) > 0 && sorted[0].IsDisbursement() {
		return decimal.Zero
	}
	return loan.OriginalAmount
}

// Reconcile replays txs in chronological order starting from opening and
// returns one PAID entry per transaction. Every stored last balance is checked
// against the running total.
func Reconcile(opening decimal.Decimal, txs []*models.LoanTransaction) ([]models.LedgerEntry, error) {
	if len(txs) == 0 {
		return nil, models.ErrNoHistory
	}

	sorted := SortChronological(txs)
	entries := make([]models.LedgerEntry, 0, len(sorted))
	running := opening

	for _, tx := range sorted {
		if err := checkShape(tx); err != nil {
			return nil, err
		}

		running = running.Add(tx.DisbursementAmount).Sub(tx.PaymentAmount)
		if !running.Equal(tx.LastBalance) {
			return nil, &models.DataIntegrityError{
				LoanID:        tx.LoanID,
				TransactionID: tx.ID,
				Expected:      running,
				Stored:        tx.LastBalance,
				Reason:        "last balance does not match running balance",
			}
		}

		entry := models.LedgerEntry{
			ID:       tx.ID,
			Date:     tx.Date,
			Capital:  tx.PaymentAmount,
			Interest: tx.InterestAmount,
			Balance:  tx.LastBalance,
			State:    models.StatePaid,
		}
		if tx.IsDisbursement() {
			d := tx.DisbursementAmount
			entry.Disbursement = &d
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// VerifyLoan checks the loan's outstanding balance against the last reconciled entry.
func VerifyLoan(loan *models.Loan, entries []models.LedgerEntry) error {
	expected := loan.OriginalAmount
	if len(entries) > 0 {
		expected = entries[len(entries)-1].Balance
	}
	if !loan.UpdatedAmount.Equal(expected) {
		return &models.DataIntegrityError{
			LoanID:   loan.ID,
			Expected: expected,
			Stored:   loan.UpdatedAmount,
			Reason:   "updated amount does not match ledger balance",
		}
	}
	return nil
}

func checkShape(tx *models.LoanTransaction) error {
	integrity := func(reason string) error {
		return &models.DataIntegrityError{
			LoanID:        tx.LoanID,
			TransactionID: tx.ID,
			Expected:      decimal.Zero,
			Stored:        tx.LastBalance,
			Reason:        reason,
		}
	}
	switch {
	case tx.PaymentAmount.IsNegative(), tx.InterestAmount.IsNegative(), tx.DisbursementAmount.IsNegative():
		return integrity("negative amount")
	case tx.IsDisbursement() && !tx.PaymentAmount.IsZero():
		return integrity("entry is both a disbursement and a payment")
	case tx.LastBalance.IsNegative():
		return integrity("negative balance")
	}
	return nil
}
