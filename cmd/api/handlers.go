package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/amortization"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/query"
	"github.com/mcclellann/loanledger/pkg/service"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Server holds the ledger writer and the query service.
type Server struct {
	ledger  *ledger.Ledger
	loans   *service.LoanService
	storage store.Storage // Keep a reference to the storage to close it
	log     *zap.Logger
}

func NewServer(s store.Storage, log *zap.Logger, opts service.Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		ledger:  ledger.NewLedger(s, log),
		loans:   service.NewLoanService(s, log, opts),
		storage: s,
		log:     log,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/transactions", s.listTransactionsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/disbursements", s.disburseHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/interest", s.accrueInterestHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/schedule", s.scheduleHandler).Methods("GET")
	router.HandleFunc("/schedules", s.projectScheduleHandler).Methods("POST")
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTerms):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDataIntegrity):
		s.log.Error("ledger integrity failure", zap.String("path", r.URL.Path), zap.Error(err))
	default:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func loanIDFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		badRequest(w, "Invalid loan ID")
		return uuid.Nil, false
	}
	return loanID, true
}

// optionalTime parses raw, treating an empty value as unset.
func optionalTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return store.ParseTime(raw)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) pagination(r *http.Request) query.Pagination {
	q := r.URL.Query()
	return query.NormalizePage(q.Get("page"), q.Get("per_page"), s.loans.Pagination())
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := query.ParseFilter(r.URL.Query()["filter"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.loans.GetLoans(r.Context(), s.pagination(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID             uuid.UUID       `json:"member_id"`
		OriginalAmount       decimal.Decimal `json:"original_amount"`
		MonthlyPaymentAmount decimal.Decimal `json:"monthly_payment_amount"`
		InterestRate         decimal.Decimal `json:"interest_rate"`
		LoanDate             string          `json:"loan_date"`
		PaymentDate          string          `json:"payment_date"`
		LoanType             string          `json:"loan_type"`
		Disbursed            decimal.Decimal `json:"disbursed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}

	loanDate, err := store.ParseTime(req.LoanDate)
	if err != nil {
		badRequest(w, "Invalid loan_date")
		return
	}
	paymentDate, err := optionalTime(req.PaymentDate)
	if err != nil {
		badRequest(w, "Invalid payment_date")
		return
	}

	loan, err := s.ledger.CreateLoan(r.Context(), ledger.NewLoan{
		MemberID:             req.MemberID,
		OriginalAmount:       req.OriginalAmount,
		MonthlyPaymentAmount: req.MonthlyPaymentAmount,
		InterestRate:         req.InterestRate,
		LoanDate:             loanDate,
		PaymentDate:          paymentDate,
		LoanType:             models.LoanType(req.LoanType),
		Disbursed:            req.Disbursed,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}
	loan, err := s.loans.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}
	sortSpec := query.ParseSort(r.URL.Query().Get("sort"), service.DefaultTransactionSort, service.TransactionSortFields...)
	page, err := s.loans.GetLoanTransactions(r.Context(), loanID, s.pagination(r), sortSpec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) disburseHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Date   string          `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	date, err := optionalTime(req.Date)
	if err != nil {
		badRequest(w, "Invalid date")
		return
	}

	tx, err := s.ledger.Disburse(r.Context(), loanID, req.Amount, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		PaymentAmount  decimal.Decimal `json:"payment_amount"`
		InterestAmount decimal.Decimal `json:"interest_amount"`
		Date           string          `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	date, err := optionalTime(req.Date)
	if err != nil {
		badRequest(w, "Invalid date")
		return
	}

	tx, err := s.ledger.RecordPayment(r.Context(), loanID, req.PaymentAmount, req.InterestAmount, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) accrueInterestHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		InterestAmount decimal.Decimal `json:"interest_amount"`
		Date           string          `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	date, err := optionalTime(req.Date)
	if err != nil {
		badRequest(w, "Invalid date")
		return
	}

	tx, err := s.ledger.AccrueInterest(r.Context(), loanID, req.InterestAmount, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}
	remaining, _ := strconv.ParseBool(r.URL.Query().Get("remaining"))

	var schedule []models.ScheduleEntry
	var err error
	if remaining {
		schedule, err = s.loans.GetRemainingSchedule(r.Context(), loanID)
	} else {
		schedule, err = s.loans.GetAmortizationSchedule(r.Context(), loanID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) projectScheduleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal decimal.Decimal `json:"principal"`
		Rate      decimal.Decimal `json:"rate"`
		Payment   decimal.Decimal `json:"payment"`
		Start     string          `json:"start"`
		Method    string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	start, err := optionalTime(req.Start)
	if err != nil {
		badRequest(w, "Invalid start")
		return
	}
	if start.IsZero() {
		start = time.Now().UTC()
	}

	terms := amortization.Terms{
		Principal: req.Principal,
		Rate:      req.Rate,
		Payment:   req.Payment,
		Start:     start,
	}
	if req.Method != "" {
		if terms.Method, err = amortization.ParseMethod(req.Method); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	schedule, err := s.loans.ProjectSchedule(terms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}
