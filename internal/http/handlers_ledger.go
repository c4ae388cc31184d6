package http

import (
	"net/http"
	"strconv"

	"fintrack/internal/core"
	"fintrack/internal/dashboard"
)

type transactionsBody struct {
	Filter       dashboard.Filter   `json:"filter"`
	Count        int                `json:"count"`
	Transactions []core.Transaction `json:"transactions"`
}

type initialBalanceBody struct {
	Transactions []core.Transaction `json:"transactions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ledger.Status(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewJSONResponse().JSON(status).Write(w)
}

func (s *Server) handleInitialBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	created, err := s.ledger.SetInitialBalance(r.Context(), currentUser(r), p.Get("cash"), p.Get("bank"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if created == nil {
		created = []core.Transaction{}
	}
	NewJSONResponse().Status(http.StatusCreated).JSON(initialBalanceBody{Transactions: created}).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.Dashboard(r.Context(), currentUser(r), r.URL.Query().Get("filter"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewJSONResponse().JSON(view).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := ParseLimit(query)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	filter := query.Get("filter")
	txs, err := s.ledger.ListTransactions(r.Context(), currentUser(r), filter, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	NewJSONResponse().JSON(transactionsBody{
		Filter:       dashboard.ParseFilter(filter),
		Count:        len(txs),
		Transactions: txs,
	}).Write(w)
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	t, err := s.ledger.AddTransaction(r.Context(), currentUser(r), p.TransactionInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+strconv.FormatInt(t.ID, 10)).
		JSON(t).
		Write(w)
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	patch := p.TransactionPatch()
	if patch.Empty() {
		writeServiceError(w, r, core.Invalid("", "no fields to update"))
		return
	}
	t, err := s.ledger.EditTransaction(r.Context(), currentUser(r), id, patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewJSONResponse().JSON(t).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.ledger.DeleteTransaction(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
