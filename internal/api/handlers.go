package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trc20-custody-go/internal/common"
	"trc20-custody-go/internal/database"
	"trc20-custody-go/internal/models"
	"trc20-custody-go/internal/withdrawal"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (s *Server) handleAssignAddress(w http.ResponseWriter, r *http.Request) {
	userId := callerUserId(r)

	wal, err := s.pool.Assign(r.Context(), userId)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.scanner.WatchAddress(r.Context(), wal.Address)

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"address":         wal.Address,
		"derivationIndex": wal.DerivationIndex,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userId := callerUserId(r)

	balance, err := s.db.GetBalance(r.Context(), userId)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, models.BalanceView{
		UserId:  userId,
		Balance: common.FormatRawAmount(balance.Balance, s.decimals),
	})
}

// handleTransactions merges ledger entries and deposits into one
// reverse-chronological feed. Offsets apply to the merged feed, so each
// source is fetched through the requested window and the page is sliced
// after the sort; paging one source independently would skip or repeat
// items wherever the two interleave.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userId := callerUserId(r)
	limit, offset := pagination(r)

	window := limit + offset
	entries, err := s.db.GetLedgerHistory(r.Context(), userId, window, 0)
	if err != nil {
		s.respondError(w, err)
		return
	}
	deposits, err := s.db.DepositHistory(r.Context(), userId, window, 0)
	if err != nil {
		s.respondError(w, err)
		return
	}

	items := make([]models.HistoryItem, 0, len(entries)+len(deposits))
	for _, e := range entries {
		items = append(items, models.HistoryItem{
			Kind:        "ledger",
			Id:          e.Id,
			Type:        string(e.EntryType),
			Amount:      common.FormatRawAmount(e.Amount, s.decimals),
			ReferenceId: e.ReferenceId,
			CreatedAt:   e.CreatedAt,
		})
	}
	for _, d := range deposits {
		items = append(items, models.HistoryItem{
			Kind:      "deposit",
			Id:        d.Id,
			Type:      string(d.Direction),
			Amount:    common.FormatRawAmount(d.RawAmount, s.decimals),
			Status:    string(d.Status),
			TxHash:    d.TxHash,
			CreatedAt: d.CreatedAt,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		// Timestamps carry second precision; break ties by id so pages
		// stay stable across requests.
		return items[i].Id < items[j].Id
	})
	if offset >= len(items) {
		items = items[:0]
	} else {
		items = items[offset:]
	}
	if len(items) > limit {
		items = items[:limit]
	}

	writeSuccess(w, http.StatusOK, items)
}

func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userId := callerUserId(r)

	var input models.WithdrawalRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	rawAmount, err := common.ParseRawAmount(input.Amount, s.decimals)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}

	req, err := s.workflow.Request(r.Context(), userId, rawAmount, input.ToAddress)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, s.withdrawalView(req, false))
}

func (s *Server) handleUserWithdrawals(w http.ResponseWriter, r *http.Request) {
	userId := callerUserId(r)
	limit, offset := pagination(r)

	withdrawals, err := s.db.UserWithdrawals(r.Context(), userId, limit, offset)
	if err != nil {
		s.respondError(w, err)
		return
	}
	views := make([]models.WithdrawalView, 0, len(withdrawals))
	for i := range withdrawals {
		views = append(views, s.withdrawalView(&withdrawals[i], false))
	}
	writeSuccess(w, http.StatusOK, views)
}

func (s *Server) handlePendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.db.PendingWithdrawals(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	views := make([]models.WithdrawalView, 0, len(pending))
	for i := range pending {
		views = append(views, s.withdrawalView(&pending[i], true))
	}
	writeSuccess(w, http.StatusOK, views)
}

func (s *Server) handleApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	adminId := callerUserId(r)

	req, err := s.workflow.Approve(r.Context(), id, adminId)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, s.withdrawalView(req, true))
}

func (s *Server) handleRejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	adminId := callerUserId(r)

	var input models.RejectWithdrawalInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if input.Reason == "" {
		writeError(w, http.StatusBadRequest, "rejection requires a reason")
		return
	}

	req, err := s.workflow.Reject(r.Context(), id, adminId, input.Reason)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, s.withdrawalView(req, true))
}

func (s *Server) handleScannerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.scanner.Status(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, status)
}

func (s *Server) handleSweepStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sweeper.Stats(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, stats)
}

func (s *Server) withdrawalView(req *models.WithdrawalRequest, includeUser bool) models.WithdrawalView {
	v := models.WithdrawalView{
		Id:          req.Id,
		Amount:      common.FormatRawAmount(req.RawAmount, s.decimals),
		ToAddress:   req.ToAddress,
		Status:      string(req.Status),
		TxHash:      req.TxHash,
		RequestedAt: req.RequestedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if includeUser {
		v.UserId = req.UserId
	}
	return v
}

// respondError maps domain errors to HTTP statuses. Internal failures
// are reported generically; details stay in the logs.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, withdrawal.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, "insufficient balance")
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrInvalidState):
		writeError(w, http.StatusConflict, "request is not in a state that allows this action")
	case errors.Is(err, database.ErrPoolExhausted):
		writeError(w, http.StatusServiceUnavailable, "no deposit address available, try again shortly")
	default:
		zap.L().Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
