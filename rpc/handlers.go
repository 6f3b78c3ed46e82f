package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"coinfort/crypto"
	"coinfort/native/access"
	"coinfort/native/coinfort"
	"coinfort/native/oracle"
	"coinfort/native/token"
)

const maxBodyBytes = 1 << 16

var (
	errOracleUnavailable  = fmt.Errorf("%w: no oracle is served by this node", coinfort.ErrNotFound)
	errJournalUnavailable = fmt.Errorf("%w: journal not configured", coinfort.ErrNotFound)
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeProblem(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// errorStatus maps err onto an HTTP status and a kind label.
func errorStatus(err error) (int, string) {
	switch coinfort.Kind(err) {
	case "validation":
		return http.StatusBadRequest, "validation"
	case "unauthorized":
		return http.StatusForbidden, "unauthorized"
	case "not_found":
		return http.StatusNotFound, "not_found"
	case "state":
		return http.StatusConflict, "state"
	case "external_transfer":
		return http.StatusBadGateway, "external_transfer"
	}
	switch {
	case errors.Is(err, oracle.ErrUnauthorized),
		errors.Is(err, access.ErrNotOwner),
		errors.Is(err, access.ErrNotPrivileged):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrAmountOverflow),
		errors.Is(err, token.ErrZeroAddress):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusConflict, "state"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		message = "internal error"
	}
	writeProblem(w, status, kind, message)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", coinfort.ErrValidation, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalid("malformed request body: %v", err)
	}
	return nil
}

func parseAddressParam(name, raw string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, invalid("%s: %v", name, err)
	}
	return addr, nil
}

func parseIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, invalid("transaction id %q is not a number", raw)
	}
	return id, nil
}

// parseAmount accepts a base-10 integer string. Sign checks are left to the
// engine so that zero and negative amounts surface its own error.
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalid("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalid("amount %q is not an integer", raw)
	}
	return amount, nil
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
	}
	return caller, ok
}

type accountView struct {
	Principal          string `json:"principal"`
	Exists             bool   `json:"exists"`
	UnderInvestigation bool   `json:"underInvestigation"`
}

func accountViewFrom(acct coinfort.Account) accountView {
	return accountView{
		Principal:          crypto.FormatPrincipal(acct.Principal),
		Exists:             acct.Exists,
		UnderInvestigation: acct.UnderInvestigation,
	}
}

type conditionsView struct {
	TimedOut        bool   `json:"timedOut"`
	OracleSatisfied bool   `json:"oracleSatisfied"`
	UnlockAt        uint64 `json:"unlockAt"`
}

type transactionView struct {
	ID                 uint64          `json:"id"`
	Sender             string          `json:"sender"`
	Receiver           string          `json:"receiver"`
	Asset              string          `json:"asset"`
	Amount             string          `json:"amount"`
	CreatedAt          uint64          `json:"createdAt"`
	Timeout            uint64          `json:"timeout"`
	UnlockAt           uint64          `json:"unlockAt"`
	UnderInvestigation bool            `json:"underInvestigation"`
	Closed             bool            `json:"closed"`
	ClosedAt           uint64          `json:"closedAt,omitempty"`
	Outcome            string          `json:"outcome"`
	Conditions         *conditionsView `json:"conditions,omitempty"`
}

func transactionViewFrom(tx *coinfort.Transaction) transactionView {
	amount := "0"
	if tx.Amount != nil {
		amount = tx.Amount.String()
	}
	return transactionView{
		ID:                 tx.ID,
		Sender:             crypto.FormatPrincipal(tx.Sender),
		Receiver:           crypto.FormatPrincipal(tx.Receiver),
		Asset:              crypto.FormatAsset(tx.Asset),
		Amount:             amount,
		CreatedAt:          tx.CreatedAt,
		Timeout:            tx.Timeout,
		UnlockAt:           tx.UnlockAt(),
		UnderInvestigation: tx.UnderInvestigation,
		Closed:             tx.Closed,
		ClosedAt:           tx.ClosedAt,
		Outcome:            tx.Outcome.String(),
	}
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.engine.OpenAccount(caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.engine.Account(caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountViewFrom(acct))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	principal, err := parseAddressParam("principal", chi.URLParam(r, "principal"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.engine.Account(principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountViewFrom(acct))
}

type setManagerRequest struct {
	Manager string `json:"manager"`
}

func (s *Server) handleSetManager(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req setManagerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	manager, err := parseAddressParam("manager", req.Manager)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetManager(caller, manager); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"manager": crypto.FormatPrincipal(manager)})
}

type approveAssetRequest struct {
	Asset string `json:"asset"`
}

func (s *Server) handleApproveAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req approveAssetRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddressParam("asset", req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.ApproveAsset(caller, asset); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset": crypto.FormatAsset(asset), "approved": true})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.engine.ApprovedAssets()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]string, len(assets))
	for i, asset := range assets {
		out[i] = crypto.FormatAsset(asset)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"assets": out})
}

func (s *Server) handleGetCustody(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddressParam("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	held, err := s.engine.Custody(asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":   crypto.FormatAsset(asset),
		"custody": crypto.FormatPrincipal(s.engine.CustodyAddress()),
		"amount":  held.String(),
	})
}

type holdRequest struct {
	Hold *bool `json:"hold"`
}

func decodeHold(r *http.Request) (bool, error) {
	var req holdRequest
	if err := decodeBody(r, &req); err != nil {
		return false, err
	}
	if req.Hold == nil {
		return false, invalid("hold flag required")
	}
	return *req.Hold, nil
}

func (s *Server) handleAccountHold(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	target, err := parseAddressParam("principal", chi.URLParam(r, "principal"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hold, err := decodeHold(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetAccountHold(caller, target, hold); err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.engine.Account(target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountViewFrom(acct))
}

func (s *Server) handleTransactionHold(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hold, err := decodeHold(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetTransactionHold(caller, id, hold); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTransaction(w, r, http.StatusOK, id)
}

type oracleRequest struct {
	Oracle  string `json:"oracle,omitempty"`
	Manager string `json:"manager,omitempty"`
}

// handleSetOracle links the engine to the oracle served by this node. Only
// in-process authorities can be resolved.
func (s *Server) handleSetOracle(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := parseAddressParam("oracle", req.Oracle)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.oracle == nil || s.oracle.Address() != addr {
		s.writeError(w, r, errOracleUnavailable)
		return
	}
	if err := s.engine.SetOracleLink(caller, s.oracle); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"oracle": crypto.FormatPrincipal(addr)})
}

func (s *Server) handleSetOracleManager(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if s.oracle == nil {
		s.writeError(w, r, errOracleUnavailable)
		return
	}
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	manager, err := parseAddressParam("manager", req.Manager)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.oracle.SetManager(caller, manager); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"manager": crypto.FormatPrincipal(manager)})
}

func (s *Server) handleGetOracle(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"linked": false}
	if linked, ok := s.engine.OracleLink(); ok {
		resp["linked"] = true
		resp["oracle"] = crypto.FormatPrincipal(linked)
	}
	if s.oracle != nil {
		resp["served"] = crypto.FormatPrincipal(s.oracle.Address())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarkSatisfied(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if s.oracle == nil {
		s.writeError(w, r, errOracleUnavailable)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.oracle.MarkSatisfied(caller, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "satisfied": true})
}

type createTransactionRequest struct {
	Receiver string `json:"receiver"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Timeout  uint64 `json:"timeout"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req createTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	receiver, err := parseAddressParam("receiver", req.Receiver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddressParam("asset", req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.engine.InitializeTransaction(caller, receiver, asset, amount, req.Timeout)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTransaction(w, r, http.StatusCreated, id)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTransaction(w, r, http.StatusOK, id)
}

func (s *Server) writeTransaction(w http.ResponseWriter, r *http.Request, status int, id uint64) {
	tx, err := s.engine.Transaction(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := transactionViewFrom(tx)
	if !tx.Closed {
		conds, err := s.engine.ReleaseConditions(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		view.Conditions = &conditionsView{
			TimedOut:        conds.TimedOut,
			OracleSatisfied: conds.OracleSatisfied,
			UnlockAt:        conds.UnlockAt,
		}
	}
	writeJSON(w, status, view)
}

func (s *Server) handleCloseTransaction(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.CloseTransaction(caller, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTransaction(w, r, http.StatusOK, id)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	principal, err := parseAddressParam("principal", chi.URLParam(r, "principal"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var ids []uint64
	switch role := r.URL.Query().Get("role"); role {
	case "", "sender":
		ids, err = s.engine.TransactionsBySender(principal)
	case "receiver":
		ids, err = s.engine.TransactionsByReceiver(principal)
	default:
		err = invalid("unknown role %q", role)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"principal": crypto.FormatPrincipal(principal), "ids": ids})
}

type approveTokenRequest struct {
	Amount string `json:"amount"`
}

// handleApproveToken grants the engine custody an allowance over the
// caller's balance of asset.
func (s *Server) handleApproveToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	asset, err := parseAddressParam("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req approveTokenRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender := s.engine.CustodyAddress()
	if err := s.tokens.Approve(asset, caller, spender, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":   crypto.FormatAsset(asset),
		"owner":   crypto.FormatPrincipal(caller),
		"spender": crypto.FormatPrincipal(spender),
		"amount":  amount.String(),
	})
}

type transferTokenRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// handleTransferToken moves part of the caller's balance to another holder.
func (s *Server) handleTransferToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	asset, err := parseAddressParam("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transferTokenRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddressParam("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.tokens.Transfer(asset, caller, to, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":  crypto.FormatAsset(asset),
		"from":   crypto.FormatPrincipal(caller),
		"to":     crypto.FormatPrincipal(to),
		"amount": amount.String(),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddressParam("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	principal, err := parseAddressParam("principal", chi.URLParam(r, "principal"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.tokens.BalanceOf(asset, principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	allowance, err := s.tokens.Allowance(asset, principal, s.engine.CustodyAddress())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     crypto.FormatAsset(asset),
		"principal": crypto.FormatPrincipal(principal),
		"balance":   balance.String(),
		"allowance": allowance.String(),
	})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, r, errJournalUnavailable)
		return
	}
	query := r.URL.Query()
	var after int64
	if raw := query.Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			s.writeError(w, r, invalid("after %q is not a sequence number", raw))
			return
		}
		after = v
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			s.writeError(w, r, invalid("limit %q is not a count", raw))
			return
		}
		limit = v
	}
	entries, err := s.journal.List(r.Context(), after, strings.TrimSpace(query.Get("type")), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}
