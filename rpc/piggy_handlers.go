package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"slimhogs/crypto"
	"slimhogs/native/piggy"
	"slimhogs/native/token"
)

const (
	codePiggyNotFound    = -32030
	codePiggyConflict    = -32031
	codePiggyForbidden   = -32032
	codePiggyState       = -32033
	codePiggyTransfer    = -32034
	codePiggyBusy        = -32035
	codePiggyUnavailable = -32036
)

const (
	defaultHistoryLimit = 50
	maximumHistoryLimit = 500
)

// piggyError maps an engine error to its JSON-RPC code and HTTP status.
func piggyError(err error) *RPCError {
	var (
		code   = codeServerError
		status = http.StatusInternalServerError
	)
	switch {
	case errors.Is(err, piggy.ErrInvalidTerms), errors.Is(err, piggy.ErrInvalidRecipient):
		code, status = codeInvalidParams, http.StatusBadRequest
	case errors.Is(err, piggy.ErrNotFound):
		code, status = codePiggyNotFound, http.StatusNotFound
	case errors.Is(err, piggy.ErrClosed), errors.Is(err, piggy.ErrAlreadyExists):
		code, status = codePiggyConflict, http.StatusConflict
	case errors.Is(err, piggy.ErrUnauthorized):
		code, status = codePiggyForbidden, http.StatusForbidden
	case errors.Is(err, piggy.ErrNotOpen), errors.Is(err, piggy.ErrNotSettled),
		errors.Is(err, piggy.ErrNotYetExpired), errors.Is(err, piggy.ErrAlreadyExpired),
		errors.Is(err, piggy.ErrInsufficientLocked):
		code, status = codePiggyState, http.StatusConflict
	case errors.Is(err, piggy.ErrTransferFailed):
		code, status = codePiggyTransfer, http.StatusUnprocessableEntity
	case errors.Is(err, piggy.ErrReentrantCall), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code, status = codePiggyBusy, http.StatusServiceUnavailable
	case errors.Is(err, piggy.ErrNoSettlementValue), errors.Is(err, piggy.ErrNotConfigured):
		code, status = codePiggyUnavailable, http.StatusServiceUnavailable
	}
	return &RPCError{Code: code, Message: piggy.Outcome(err), Data: err.Error(), status: status}
}

func (s *Server) handleFingerprint(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	var params termsParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	terms, err := params.Terms.toTerms()
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	return fingerprintResult{Fingerprint: piggy.Fingerprint(terms).Hex(), Encoded: encodedTerms(terms)}, nil
}

func (s *Server) handleCreate(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	var params createParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	terms, err := params.Terms.toTerms()
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	resolver, err := parseOptionalAddress("resolver", params.Resolver)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	arbiter, err := parseOptionalAddress("arbiter", params.Arbiter)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	counterparty, err := parseOptionalAddress("counterparty", params.Counterparty)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	var mode piggy.Creation = piggy.CreatorInitiated{}
	if counterparty != (common.Address{}) {
		mode = piggy.CounterpartyInitiated{Counterparty: counterparty}
	}
	id, err := s.registry.Create(ctx, caller, terms, resolver, arbiter, mode)
	if err != nil {
		return nil, piggyError(err)
	}
	return fingerprintResult{Fingerprint: id.Hex(), Encoded: encodedTerms(terms)}, nil
}

func (s *Server) handleTransfer(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	var params transferParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	terms, err := params.Terms.toTerms()
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	newOwner, err := crypto.ParseAddress(params.NewOwner)
	if err != nil {
		return nil, invalidParams("newOwner: %v", err)
	}
	if err := s.registry.Transfer(ctx, caller, terms, newOwner); err != nil {
		return nil, piggyError(err)
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleReclaimAndBurn(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	var params termsParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	terms, err := params.Terms.toTerms()
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	if err := s.registry.ReclaimAndBurn(ctx, caller, terms); err != nil {
		return nil, piggyError(err)
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleSettle(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	var params settleParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	terms, err := params.Terms.toTerms()
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	holder, err := crypto.ParseAddress(params.Holder)
	if err != nil {
		return nil, invalidParams("holder: %v", err)
	}
	if err := s.registry.Settle(ctx, caller, terms, holder); err != nil {
		return nil, piggyError(err)
	}
	return s.positionResult(ctx, piggy.Fingerprint(terms))
}

func (s *Server) handleClaimPayout(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	var params claimParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	terms, err := params.Terms.toTerms()
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	if err := s.registry.Claim(ctx, caller, terms, amount); err != nil {
		return nil, piggyError(err)
	}
	return s.positionResult(ctx, piggy.Fingerprint(terms))
}

func (s *Server) handleSetApprovalForAll(_ context.Context, caller common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	if s.operators == nil {
		return nil, &RPCError{Code: codeMethodNotFound, Message: "operator approvals disabled", status: http.StatusNotFound}
	}
	var params approvalParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	operator, err := crypto.ParseAddress(params.Operator)
	if err != nil {
		return nil, invalidParams("operator: %v", err)
	}
	s.operators.SetApprovalForAll(caller, operator, params.Approved)
	return okResult{OK: true}, nil
}

func (s *Server) handleApprove(_ context.Context, caller common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	if s.operators == nil {
		return nil, &RPCError{Code: codeMethodNotFound, Message: "operator approvals disabled", status: http.StatusNotFound}
	}
	var params approvalParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := piggy.ParseFingerprint(params.Fingerprint)
	if err != nil {
		return nil, invalidParams("fingerprint: %v", err)
	}
	operator, err := crypto.ParseAddress(params.Operator)
	if err != nil {
		return nil, invalidParams("operator: %v", err)
	}
	s.operators.Approve(id, caller, operator, params.Approved)
	return okResult{OK: true}, nil
}

func (s *Server) handleCheckOwner(ctx context.Context, _ common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	var params termsParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	terms, err := params.Terms.toTerms()
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	return ownerResult{Owner: s.registry.CheckOwner(ctx, terms).Hex()}, nil
}

func (s *Server) handlePosition(ctx context.Context, _ common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	var params fingerprintParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := piggy.ParseFingerprint(params.Fingerprint)
	if err != nil {
		return nil, invalidParams("fingerprint: %v", err)
	}
	return s.positionResult(ctx, id)
}

func (s *Server) positionResult(ctx context.Context, id common.Hash) (interface{}, *RPCError) {
	pos, ok, err := s.registry.Position(ctx, id)
	if err != nil {
		return nil, piggyError(err)
	}
	if !ok {
		return nil, piggyError(piggy.ErrNotFound)
	}
	return formatPosition(pos), nil
}

func (s *Server) handleHistory(ctx context.Context, _ common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	if s.history == nil {
		return nil, &RPCError{Code: codeMethodNotFound, Message: "event journal disabled", status: http.StatusNotFound}
	}
	var params fingerprintParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := piggy.ParseFingerprint(params.Fingerprint)
	if err != nil {
		return nil, invalidParams("fingerprint: %v", err)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maximumHistoryLimit {
		limit = maximumHistoryLimit
	}
	entries, err := s.history.History(ctx, id.Hex(), limit)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: "journal query failed", Data: err.Error(), status: http.StatusInternalServerError}
	}
	out, err := formatHistory(entries)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: "journal decode failed", Data: err.Error(), status: http.StatusInternalServerError}
	}
	return out, nil
}

func (s *Server) handleBalanceOf(ctx context.Context, _ common.Address, raw json.RawMessage) (interface{}, *RPCError) {
	var params balanceParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	tokenAddr, err := crypto.ParseAddress(params.Token)
	if err != nil {
		return nil, invalidParams("token: %v", err)
	}
	holder, err := crypto.ParseAddress(params.Holder)
	if err != nil {
		return nil, invalidParams("holder: %v", err)
	}
	if s.tokens == nil {
		return nil, &RPCError{Code: codeServerError, Message: "token registry not configured", status: http.StatusServiceUnavailable}
	}
	tok, err := s.tokens.Token(tokenAddr)
	if err != nil {
		if errors.Is(err, token.ErrUnknownToken) {
			return nil, &RPCError{Code: codePiggyNotFound, Message: "unknown token", Data: tokenAddr.Hex(), status: http.StatusNotFound}
		}
		return nil, &RPCError{Code: codeServerError, Message: "token lookup failed", Data: err.Error(), status: http.StatusInternalServerError}
	}
	balance, err := tok.BalanceOf(ctx, holder)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: "balance query failed", Data: err.Error(), status: http.StatusBadGateway}
	}
	return balanceResult{Token: tokenAddr.Hex(), Holder: holder.Hex(), Balance: decimal(balance)}, nil
}
