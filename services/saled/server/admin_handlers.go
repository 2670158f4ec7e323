package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"cratsale/crypto"
	"cratsale/native/sale"
)

// runAdmin executes an owner operation, journals it on success and replies
// with the resulting sale state.
func (s *Server) runAdmin(w http.ResponseWriter, r *http.Request, action string, details map[string]any, fn func(caller common.Address) error) {
	caller, _ := CallerFromContext(r.Context())
	if err := s.observe(r.Context(), action, func() error { return fn(caller) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordState()
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		encoded = []byte("{}")
	}
	if _, err := s.journal.RecordAdminAction(r.Context(), caller.Hex(), action, string(encoded)); err != nil {
		s.logger.Error("saled: journal admin action",
			slog.String("caller", caller.Hex()),
			slog.String("action", action),
			slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, s.stateView())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.runAdmin(w, r, "pause", nil, s.engine.Pause)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.runAdmin(w, r, "unpause", nil, s.engine.Unpause)
}

func (s *Server) handleReferralRate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RateBps *uint64 `json:"rate_bps"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	if payload.RateBps == nil {
		s.writeError(w, r, sale.ErrInvalidReferralRate)
		return
	}
	rate := *payload.RateBps
	s.runAdmin(w, r, "referral_rate", map[string]any{"rate_bps": rate}, func(caller common.Address) error {
		return s.engine.ChangeReferralRate(caller, rate)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token  string `json:"token"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.resolveToken(payload.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := crypto.ParseAddress(payload.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	details := map[string]any{
		"token":  token.Hex(),
		"to":     to.Hex(),
		"amount": sale.FormatUnits(amount),
	}
	s.runAdmin(w, r, "withdraw", details, func(caller common.Address) error {
		return s.engine.Withdraw(caller, token, to, amount)
	})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		NewOwner string `json:"new_owner"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	next, err := crypto.ParseAddress(payload.NewOwner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runAdmin(w, r, "transfer_ownership", map[string]any{"new_owner": next.Hex()}, func(caller common.Address) error {
		return s.engine.TransferOwnership(caller, next)
	})
}

func (s *Server) handleRenounceOwnership(w http.ResponseWriter, r *http.Request) {
	s.runAdmin(w, r, "renounce_ownership", nil, s.engine.RenounceOwnership)
}
