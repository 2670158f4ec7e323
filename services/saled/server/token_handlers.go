package server

import (
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"cratsale/crypto"
	"cratsale/native/bank"
	"cratsale/native/sale"
	kv "cratsale/storage"
)

type tokenResponse struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
}

// resolveToken accepts a token address or a registered symbol.
func (s *Server) resolveToken(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("%w: token required", errInvalidPayload)
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		return crypto.ParseAddress(trimmed)
	}
	for _, info := range s.ledger.Tokens() {
		if strings.EqualFold(info.Symbol, trimmed) {
			return info.Address, nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %s", errUnknownToken, trimmed)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	infos := s.ledger.Tokens()
	out := make([]tokenResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, tokenResponse{
			Address:     info.Address.Hex(),
			Symbol:      info.Symbol,
			Decimals:    info.Decimals,
			TotalSupply: sale.FormatUnits(info.TotalSupply),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	token, err := s.resolveToken(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := crypto.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var balance *big.Int
	err = s.ledger.View(func(tokens bank.Tokens) error {
		var viewErr error
		balance, viewErr = tokens.BalanceOf(token, owner)
		return viewErr
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   token.Hex(),
		"owner":   owner.Hex(),
		"balance": sale.FormatUnits(balance),
	})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	token, err := s.resolveToken(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := crypto.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender, err := crypto.ParseAddress(chi.URLParam(r, "spender"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var allowance *big.Int
	err = s.ledger.View(func(tokens bank.Tokens) error {
		var viewErr error
		allowance, viewErr = tokens.Allowance(token, owner, spender)
		return viewErr
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token.Hex(),
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": sale.FormatUnits(allowance),
		"unlimited": allowance.Cmp(bank.UnlimitedAllowance()) == 0,
	})
}

// handleApprove sets the caller's allowance for a spender. The amount "max"
// grants an allowance that is never decremented.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	token, err := s.resolveToken(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var payload struct {
		Spender string `json:"spender"`
		Amount  string `json:"amount"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	spender, err := crypto.ParseAddress(payload.Spender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var amount *big.Int
	if strings.EqualFold(strings.TrimSpace(payload.Amount), "max") {
		amount = bank.UnlimitedAllowance()
	} else if amount, err = parseAmount(payload.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.observe(r.Context(), "approve", func() error {
		return s.ledger.Atomic(func(tokens bank.Tokens, _ kv.Batch) error {
			return tokens.Approve(token, caller, spender, amount)
		})
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("saled: allowance set",
		slog.String("token", token.Hex()),
		slog.String("caller", caller.Hex()),
		slog.String("spender", spender.Hex()))
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   token.Hex(),
		"owner":   caller.Hex(),
		"spender": spender.Hex(),
		"amount":  sale.FormatUnits(amount),
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	token, err := s.resolveToken(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var payload struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &payload); err != nil {
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
	err = s.observe(r.Context(), "transfer", func() error {
		return s.ledger.Atomic(func(tokens bank.Tokens, _ kv.Batch) error {
			return tokens.Transfer(token, caller, to, amount)
		})
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":  token.Hex(),
		"from":   caller.Hex(),
		"to":     to.Hex(),
		"amount": sale.FormatUnits(amount),
	})
}
