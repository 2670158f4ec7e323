package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"cratsale/crypto"
	"cratsale/native/sale"
	"cratsale/services/saled/storage"
)

type stateResponse struct {
	SaleAddress      string   `json:"sale_address"`
	SaleToken        string   `json:"sale_token"`
	PaymentTokens    []string `json:"payment_tokens"`
	Owner            string   `json:"owner"`
	Phase            string   `json:"phase"`
	TotalFundsRaised string   `json:"total_funds_raised"`
	TokensSold       string   `json:"tokens_sold"`
	CurrentPrice     string   `json:"current_price"`
	MaxPrice         string   `json:"max_price"`
	ReferralRateBps  uint64   `json:"referral_rate_bps"`
}

type accountResponse struct {
	Address             string `json:"address"`
	TotalSpend          string `json:"total_spend"`
	BonusTokensReceived string `json:"bonus_tokens_received"`
	ReferralReceived    string `json:"referral_received"`
	ReferralFather      string `json:"referral_father,omitempty"`
}

type quoteResponse struct {
	Price       string `json:"price"`
	BaseTokens  string `json:"base_tokens"`
	BonusTokens string `json:"bonus_tokens"`
	Rebate      string `json:"rebate"`
	Referrer    string `json:"referrer,omitempty"`
}

type receiptResponse struct {
	ID            string `json:"id,omitempty"`
	Buyer         string `json:"buyer"`
	PaymentToken  string `json:"payment_token"`
	Amount        string `json:"amount"`
	Price         string `json:"price"`
	BaseTokens    string `json:"base_tokens"`
	BonusTokens   string `json:"bonus_tokens"`
	Rebate        string `json:"rebate"`
	Referrer      string `json:"referrer,omitempty"`
	ReferrerBound bool   `json:"referrer_bound"`
	NextPrice     string `json:"next_price"`
	Timestamp     string `json:"timestamp"`
}

func (s *Server) stateView() stateResponse {
	st := s.engine.State()
	cfg := s.engine.Config()
	payments := make([]string, 0, len(cfg.PaymentTokens))
	for _, token := range cfg.PaymentTokens {
		payments = append(payments, token.Hex())
	}
	return stateResponse{
		SaleAddress:      cfg.Address.Hex(),
		SaleToken:        cfg.SaleToken.Hex(),
		PaymentTokens:    payments,
		Owner:            addressOrEmpty(st.Owner),
		Phase:            st.Phase.String(),
		TotalFundsRaised: sale.FormatUnits(st.TotalFundsRaised),
		TokensSold:       sale.FormatUnits(st.TokensSold),
		CurrentPrice:     sale.FormatUnits(st.CurrentPrice),
		MaxPrice:         sale.FormatUnits(cfg.Ladder.Max()),
		ReferralRateBps:  st.ReferralRateBps,
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stateView())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.engine.AccountOf(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Address:             addr.Hex(),
		TotalSpend:          sale.FormatUnits(acc.TotalSpend),
		BonusTokensReceived: sale.FormatUnits(acc.BonusTokensReceived),
		ReferralReceived:    sale.FormatUnits(acc.ReferralReceived),
		ReferralFather:      addressOrEmpty(acc.ReferralFather),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	buyer, referrer, amount, err := parseOrderQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	quote, err := s.engine.Quote(buyer, referrer, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		Price:       sale.FormatUnits(quote.Price),
		BaseTokens:  sale.FormatUnits(quote.BaseTokens),
		BonusTokens: sale.FormatUnits(quote.BonusTokens),
		Rebate:      sale.FormatUnits(quote.Rebate),
		Referrer:    addressOrEmpty(quote.Referrer),
	})
}

func (s *Server) handlePreviewRebate(w http.ResponseWriter, r *http.Request) {
	buyer, referrer, amount, err := parseOrderQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rebate, err := s.engine.PreviewRebate(buyer, referrer, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rebate": sale.FormatUnits(rebate)})
}

// handleConvert answers ?stable=X with the tokens X buys and ?tokens=Y with
// the stable value of Y, both at the current price.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	switch {
	case query.Get("stable") != "":
		amount, err := parseAmount(query.Get("stable"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"tokens": sale.FormatUnits(s.engine.TokensFor(amount))})
	case query.Get("tokens") != "":
		amount, err := parseAmount(query.Get("tokens"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"stable": sale.FormatUnits(s.engine.StableFor(amount))})
	default:
		s.writeError(w, r, fmt.Errorf("%w: stable or tokens required", errInvalidPayload))
	}
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var payload struct {
		PaymentToken string `json:"payment_token"`
		Amount       string `json:"amount"`
		Referrer     string `json:"referrer"`
		MinRebate    string `json:"min_rebate"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Unregistered symbols go to the engine as the zero address so the phase
	// check still runs first and the rejection is ErrInvalidPaymentToken.
	token, err := s.resolveToken(payload.PaymentToken)
	if err != nil && !errors.Is(err, errUnknownToken) {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	referrer, err := parseOptionalAddress(payload.Referrer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var minRebate *big.Int
	if strings.TrimSpace(payload.MinRebate) != "" {
		if minRebate, err = parseAmount(payload.MinRebate); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	var receipt *sale.Receipt
	err = s.observe(r.Context(), "buy", func() error {
		var buyErr error
		receipt, buyErr = s.engine.Buy(caller, sale.BuyRequest{
			PaymentToken: token,
			Amount:       amount,
			Referrer:     referrer,
			MinRebate:    minRebate,
		})
		return buyErr
	})
	if err != nil {
		if sale.IsPaymentError(err) {
			s.logger.Info("saled: purchase rejected by token ledger",
				slog.String("buyer", caller.Hex()),
				slog.String("payment_token", token.Hex()),
				slog.Any("error", err))
		}
		s.writeError(w, r, err)
		return
	}
	s.saleMetrics.RecordPurchase(s.symbolOf(token.Hex()), receipt.Amount, receipt.Rebate)
	s.recordState()

	row := &storage.Purchase{
		Buyer:         receipt.Buyer.Hex(),
		PaymentToken:  receipt.PaymentToken.Hex(),
		Amount:        sale.FormatUnits(receipt.Amount),
		Price:         sale.FormatUnits(receipt.Price),
		BaseTokens:    sale.FormatUnits(receipt.BaseTokens),
		BonusTokens:   sale.FormatUnits(receipt.BonusTokens),
		Rebate:        sale.FormatUnits(receipt.Rebate),
		Referrer:      addressOrEmpty(receipt.Referrer),
		ReferrerBound: receipt.ReferrerBound,
		NextPrice:     sale.FormatUnits(receipt.NextPrice),
		CreatedAt:     receipt.Timestamp,
	}
	if err := s.journal.RecordPurchase(r.Context(), row); err != nil {
		s.logger.Error("saled: journal purchase",
			slog.String("buyer", row.Buyer),
			slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, receiptResponse{
		ID:            row.ID.String(),
		Buyer:         row.Buyer,
		PaymentToken:  row.PaymentToken,
		Amount:        row.Amount,
		Price:         row.Price,
		BaseTokens:    row.BaseTokens,
		BonusTokens:   row.BonusTokens,
		Rebate:        row.Rebate,
		Referrer:      row.Referrer,
		ReferrerBound: row.ReferrerBound,
		NextPrice:     row.NextPrice,
		Timestamp:     receipt.Timestamp.Format(time.RFC3339),
	})
}

func parseOrderQuery(r *http.Request) (buyer, referrer common.Address, amount *big.Int, err error) {
	query := r.URL.Query()
	if buyer, err = parseOptionalAddress(query.Get("buyer")); err != nil {
		return
	}
	if referrer, err = parseOptionalAddress(query.Get("referrer")); err != nil {
		return
	}
	amount, err = parseAmount(query.Get("amount"))
	return
}

func parseAmount(raw string) (*big.Int, error) {
	amount, err := sale.ParseUnits(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return amount, nil
}

func parseOptionalAddress(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return crypto.ParseAddress(raw)
}

func addressOrEmpty(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errInvalidPayload)
		}
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}
