package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cratsale/core/events"
	"cratsale/core/types"
	"cratsale/crypto"
)

func (s *Server) handleJournalPurchases(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	buyer := ""
	if raw := strings.TrimSpace(r.URL.Query().Get("buyer")); raw != "" {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		buyer = addr.Hex()
	}
	rows, err := s.journal.ListPurchases(r.Context(), buyer, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]receiptResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, receiptResponse{
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
			Timestamp:     row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": out})
}

func (s *Server) handleJournalAdmin(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.journal.ListAdminActions(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]string{
			"id":         row.ID.String(),
			"actor":      row.Actor,
			"action":     row.Action,
			"details":    row.Details,
			"created_at": row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

// handleJournalEvents lists recent events, newest last, optionally filtered by
// ?type=.
func (s *Server) handleJournalEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	typ := strings.TrimSpace(r.URL.Query().Get("type"))
	out := make([]*types.Event, 0)
	if s.cfg.Events != nil {
		for _, evt := range s.cfg.Events.Events() {
			if typ != "" && evt.EventType() != typ {
				continue
			}
			if typed, ok := evt.(events.Typed); ok {
				out = append(out, typed.Event())
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", errInvalidPayload)
	}
	return limit, nil
}
