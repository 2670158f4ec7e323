package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"cratsale/crypto"
	"cratsale/native/bank"
	"cratsale/native/sale"
	"cratsale/services/saled/storage"
)

var (
	errInvalidPayload = errors.New("invalid payload")
	errUnknownToken   = errors.New("unknown token")
)

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, sale.ErrInvalidAmount),
		errors.Is(err, sale.ErrInvalidPaymentToken),
		errors.Is(err, sale.ErrInvalidReferralRate),
		errors.Is(err, sale.ErrZeroOwner),
		errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, bank.ErrZeroAddress),
		errors.Is(err, bank.ErrOverflow),
		errors.Is(err, crypto.ErrInvalidAddress),
		errors.Is(err, errInvalidPayload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, sale.ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, bank.ErrUnknownToken), errors.Is(err, errUnknownToken):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, sale.ErrPaused),
		errors.Is(err, sale.ErrNotPaused),
		errors.Is(err, sale.ErrRebateBelowMinimum),
		errors.Is(err, storage.ErrNonceReplayed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, bank.ErrInsufficientBalance),
		errors.Is(err, bank.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("saled: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	payload := map[string]any{"error": message}
	if traceID := traceIDFromContext(r.Context()); traceID != "" {
		payload["trace_id"] = traceID
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}
