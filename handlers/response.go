package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"

	"github.com/google/uuid"
)

// statusFor é a única tabela de erro → status HTTP.
func statusFor(err error) int {
	var rejected *models.MarketplaceRejectedError
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrAlreadyMinted),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrLedgerRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInclusionUnknown):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrMarketplaceUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &rejected):
		if rejected.Status >= 400 && rejected.Status < 500 {
			return rejected.Status
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Error("Falha ao escrever resposta", "error", err)
		}
	}
}

// respondSuccess devolve 200 {success:true, ...data}.
func respondSuccess(w http.ResponseWriter, data map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range data {
		body[k] = v
	}
	respondWithJSON(w, http.StatusOK, body)
}

// respondPending devolve 202 para passos concluídos cujo efeito final ainda não é visível.
func respondPending(w http.ResponseWriter, message string, data map[string]any) {
	body := map[string]any{"success": true, "pending": true, "message": message}
	for k, v := range data {
		body[k] = v
	}
	respondWithJSON(w, http.StatusAccepted, body)
}

// respondError aplica statusFor. Erros de validação usam "message", os demais "error".
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusBadRequest {
		respondWithJSON(w, code, map[string]any{"success": false, "message": err.Error()})
		return
	}
	if code >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Falha ao processar requisição", "path", r.URL.Path, "status", code, "error", err)
	} else {
		logger.WarnContext(r.Context(), "Requisição recusada", "path", r.URL.Path, "status", code, "error", err)
	}
	respondWithJSON(w, code, map[string]any{"success": false, "error": err.Error()})
}

// decodeJSON lê o corpo em v; corpo malformado vira erro de validação.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.Invalid("", "corpo JSON inválido: %v", err)
	}
	return nil
}

// idempotencyKey escolhe transaction_id do corpo, depois o cabeçalho
// Idempotency-Key e por fim um uuid novo.
func idempotencyKey(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if h := strings.TrimSpace(r.Header.Get("Idempotency-Key")); h != "" {
		return h
	}
	return uuid.New().String()
}

// amount aceita números JSON ou strings numéricas, como enviados pelo formulário.
type amount uint64

func (a *amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		// float64(math.MaxUint64) arredonda para 2^64, fora do intervalo
		if err != nil || f < 0 || f >= float64(math.MaxUint64) {
			return fmt.Errorf("valor numérico inválido %q", s)
		}
		*a = amount(f)
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("valor numérico inválido %q", s)
	}
	*a = amount(n)
	return nil
}

// timestamp aceita RFC 3339 ou segundos Unix.
type timestamp time.Time

func (t *timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*t = timestamp(time.Time{})
		return nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = timestamp(time.Unix(secs, 0).UTC())
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("data inválida %q", s)
	}
	*t = timestamp(parsed)
	return nil
}

func required(fields ...[2]string) error {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return models.Invalid(f[0], "campo obrigatório")
		}
	}
	return nil
}
