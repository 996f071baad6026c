package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/services"
)

const maxTransitBody = 1 << 20

type TransactionHandler struct {
	Service *services.Coordinator
}

func NewTransactionHandler(s *services.Coordinator) *TransactionHandler {
	return &TransactionHandler{Service: s}
}

// UpdateMetadata avança o bookingStatus da transação do marketplace.
// Aceita transit ou JSON e sempre responde em transit.
// POST /update_metadata
func (h *TransactionHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	txID, err := readTransactionID(r)
	if err != nil {
		respondTransit(w, r, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	tx, err := h.Service.SyncStatus(r.Context(), txID)
	if err != nil {
		code := statusFor(err)
		logger.WarnContext(r.Context(), "Falha ao atualizar metadata da transação", "transaction_id", txID, "status", code, "error", err)
		respondTransit(w, r, code, map[string]any{"error": err.Error()})
		return
	}
	respondTransit(w, r, http.StatusOK, transactionResource(tx))
}

func readTransactionID(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTransitBody))
	if err != nil {
		return "", fmt.Errorf("falha ao ler corpo: %w", err)
	}

	var fields map[string]any
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == transitContentType {
		decoded, err := decodeTransit(body)
		if err != nil {
			return "", fmt.Errorf("transit inválido no corpo da requisição: %w", err)
		}
		m, ok := decoded.(map[string]any)
		if !ok {
			return "", fmt.Errorf("corpo transit deve ser um mapa")
		}
		fields = m
	} else if err := json.Unmarshal(body, &fields); err != nil {
		return "", fmt.Errorf("corpo JSON inválido: %w", err)
	}

	id, _ := fields["transactionId"].(string)
	if id == "" {
		return "", models.Invalid("transactionId", "campo obrigatório")
	}
	return id, nil
}

// transactionResource reproduz o envelope {data: {id, type, attributes}} da Integration API.
func transactionResource(tx models.MarketplaceTransaction) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"id":   tx.ID,
			"type": "transaction",
			"attributes": map[string]any{
				"lastTransition": tx.LastTransition,
				"lineItems":      tx.LineItems,
				"metadata":       tx.Metadata,
				"transitions":    tx.Transitions,
			},
		},
	}
}

func respondTransit(w http.ResponseWriter, r *http.Request, code int, data any) {
	body, err := encodeTransit(map[string]any{
		"status":     code,
		"statusText": http.StatusText(code),
		"data":       data,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "Falha ao serializar resposta transit", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", transitContentType)
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		logger.Error("Falha ao escrever resposta", "error", err)
	}
}
