package services

import (
	"context"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/marketplace"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
)

// ProjectStatus devolve o próximo estado da reserva a partir da metadata atual:
// vazia projeta check-in, qualquer outra projeta check-out.
func ProjectStatus(metadata map[string]any) models.BookingStatus {
	return models.BookingStatusFrom(metadata).Next()
}

// SyncStatus lê a transação, projeta o próximo estado e grava-o em metadata.
// A chave de idempotência inclui o estado alvo, então check-in e check-out da
// mesma transação são fluxos distintos.
func (c *Coordinator) SyncStatus(ctx context.Context, transactionID string) (models.MarketplaceTransaction, error) {
	if transactionID == "" {
		return models.MarketplaceTransaction{}, models.Invalid("transactionId", "campo obrigatório")
	}
	tx, err := c.marketplace.Show(ctx, transactionID)
	if err != nil {
		return models.MarketplaceTransaction{}, err
	}
	current := models.BookingStatusFrom(tx.Metadata)
	next := ProjectStatus(tx.Metadata)

	key := models.FlowKey{UUID: transactionID, TransactionID: next.String(), Operation: models.OpStatusSync}
	req := struct {
		TransactionID string `json:"transactionId"`
		Status        string `json:"bookingStatus"`
	}{transactionID, next.String()}

	return runFlow(ctx, c, key, req, func(ctx context.Context, run *flowRun) (models.MarketplaceTransaction, error) {
		if current == next {
			run.log.Info("Reserva já em estado terminal", "booking_status", next.String())
			return tx, nil
		}
		merged := marketplace.MergeMetadata(tx.Metadata, map[string]any{models.BookingStatusKey: next.String()})
		updated, err := c.marketplace.UpdateMetadata(ctx, transactionID, merged)
		if err != nil {
			return models.MarketplaceTransaction{}, err
		}
		run.log.Info("Estado da reserva atualizado", "from", current.String(), "to", next.String())
		return updated, nil
	})
}
