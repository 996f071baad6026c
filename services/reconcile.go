package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
)

// Observation é o que o ledger mostra sobre o efeito de um registro aberto.
type Observation struct {
	Visible bool
	Result  []byte
}

// Observe relê o ledger (ou o marketplace, para status-sync) e diz se o efeito
// do registro já é visível, sem submeter nenhuma transação.
func (c *Coordinator) Observe(ctx context.Context, rec models.FlowRecord) (Observation, error) {
	l, release := c.ledgers.Acquire()
	defer release()

	switch rec.Operation {
	case models.OpMint:
		var req MintRequest
		if err := decodeRequest(rec, &req); err != nil {
			return Observation{}, err
		}
		handle, err := c.identity.ResolveAssetHandle(ctx, req.Terms.UUID)
		if errors.Is(err, models.ErrNotFound) {
			return Observation{}, nil
		}
		if err != nil {
			return Observation{}, err
		}
		return visible(MintResult{TokenID: handle, Reference: rec.LedgerRef})

	case models.OpListForSale:
		var req ListForSaleRequest
		if err := decodeRequest(rec, &req); err != nil {
			return Observation{}, err
		}
		terms, err := l.RentalTerms(ctx, req.TokenID)
		if err != nil {
			return Observation{}, err
		}
		if terms != req.Terms {
			return Observation{}, nil
		}
		if req.SellPrice > 0 {
			price, err := l.AskingPrice(ctx, req.TokenID)
			if err != nil || price != req.SellPrice {
				return Observation{}, err
			}
		}
		return visible(ListForSaleResult{TokenID: req.TokenID, SellPrice: req.SellPrice})

	case models.OpSale:
		var req SaleRequest
		if err := decodeRequest(rec, &req); err != nil {
			return Observation{}, err
		}
		handle, err := c.identity.ResolveAssetHandle(ctx, req.AssetUUID)
		if err != nil {
			return Observation{}, err
		}
		sold, err := saleApplied(ctx, l, handle, req.Buyer)
		if err != nil || !sold {
			return Observation{}, err
		}
		res := SaleResult{FinalPrice: req.ExpectedPrice}
		if len(rec.Result) > 0 {
			if err := json.Unmarshal(rec.Result, &res); err != nil {
				return Observation{}, fmt.Errorf("falha ao ler resultado provisório da venda: %w", err)
			}
		}
		res.NewOwner, res.Reference = req.Buyer, rec.LedgerRef
		return visible(res)

	case models.OpCreateRental:
		var req CreateRentalRequest
		if err := decodeRequest(rec, &req); err != nil {
			return Observation{}, err
		}
		handle, err := c.identity.ResolveRentalHandle(ctx, req.Rental.RentalUUID)
		if errors.Is(err, models.ErrNotFound) {
			return Observation{}, nil
		}
		if err != nil {
			return Observation{}, err
		}
		ag, err := l.RentalAgreement(ctx, handle)
		if err != nil {
			return Observation{}, err
		}
		return visible(CreateRentalResult{
			RentalID:      handle,
			DepositAmount: ag.DepositAmount,
			Hours:         models.HoursBetween(ag.CheckIn, ag.CheckOut),
		})

	case models.OpCancelRental:
		var req CancelRentalRequest
		if err := decodeRequest(rec, &req); err != nil {
			return Observation{}, err
		}
		handle, err := c.identity.ResolveRentalHandle(ctx, req.rentalUUID())
		if err != nil {
			return Observation{}, err
		}
		ag, err := l.RentalAgreement(ctx, handle)
		if err != nil {
			return Observation{}, err
		}
		escrow := models.EscrowFor(ag)
		if escrow.State != models.EscrowRefundedToRenter {
			return Observation{}, nil
		}
		return visible(CancelRentalResult{RentalID: handle, Refunded: escrow.Amount})

	case models.OpCompleteRental:
		var req CompleteRentalRequest
		if err := decodeRequest(rec, &req); err != nil {
			return Observation{}, err
		}
		handle, err := c.identity.ResolveRentalHandle(ctx, req.rentalUUID())
		if err != nil {
			return Observation{}, err
		}
		done, err := l.RentalCompleted(ctx, handle)
		if err != nil || !done {
			return Observation{}, err
		}
		return visible(CompleteRentalResult{RentalID: handle, Completed: true})

	case models.OpStatusSync:
		tx, err := c.marketplace.Show(ctx, rec.UUID)
		if err != nil {
			return Observation{}, err
		}
		if models.BookingStatusFrom(tx.Metadata).String() != rec.TransactionID {
			return Observation{}, nil
		}
		return visible(tx)
	}
	return Observation{}, fmt.Errorf("operação desconhecida: %s", rec.Operation)
}

func decodeRequest(rec models.FlowRecord, v any) error {
	if err := json.Unmarshal(rec.Request, v); err != nil {
		return fmt.Errorf("falha ao ler requisição gravada de %s: %w", rec.Operation, err)
	}
	return nil
}

func visible(result any) (Observation, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return Observation{}, err
	}
	return Observation{Visible: true, Result: body}, nil
}
