package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/ledger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
)

// MintRequest cunha um barco novo.
type MintRequest struct {
	TransactionID string           `json:"transactionId"`
	Terms         models.MintTerms `json:"terms"`
}

type MintResult struct {
	TokenID   uint64 `json:"tokenId"`
	Reference string `json:"reference,omitempty"`
}

// ListForSaleRequest grava as condições de aluguel e, com SellPrice > 0, anuncia a venda.
type ListForSaleRequest struct {
	TransactionID string             `json:"transactionId"`
	TokenID       uint64             `json:"tokenId"`
	Terms         models.RentalTerms `json:"terms"`
	SellPrice     uint64             `json:"sellPrice"`
}

type ListForSaleResult struct {
	TokenID   uint64 `json:"tokenId"`
	SellPrice uint64 `json:"sellPrice"`
}

// SaleRequest compra o barco anunciado. Buyer vazio usa o signatário da conexão;
// ExpectedPrice zero aceita o preço vigente.
type SaleRequest struct {
	TransactionID string `json:"transactionId"`
	AssetUUID     string `json:"boatUuid"`
	Buyer         string `json:"buyer"`
	ExpectedPrice uint64 `json:"expectedPrice"`
}

type SaleResult struct {
	NewOwner   string `json:"newOwner"`
	FinalPrice uint64 `json:"finalPrice"`
	Reference  string `json:"reference,omitempty"`
}

// Mint valida as condições, recusa uuids já cunhados e devolve o handle atribuído.
func (c *Coordinator) Mint(ctx context.Context, req MintRequest) (MintResult, error) {
	if err := req.Terms.Validate(); err != nil {
		return MintResult{}, err
	}
	key := models.FlowKey{UUID: req.Terms.UUID, TransactionID: req.TransactionID, Operation: models.OpMint}

	return runFlow(ctx, c, key, req, func(ctx context.Context, run *flowRun) (MintResult, error) {
		_, err := c.identity.ResolveAssetHandle(ctx, req.Terms.UUID)
		switch {
		case err == nil:
			return MintResult{}, models.ErrAlreadyMinted
		case !errors.Is(err, models.ErrNotFound):
			return MintResult{}, err
		}

		l := run.ledger
		receipt, err := l.Mint(ctx, req.Terms)
		run.track(ctx, receipt)
		if err != nil && !errors.Is(err, models.ErrInclusionUnknown) {
			return MintResult{}, err
		}
		handle, rerr := c.identity.ResolveAssetHandle(ctx, req.Terms.UUID)
		if rerr != nil {
			if err != nil {
				return MintResult{}, err
			}
			return MintResult{}, fmt.Errorf("falha ao resolver barco cunhado: %w", rerr)
		}
		return MintResult{TokenID: handle, Reference: run.ref}, nil
	})
}

// ListForSale grava as condições de aluguel e o preço de venda de um barco já cunhado.
func (c *Coordinator) ListForSale(ctx context.Context, req ListForSaleRequest) (ListForSaleResult, error) {
	if req.TokenID == 0 {
		return ListForSaleResult{}, models.Invalid("tokenId", "campo obrigatório")
	}
	if err := req.Terms.Validate(); err != nil {
		return ListForSaleResult{}, err
	}
	if req.SellPrice > 0 && (req.Terms.HourlyRate > 0 || req.Terms.DailyRate > 0) {
		return ListForSaleResult{}, models.ErrPriceExclusivity
	}
	key := models.FlowKey{UUID: strconv.FormatUint(req.TokenID, 10), TransactionID: req.TransactionID, Operation: models.OpListForSale}

	return runFlow(ctx, c, key, req, func(ctx context.Context, run *flowRun) (ListForSaleResult, error) {
		l := run.ledger

		receipt, err := l.SetRentalTerms(ctx, req.TokenID, req.Terms)
		run.track(ctx, receipt)
		if errors.Is(err, models.ErrInclusionUnknown) {
			if current, rerr := l.RentalTerms(ctx, req.TokenID); rerr == nil && current == req.Terms {
				err = nil
			}
		}
		if err != nil {
			return ListForSaleResult{}, err
		}

		if req.SellPrice > 0 {
			receipt, err = l.ListForSale(ctx, req.TokenID, req.SellPrice)
			run.track(ctx, receipt)
			if errors.Is(err, models.ErrInclusionUnknown) {
				if price, rerr := l.AskingPrice(ctx, req.TokenID); rerr == nil && price == req.SellPrice {
					err = nil
				}
			}
			if err != nil {
				return ListForSaleResult{}, err
			}
		}
		return ListForSaleResult{TokenID: req.TokenID, SellPrice: req.SellPrice}, nil
	})
}

// Sale executa a compra. Nenhuma metadata do marketplace é escrita.
func (c *Coordinator) Sale(ctx context.Context, req SaleRequest) (SaleResult, error) {
	if req.AssetUUID == "" {
		return SaleResult{}, models.Invalid("boat_uuid", "campo obrigatório")
	}
	if req.Buyer == "" {
		req.Buyer = c.ledgers.Current().Connection().Signer
	}
	key := models.FlowKey{UUID: req.AssetUUID, TransactionID: req.TransactionID, Operation: models.OpSale}

	return runFlow(ctx, c, key, req, func(ctx context.Context, run *flowRun) (SaleResult, error) {
		l := run.ledger
		handle, err := c.identity.ResolveAssetHandle(ctx, req.AssetUUID)
		if err != nil {
			return SaleResult{}, err
		}

		price, err := l.AskingPrice(ctx, handle)
		if err != nil {
			return SaleResult{}, err
		}
		if price == 0 {
			return SaleResult{}, models.ErrNoActiveListing
		}
		if req.ExpectedPrice > 0 && price != req.ExpectedPrice {
			return SaleResult{}, fmt.Errorf("%w: preço pedido mudou de %d para %d", models.ErrConflict, req.ExpectedPrice, price)
		}

		// O preço pedido é zerado pela venda; fica no registro para o reconciliador.
		run.checkpoint(ctx, SaleResult{NewOwner: req.Buyer, FinalPrice: price})

		res, err := l.ExecuteSale(ctx, handle, req.Buyer)
		run.track(ctx, res.Receipt)
		switch {
		case errors.Is(err, models.ErrNoActiveListing):
			return SaleResult{}, fmt.Errorf("%w: anúncio removido durante a venda", models.ErrConflict)
		case errors.Is(err, models.ErrInclusionUnknown):
			sold, rerr := saleApplied(ctx, l, handle, req.Buyer)
			if rerr != nil || !sold {
				return SaleResult{}, err
			}
			res.NewOwner, res.Amount = req.Buyer, price
			run.log.Info("Venda confirmada após releitura do ledger", "handle", handle)
		case err != nil:
			return SaleResult{}, err
		}

		after, err := l.AskingPrice(ctx, handle)
		if err == nil && after != 0 {
			// Outro fluxo já reanunciou o barco; a venda em si está confirmada.
			run.log.Warn("Preço pedido diferente de zero após a venda", "handle", handle, "asking_price", after)
		}

		return SaleResult{NewOwner: res.NewOwner, FinalPrice: res.Amount, Reference: run.ref}, nil
	})
}

// saleApplied indica se a venda está visível: dono é o comprador e não há anúncio.
func saleApplied(ctx context.Context, l ledger.AssetLedger, handle uint64, buyer string) (bool, error) {
	a, err := l.Asset(ctx, handle)
	if err != nil {
		return false, err
	}
	price, err := l.AskingPrice(ctx, handle)
	if err != nil {
		return false, err
	}
	return a.Owner == buyer && price == 0, nil
}

// Boat lê o estado on-chain do barco identificado por uuid.
func (c *Coordinator) Boat(ctx context.Context, uuid string) (models.Asset, error) {
	handle, err := c.identity.ResolveAssetHandle(ctx, uuid)
	if err != nil {
		return models.Asset{}, err
	}
	l, release := c.ledgers.Acquire()
	defer release()
	return l.Asset(ctx, handle)
}
