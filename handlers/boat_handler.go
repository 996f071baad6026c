package handlers

import (
	"net/http"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/services"

	"github.com/go-chi/chi/v5"
)

type BoatHandler struct {
	Service *services.Coordinator
}

func NewBoatHandler(s *services.Coordinator) *BoatHandler {
	return &BoatHandler{Service: s}
}

// Corpo de /mint-boat. Preço e depósito chegam em centavos, períodos em horas.
type MintBoatRequest struct {
	BoatUUID       string `json:"boat_uuid"`
	MetadataURL    string `json:"metadata_url"`
	ListingType    string `json:"listing_type"`
	AccountAddress string `json:"account_address"`
	Price          amount `json:"price"`
	Deposit        amount `json:"deposit"`
	RefundPeriod   amount `json:"refund_period"`
	ClosedPeriod   amount `json:"closed_period"`
	TransactionID  string `json:"transaction_id"`
}

// MintBoat cunha o barco no ledger.
// POST /mint-boat
func (h *BoatHandler) MintBoat(w http.ResponseWriter, r *http.Request) {
	var req MintBoatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	mode, err := models.ParseListingMode(req.ListingType)
	if err != nil {
		respondError(w, r, err)
		return
	}

	terms := models.NewMintTerms(req.BoatUUID, req.AccountAddress, req.MetadataURL, mode,
		uint64(req.Price), uint64(req.Deposit), uint64(req.RefundPeriod), uint64(req.ClosedPeriod))

	res, err := h.Service.Mint(r.Context(), services.MintRequest{
		TransactionID: idempotencyKey(r, req.TransactionID),
		Terms:         terms,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSuccess(w, map[string]any{"tokenId": res.TokenID})
}

// Corpo de /create-boat-nft, com os nomes usados pelo formulário de anúncio.
type CreateBoatNFTRequest struct {
	TokenID             amount `json:"tokenId"`
	AdjustedHourlyPrice amount `json:"adjustedHourlyPrice"`
	AdjustedDailyPrice  amount `json:"adjustedDailyPrice"`
	ClosedPeriod        amount `json:"closedPeriod"`
	RefundabilityPeriod amount `json:"refundabilityPeriod"`
	SecurityDeposit     amount `json:"securityDeposit"`
	SellPrice           amount `json:"sellPrice"`
	TransactionID       string `json:"transaction_id"`
}

// CreateBoatNFT grava as condições de aluguel e o anúncio de venda.
// POST /create-boat-nft
func (h *BoatHandler) CreateBoatNFT(w http.ResponseWriter, r *http.Request) {
	var req CreateBoatNFTRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	_, err := h.Service.ListForSale(r.Context(), services.ListForSaleRequest{
		TransactionID: idempotencyKey(r, req.TransactionID),
		TokenID:       uint64(req.TokenID),
		Terms: models.RentalTerms{
			HourlyRate:          uint64(req.AdjustedHourlyPrice),
			DailyRate:           uint64(req.AdjustedDailyPrice),
			ClosedPeriod:        uint64(req.ClosedPeriod),
			RefundabilityPeriod: uint64(req.RefundabilityPeriod),
			SecurityDeposit:     uint64(req.SecurityDeposit),
		},
		SellPrice: uint64(req.SellPrice),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSuccess(w, map[string]any{"message": "Condições de aluguel e anúncio de venda criados com sucesso."})
}

type BoatSaleRequest struct {
	BoatUUID       string `json:"boat_uuid"`
	AccountAddress string `json:"account_address"`
	Price          amount `json:"price"`
	TransactionID  string `json:"transaction_id"`
}

// BoatSale compra um barco anunciado. price, quando enviado, precisa bater com o preço pedido.
// POST /boat-sale
func (h *BoatHandler) BoatSale(w http.ResponseWriter, r *http.Request) {
	var req BoatSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := required([2]string{"boat_uuid", req.BoatUUID}); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.Service.Sale(r.Context(), services.SaleRequest{
		TransactionID: idempotencyKey(r, req.TransactionID),
		AssetUUID:     req.BoatUUID,
		Buyer:         req.AccountAddress,
		ExpectedPrice: uint64(req.Price),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSuccess(w, map[string]any{"newOwner": res.NewOwner, "finalPrice": res.FinalPrice})
}

// GetBoat devolve o estado on-chain do barco.
// GET /boats/{boatUUID}
func (h *BoatHandler) GetBoat(w http.ResponseWriter, r *http.Request) {
	boat, err := h.Service.Boat(r.Context(), chi.URLParam(r, "boatUUID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSuccess(w, map[string]any{"boat": boat})
}
