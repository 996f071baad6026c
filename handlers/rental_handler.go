package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/services"
)

type RentalHandler struct {
	Service *services.Coordinator
}

func NewRentalHandler(s *services.Coordinator) *RentalHandler {
	return &RentalHandler{Service: s}
}

type CreateRentalAgreementRequest struct {
	BoatUUID       string    `json:"boat_uuid"`
	RentalUUID     string    `json:"rental_uuid"`
	AccountAddress string    `json:"account_address"`
	CheckIn        timestamp `json:"check_in"`
	CheckOut       timestamp `json:"check_out"`
	TransactionID  string    `json:"transaction_id"`
}

// CreateRentalAgreement reserva o barco e retém o depósito no escrow.
// POST /create-rental-agreement
func (h *RentalHandler) CreateRentalAgreement(w http.ResponseWriter, r *http.Request) {
	var req CreateRentalAgreementRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.Service.CreateRental(r.Context(), services.CreateRentalRequest{
		TransactionID: idempotencyKey(r, req.TransactionID),
		Rental: models.RentalRequest{
			AssetUUID:  req.BoatUUID,
			RentalUUID: req.RentalUUID,
			Renter:     req.AccountAddress,
			CheckIn:    time.Time(req.CheckIn),
			CheckOut:   time.Time(req.CheckOut),
		},
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSuccess(w, map[string]any{
		"rentalId":            res.RentalID,
		"depositAmount":       res.DepositAmount,
		"rentalPeriodInHours": res.Hours,
	})
}

type RentalActionRequest struct {
	BoatUUID       string `json:"boat_uuid"`
	RentalUUID     string `json:"rental_uuid"`
	AccountAddress string `json:"account_address"`
	TransactionID  string `json:"transaction_id"`
}

// HandleRentalCancellation cancela a reserva e devolve o depósito ao locatário.
// POST /handle-rental-cancellation
func (h *RentalHandler) HandleRentalCancellation(w http.ResponseWriter, r *http.Request) {
	var req RentalActionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := required([2]string{"boat_uuid", req.BoatUUID}, [2]string{"account_address", req.AccountAddress}); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.Service.CancelRental(r.Context(), services.CancelRentalRequest{
		TransactionID: idempotencyKey(r, req.TransactionID),
		AssetUUID:     req.BoatUUID,
		RentalUUID:    req.RentalUUID,
		Account:       req.AccountAddress,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSuccess(w, map[string]any{"rentalId": res.RentalID, "refunded": res.Refunded})
}

// HandleRentalCompletion aprova a inspeção e libera o depósito ao dono.
// POST /handle-rental-completion
func (h *RentalHandler) HandleRentalCompletion(w http.ResponseWriter, r *http.Request) {
	var req RentalActionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := required([2]string{"boat_uuid", req.BoatUUID}); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.Service.CompleteRental(r.Context(), services.CompleteRentalRequest{
		TransactionID: idempotencyKey(r, req.TransactionID),
		AssetUUID:     req.BoatUUID,
		RentalUUID:    req.RentalUUID,
	})
	if errors.Is(err, models.ErrCompletionPending) {
		respondPending(w, "Inspeção registrada; conclusão do aluguel pendente no ledger.", map[string]any{"rentalId": res.RentalID})
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSuccess(w, map[string]any{"rentalId": res.RentalID, "message": "Aluguel concluído com sucesso."})
}
