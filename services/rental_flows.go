package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/ledger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
)

type CreateRentalRequest struct {
	TransactionID string               `json:"transactionId"`
	Rental        models.RentalRequest `json:"rental"`
}

type CreateRentalResult struct {
	RentalID      uint64 `json:"rentalId"`
	DepositAmount uint64 `json:"depositAmount"`
	Hours         uint64 `json:"rentalPeriodInHours"`
}

// CancelRentalRequest identifica o aluguel pelo uuid do contrato; vazio usa o uuid do barco.
type CancelRentalRequest struct {
	TransactionID string `json:"transactionId"`
	AssetUUID     string `json:"boatUuid"`
	RentalUUID    string `json:"rentalUuid"`
	Account       string `json:"account"`
}

type CancelRentalResult struct {
	RentalID uint64 `json:"rentalId"`
	Refunded uint64 `json:"refunded"`
}

type CompleteRentalRequest struct {
	TransactionID string `json:"transactionId"`
	AssetUUID     string `json:"boatUuid"`
	RentalUUID    string `json:"rentalUuid"`
}

type CompleteRentalResult struct {
	RentalID  uint64 `json:"rentalId"`
	Completed bool   `json:"completed"`
}

func (r CancelRentalRequest) rentalUUID() string {
	if r.RentalUUID != "" {
		return r.RentalUUID
	}
	return r.AssetUUID
}

func (r CompleteRentalRequest) rentalUUID() string {
	if r.RentalUUID != "" {
		return r.RentalUUID
	}
	return r.AssetUUID
}

// CreateRental calcula o depósito (taxa horária × horas inteiras + caução)
// e cria o contrato de aluguel no ledger.
func (c *Coordinator) CreateRental(ctx context.Context, req CreateRentalRequest) (CreateRentalResult, error) {
	r := req.Rental
	if err := r.Validate(); err != nil {
		return CreateRentalResult{}, err
	}
	if minimum := c.rental.MinDuration; minimum > 0 && r.CheckOut.Sub(r.CheckIn) < minimum {
		return CreateRentalResult{}, models.Invalid("check_out", "duração mínima de aluguel é %s", minimum)
	}
	key := models.FlowKey{UUID: r.RentalUUID, TransactionID: req.TransactionID, Operation: models.OpCreateRental}

	return runFlow(ctx, c, key, req, func(ctx context.Context, run *flowRun) (CreateRentalResult, error) {
		l := run.ledger
		boat, err := c.identity.ResolveAssetHandle(ctx, r.AssetUUID)
		if err != nil {
			return CreateRentalResult{}, err
		}
		if _, err := c.identity.ResolveRentalHandle(ctx, r.RentalUUID); err == nil {
			return CreateRentalResult{}, fmt.Errorf("%w: aluguel %s já existe", models.ErrConflict, r.RentalUUID)
		} else if !errors.Is(err, models.ErrNotFound) {
			return CreateRentalResult{}, err
		}

		terms, err := l.RentalTerms(ctx, boat)
		if err != nil {
			return CreateRentalResult{}, err
		}
		deposit, hours, err := models.DepositFor(terms, r.CheckIn, r.CheckOut)
		if err != nil {
			return CreateRentalResult{}, err
		}
		if hours == 0 {
			run.log.Warn("Janela de aluguel menor que uma hora; depósito igual à caução",
				"check_in", r.CheckIn, "check_out", r.CheckOut, "deposit", deposit)
		}

		receipt, err := l.CreateRentalAgreement(ctx, ledger.RentalParams{
			AssetHandle:     boat,
			Renter:          r.Renter,
			DepositAmount:   deposit,
			SecurityDeposit: terms.SecurityDeposit,
			CheckIn:         r.CheckIn,
			CheckOut:        r.CheckOut,
			UUID:            r.RentalUUID,
		})
		run.track(ctx, receipt)
		if err != nil && !errors.Is(err, models.ErrInclusionUnknown) {
			return CreateRentalResult{}, err
		}

		rental, rerr := c.identity.ResolveRentalHandle(ctx, r.RentalUUID)
		if rerr != nil {
			if err != nil {
				return CreateRentalResult{}, err
			}
			return CreateRentalResult{}, fmt.Errorf("falha ao resolver aluguel criado: %w", rerr)
		}
		return CreateRentalResult{RentalID: rental, DepositAmount: deposit, Hours: hours}, nil
	})
}

// CancelRental pede e confirma o cancelamento, devolvendo o depósito integral ao locatário.
// Um pedido de cancelamento repetido é inerte; uma reversão do cancelamento
// marca o registro como falho para que a mesma chave seja tentada de novo.
func (c *Coordinator) CancelRental(ctx context.Context, req CancelRentalRequest) (CancelRentalResult, error) {
	if req.rentalUUID() == "" {
		return CancelRentalResult{}, models.Invalid("boat_uuid", "campo obrigatório")
	}
	key := models.FlowKey{UUID: req.rentalUUID(), TransactionID: req.TransactionID, Operation: models.OpCancelRental}

	return runFlow(ctx, c, key, req, func(ctx context.Context, run *flowRun) (CancelRentalResult, error) {
		l := run.ledger
		handle, err := c.identity.ResolveRentalHandle(ctx, req.rentalUUID())
		if err != nil {
			return CancelRentalResult{}, err
		}
		ag, err := l.RentalAgreement(ctx, handle)
		if err != nil {
			return CancelRentalResult{}, err
		}
		result := CancelRentalResult{RentalID: handle, Refunded: ag.DepositAmount}

		stage := ag.Stage()
		switch {
		case stage == models.StageCompleted:
			return CancelRentalResult{}, fmt.Errorf("%w: aluguel %d já concluído", models.ErrConflict, handle)
		case req.Account != "" && req.Account != ag.Renter:
			return CancelRentalResult{}, models.ErrNotOwner
		case stage == models.StageCancelled:
			run.log.Info("Aluguel já cancelado", "rental", handle)
			return result, nil
		}

		if stage != models.StageCancellationRequested {
			receipt, err := l.RequestCancelReservation(ctx, handle)
			run.track(ctx, receipt)
			if errors.Is(err, models.ErrInclusionUnknown) {
				if now, rerr := l.RentalAgreement(ctx, handle); rerr == nil && now.CancelRequested {
					err = nil
				}
			}
			if err != nil {
				return CancelRentalResult{}, err
			}
		}

		receipt, err := l.CancelReservation(ctx, handle)
		run.track(ctx, receipt)
		switch {
		case errors.Is(err, models.ErrInclusionUnknown):
			cancelled, rerr := l.ReservationCanceled(ctx, handle)
			if rerr != nil || !cancelled {
				return CancelRentalResult{}, err
			}
		case errors.Is(err, models.ErrInvalidTransition):
			return CancelRentalResult{}, fmt.Errorf("%w: %v", models.ErrConflict, err)
		case err != nil:
			return CancelRentalResult{}, err
		}

		cancelled, err := l.ReservationCanceled(ctx, handle)
		if err != nil {
			return CancelRentalResult{}, err
		}
		if !cancelled {
			return CancelRentalResult{}, fmt.Errorf("%w: cancelamento não refletido no ledger", models.ErrConflict)
		}
		return result, nil
	})
}

// CompleteRental marca a inspeção e aguarda a conclusão. Conclusão não
// observável dentro das tentativas devolve models.ErrCompletionPending, que não é fatal.
func (c *Coordinator) CompleteRental(ctx context.Context, req CompleteRentalRequest) (CompleteRentalResult, error) {
	if req.rentalUUID() == "" {
		return CompleteRentalResult{}, models.Invalid("boat_uuid", "campo obrigatório")
	}
	key := models.FlowKey{UUID: req.rentalUUID(), TransactionID: req.TransactionID, Operation: models.OpCompleteRental}

	return runFlow(ctx, c, key, req, func(ctx context.Context, run *flowRun) (CompleteRentalResult, error) {
		l := run.ledger
		handle, err := c.identity.ResolveRentalHandle(ctx, req.rentalUUID())
		if err != nil {
			return CompleteRentalResult{}, err
		}
		ag, err := l.RentalAgreement(ctx, handle)
		if err != nil {
			return CompleteRentalResult{}, err
		}
		result := CompleteRentalResult{RentalID: handle, Completed: ag.Completed}
		switch ag.Stage() {
		case models.StageCancelled:
			return CompleteRentalResult{}, fmt.Errorf("%w: aluguel %d cancelado", models.ErrConflict, handle)
		case models.StageCompleted:
			return result, nil
		}

		if !ag.InspectionPassed {
			receipt, err := l.SetInspectionPassed(ctx, handle, true)
			run.track(ctx, receipt)
			if errors.Is(err, models.ErrInclusionUnknown) {
				if now, rerr := l.RentalAgreement(ctx, handle); rerr == nil && now.InspectionPassed {
					err = nil
				}
			}
			if err != nil {
				return CompleteRentalResult{}, err
			}
		}

		completed, err := c.awaitCompletion(ctx, l, handle)
		if err != nil {
			return CompleteRentalResult{}, err
		}
		result.Completed = completed
		if !completed {
			return result, fmt.Errorf("%w: aluguel %d", models.ErrCompletionPending, handle)
		}
		return result, nil
	})
}

func (c *Coordinator) awaitCompletion(ctx context.Context, l ledger.AssetLedger, handle uint64) (bool, error) {
	for attempt := 1; ; attempt++ {
		done, err := l.RentalCompleted(ctx, handle)
		if err != nil {
			return false, err
		}
		if done || attempt >= c.rental.CompletionPollAttempts {
			return done, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(c.rental.CompletionPollInterval):
		}
	}
}
