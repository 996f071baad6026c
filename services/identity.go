package services

import (
	"context"
	"errors"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/ledger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"

	"github.com/cenkalti/backoff/v4"
)

const resolveAttempts = 3

// IdentityResolver traduz uuids externos em handles do ledger e vice-versa.
// Somente leituras; falhas transitórias são repetidas com backoff limitado.
type IdentityResolver struct {
	ledgers  *ledger.Holder
	interval time.Duration
}

func NewIdentityResolver(ledgers *ledger.Holder) *IdentityResolver {
	return &IdentityResolver{ledgers: ledgers, interval: 100 * time.Millisecond}
}

// ResolveAssetHandle devolve o handle do barco ou models.ErrNotFound.
func (r *IdentityResolver) ResolveAssetHandle(ctx context.Context, uuid string) (uint64, error) {
	var handle uint64
	err := r.retry(ctx, func(l ledger.AssetLedger) (err error) {
		handle, err = l.AssetHandleByUUID(ctx, uuid)
		return err
	})
	if err == nil && handle == 0 {
		return 0, models.ErrNotFound
	}
	return handle, err
}

// ResolveRentalHandle devolve o handle do contrato de aluguel ou models.ErrNotFound.
func (r *IdentityResolver) ResolveRentalHandle(ctx context.Context, uuid string) (uint64, error) {
	var handle uint64
	err := r.retry(ctx, func(l ledger.AssetLedger) (err error) {
		handle, err = l.RentalHandleByUUID(ctx, uuid)
		return err
	})
	if err == nil && handle == 0 {
		return 0, models.ErrNotFound
	}
	return handle, err
}

func (r *IdentityResolver) AssetUUID(ctx context.Context, handle uint64) (string, error) {
	var a models.Asset
	err := r.retry(ctx, func(l ledger.AssetLedger) (err error) {
		a, err = l.Asset(ctx, handle)
		return err
	})
	return a.UUID, err
}

func (r *IdentityResolver) RentalUUID(ctx context.Context, handle uint64) (string, error) {
	var ag models.RentalAgreement
	err := r.retry(ctx, func(l ledger.AssetLedger) (err error) {
		ag, err = l.RentalAgreement(ctx, handle)
		return err
	})
	return ag.UUID, err
}

// retry repete read sobre a conexão vigente, fixada durante cada tentativa.
func (r *IdentityResolver) retry(ctx context.Context, read func(ledger.AssetLedger) error) error {
	op := func() error {
		l, release := r.ledgers.Acquire()
		err := read(l)
		release()
		if err != nil && !transientRead(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.interval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, resolveAttempts-1), ctx))
}

// transientRead indica se uma leitura falhou por motivo passageiro.
func transientRead(err error) bool {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrLedgerRejected),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
