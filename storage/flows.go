package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
)

// FlowStore persiste os registros de idempotência dos fluxos coordenados.
type FlowStore interface {
	// BeginFlow reserva a chave. replay=true quando o fluxo já foi concluído
	// e o resultado gravado deve ser devolvido sem tocar no ledger.
	BeginFlow(ctx context.Context, key models.FlowKey, requestHash string, request []byte) (rec models.FlowRecord, replay bool, err error)
	CompleteFlow(ctx context.Context, key models.FlowKey, result []byte, ledgerRef string) error
	FailFlow(ctx context.Context, key models.FlowKey, cause string) error
	MarkFlowPending(ctx context.Context, key models.FlowKey, cause string) error
	SetFlowLedgerRef(ctx context.Context, key models.FlowKey, ledgerRef string) error
	// SetFlowResult grava um resultado provisório antes da submissão, lido pelo
	// reconciliador quando o efeito não pode ser reconstruído do ledger.
	SetFlowResult(ctx context.Context, key models.FlowKey, result []byte) error
	GetFlow(ctx context.Context, key models.FlowKey) (models.FlowRecord, error)
	// ListStaleFlows devolve registros in_progress ou pending sem atualização desde olderThan.
	ListStaleFlows(ctx context.Context, olderThan time.Time, limit int) ([]models.FlowRecord, error)
	// ClaimFlow toca updated_at de um registro antigo; false se outro processo já o reivindicou.
	ClaimFlow(ctx context.Context, key models.FlowKey, olderThan time.Time) (bool, error)
}

// admit decide o que fazer com uma chave já existente.
func admit(rec models.FlowRecord, requestHash string) (replay bool, err error) {
	if rec.RequestHash != requestHash {
		return false, fmt.Errorf("%w: chave reutilizada com outra requisição", models.ErrConflict)
	}
	switch rec.Status {
	case models.FlowCompleted:
		return true, nil
	case models.FlowInProgress, models.FlowPending:
		return false, fmt.Errorf("%w: fluxo %s em andamento (%s)", models.ErrConflict, rec.Operation, rec.Status)
	}
	return false, nil
}

const flowColumns = `uuid, transaction_id, operation, status, request_hash, request, result,
	ledger_ref, last_error, attempts, created_at, updated_at, attempt_started_at`

var _ FlowStore = (*DB)(nil)

func (d *DB) BeginFlow(ctx context.Context, key models.FlowKey, requestHash string, request []byte) (models.FlowRecord, bool, error) {
	logger.DatabaseCall("BeginFlow", "flow_records", "operation", key.Operation, "uuid", key.UUID)

	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return models.FlowRecord{}, false, fmt.Errorf("falha ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	var rec models.FlowRecord
	err = tx.GetContext(ctx, &rec,
		`SELECT `+flowColumns+` FROM flow_records
		 WHERE uuid = $1 AND transaction_id = $2 AND operation = $3 FOR UPDATE`,
		key.UUID, key.TransactionID, key.Operation)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.GetContext(ctx, &rec,
			`INSERT INTO flow_records (uuid, transaction_id, operation, status, request_hash, request)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (uuid, transaction_id, operation) DO NOTHING
			 RETURNING `+flowColumns,
			key.UUID, key.TransactionID, key.Operation, models.FlowInProgress, requestHash, request)
		if errors.Is(err, sql.ErrNoRows) {
			return models.FlowRecord{}, false, fmt.Errorf("%w: chave criada concorrentemente", models.ErrConflict)
		}
		if err != nil {
			return models.FlowRecord{}, false, fmt.Errorf("falha ao inserir registro de fluxo: %w", err)
		}
	case err != nil:
		return models.FlowRecord{}, false, fmt.Errorf("falha ao buscar registro de fluxo: %w", err)
	default:
		replay, err := admit(rec, requestHash)
		if err != nil || replay {
			logger.DatabaseResult("BeginFlow", 0, err, "replay", replay)
			return rec, replay, err
		}
		err = tx.GetContext(ctx, &rec,
			`UPDATE flow_records
			 SET status = $4, attempts = attempts + 1, last_error = '', result = NULL,
			     updated_at = NOW(), attempt_started_at = NOW()
			 WHERE uuid = $1 AND transaction_id = $2 AND operation = $3
			 RETURNING `+flowColumns,
			key.UUID, key.TransactionID, key.Operation, models.FlowInProgress)
		if err != nil {
			return models.FlowRecord{}, false, fmt.Errorf("falha ao retomar registro de fluxo: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.FlowRecord{}, false, fmt.Errorf("falha ao confirmar transação: %w", err)
	}
	logger.DatabaseResult("BeginFlow", 1, nil, "attempts", rec.Attempts)
	return rec, false, nil
}

func (d *DB) CompleteFlow(ctx context.Context, key models.FlowKey, result []byte, ledgerRef string) error {
	return d.updateFlow(ctx, "CompleteFlow",
		`UPDATE flow_records
		 SET status = $4, result = $5, ledger_ref = COALESCE(NULLIF($6, ''), ledger_ref), last_error = '', updated_at = NOW()
		 WHERE uuid = $1 AND transaction_id = $2 AND operation = $3`,
		key, models.FlowCompleted, result, ledgerRef)
}

func (d *DB) FailFlow(ctx context.Context, key models.FlowKey, cause string) error {
	return d.updateFlow(ctx, "FailFlow",
		`UPDATE flow_records SET status = $4, last_error = $5, updated_at = NOW()
		 WHERE uuid = $1 AND transaction_id = $2 AND operation = $3`,
		key, models.FlowFailed, cause)
}

func (d *DB) MarkFlowPending(ctx context.Context, key models.FlowKey, cause string) error {
	return d.updateFlow(ctx, "MarkFlowPending",
		`UPDATE flow_records SET status = $4, last_error = $5, updated_at = NOW()
		 WHERE uuid = $1 AND transaction_id = $2 AND operation = $3`,
		key, models.FlowPending, cause)
}

func (d *DB) SetFlowLedgerRef(ctx context.Context, key models.FlowKey, ledgerRef string) error {
	return d.updateFlow(ctx, "SetFlowLedgerRef",
		`UPDATE flow_records SET ledger_ref = $4, updated_at = NOW()
		 WHERE uuid = $1 AND transaction_id = $2 AND operation = $3`,
		key, ledgerRef)
}

func (d *DB) SetFlowResult(ctx context.Context, key models.FlowKey, result []byte) error {
	return d.updateFlow(ctx, "SetFlowResult",
		`UPDATE flow_records SET result = $4, updated_at = NOW()
		 WHERE uuid = $1 AND transaction_id = $2 AND operation = $3`,
		key, result)
}

func (d *DB) updateFlow(ctx context.Context, op, query string, key models.FlowKey, args ...any) error {
	logger.DatabaseCall(op, "flow_records", "operation", key.Operation, "uuid", key.UUID)
	params := append([]any{key.UUID, key.TransactionID, key.Operation}, args...)
	res, err := d.ExecContext(ctx, query, params...)
	if err != nil {
		logger.DatabaseResult(op, 0, err)
		return fmt.Errorf("falha ao atualizar registro de fluxo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("falha ao ler linhas afetadas: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: registro de fluxo %s/%s/%s", models.ErrNotFound, key.Operation, key.UUID, key.TransactionID)
	}
	logger.DatabaseResult(op, n, nil)
	return nil
}

func (d *DB) GetFlow(ctx context.Context, key models.FlowKey) (models.FlowRecord, error) {
	var rec models.FlowRecord
	err := d.GetContext(ctx, &rec,
		`SELECT `+flowColumns+` FROM flow_records
		 WHERE uuid = $1 AND transaction_id = $2 AND operation = $3`,
		key.UUID, key.TransactionID, key.Operation)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FlowRecord{}, fmt.Errorf("%w: registro de fluxo", models.ErrNotFound)
	}
	if err != nil {
		return models.FlowRecord{}, fmt.Errorf("falha ao buscar registro de fluxo: %w", err)
	}
	return rec, nil
}

func (d *DB) ListStaleFlows(ctx context.Context, olderThan time.Time, limit int) ([]models.FlowRecord, error) {
	logger.DatabaseCall("ListStaleFlows", "flow_records", "older_than", olderThan, "limit", limit)
	var recs []models.FlowRecord
	err := d.SelectContext(ctx, &recs,
		`SELECT `+flowColumns+` FROM flow_records
		 WHERE status IN ($1, $2) AND updated_at < $3
		 ORDER BY updated_at
		 LIMIT $4`,
		models.FlowInProgress, models.FlowPending, olderThan, limit)
	logger.DatabaseResult("ListStaleFlows", int64(len(recs)), err)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar registros pendentes: %w", err)
	}
	return recs, nil
}

func (d *DB) ClaimFlow(ctx context.Context, key models.FlowKey, olderThan time.Time) (bool, error) {
	res, err := d.ExecContext(ctx,
		`UPDATE flow_records SET updated_at = NOW()
		 WHERE uuid = $1 AND transaction_id = $2 AND operation = $3
		   AND status IN ($4, $5) AND updated_at < $6`,
		key.UUID, key.TransactionID, key.Operation, models.FlowInProgress, models.FlowPending, olderThan)
	if err != nil {
		return false, fmt.Errorf("falha ao reivindicar registro de fluxo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("falha ao ler linhas afetadas: %w", err)
	}
	return n == 1, nil
}
