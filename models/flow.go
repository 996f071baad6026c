package models

import "time"

// FlowOperation identifica o fluxo coordenado.
type FlowOperation string

const (
	OpMint           FlowOperation = "mint"
	OpListForSale    FlowOperation = "list-for-sale"
	OpSale           FlowOperation = "sale"
	OpCreateRental   FlowOperation = "create-rental"
	OpCancelRental   FlowOperation = "cancel-rental"
	OpCompleteRental FlowOperation = "complete-rental"
	OpStatusSync     FlowOperation = "status-sync"
)

// FlowStatus é o estado de um registro de idempotência.
type FlowStatus string

const (
	FlowInProgress FlowStatus = "in_progress"
	FlowPending    FlowStatus = "pending"
	FlowCompleted  FlowStatus = "completed"
	FlowFailed     FlowStatus = "failed"
)

// FlowKey é a chave de idempotência (uuid, transactionId, operação).
type FlowKey struct {
	UUID          string
	TransactionID string
	Operation     FlowOperation
}

// FlowRecord é o registro persistido de uma execução de fluxo.
type FlowRecord struct {
	UUID          string        `db:"uuid" json:"uuid"`
	TransactionID string        `db:"transaction_id" json:"transactionId"`
	Operation     FlowOperation `db:"operation" json:"operation"`
	Status        FlowStatus    `db:"status" json:"status"`
	RequestHash   string        `db:"request_hash" json:"-"`
	Request       []byte        `db:"request" json:"-"`
	Result        []byte        `db:"result" json:"-"`
	LedgerRef     string        `db:"ledger_ref" json:"ledgerRef,omitempty"`
	LastError     string        `db:"last_error" json:"lastError,omitempty"`
	Attempts      int           `db:"attempts" json:"attempts"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
	// AttemptStartedAt marca o início da tentativa atual; renovado a cada retomada.
	AttemptStartedAt time.Time `db:"attempt_started_at" json:"attemptStartedAt"`
}

// Key devolve a chave de idempotência do registro.
func (r FlowRecord) Key() FlowKey {
	return FlowKey{UUID: r.UUID, TransactionID: r.TransactionID, Operation: r.Operation}
}
