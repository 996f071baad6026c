package models

import (
	"errors"
	"fmt"
)

// Erros de domínio compartilhados entre ledger, marketplace, serviços e handlers.
var (
	ErrNotFound               = errors.New("uuid não encontrado no ledger")
	ErrConflict               = errors.New("estado alterado concorrentemente")
	ErrValidation             = errors.New("requisição inválida")
	ErrLedgerRejected         = errors.New("ledger rejeitou a transação")
	ErrInclusionUnknown       = errors.New("inclusão da transação no ledger desconhecida")
	ErrCompletionPending      = errors.New("conclusão do aluguel ainda não observável")
	ErrMarketplaceUnavailable = errors.New("marketplace indisponível")
)

// ledgerRejection é uma falha de pré-condição on-chain. Todas as instâncias
// satisfazem errors.Is(err, ErrLedgerRejected).
type ledgerRejection struct {
	kind string
}

func (e *ledgerRejection) Error() string { return e.kind }

func (e *ledgerRejection) Is(target error) bool { return target == ErrLedgerRejected }

// Tipos de rejeição do ledger.
var (
	ErrPriceExclusivity      error = &ledgerRejection{"mais de um preço ativo para o modo de listagem"}
	ErrAlreadyMinted         error = &ledgerRejection{"uuid já cunhado"}
	ErrNotOwner              error = &ledgerRejection{"chamador não é o dono do ativo"}
	ErrNoActiveListing       error = &ledgerRejection{"ativo sem anúncio de venda ativo"}
	ErrInsufficientFunds     error = &ledgerRejection{"saldo insuficiente"}
	ErrAllowanceInsufficient error = &ledgerRejection{"allowance insuficiente para o depósito"}
	ErrNotRequested          error = &ledgerRejection{"cancelamento não solicitado"}
	ErrInvalidTransition     error = &ledgerRejection{"transição de estado inválida"}
)

// ValidationError descreve um campo ausente ou malformado na requisição.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid cria um ValidationError para o campo informado.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MarketplaceRejectedError é uma resposta 4xx do motor de transações.
type MarketplaceRejectedError struct {
	TransactionID string
	Status        int
	Reason        string
}

func (e *MarketplaceRejectedError) Error() string {
	return fmt.Sprintf("marketplace rejeitou a transação %s (status %d): %s", e.TransactionID, e.Status, e.Reason)
}

// InclusionUnknown anexa a referência da transação submetida ao erro de timeout.
func InclusionUnknown(reference string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrInclusionUnknown, reference)
	}
	return fmt.Errorf("%w: %s: %v", ErrInclusionUnknown, reference, cause)
}
