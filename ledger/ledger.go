package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
)

// Receipt identifica a transação incluída no ledger (assinatura ou tx id).
type Receipt struct {
	Reference string `json:"reference"`
}

// SaleResult é o efeito de uma venda executada.
type SaleResult struct {
	Receipt
	NewOwner string `json:"newOwner"`
	Seller   string `json:"seller"`
	Amount   uint64 `json:"amount"`
}

// RentalParams são os argumentos de createRentalAgreement.
type RentalParams struct {
	AssetHandle     uint64
	Renter          string
	DepositAmount   uint64
	SecurityDeposit uint64
	CheckIn         time.Time
	CheckOut        time.Time
	UUID            string
}

// AssetLedger é o cliente do ledger de ativos. Cada operação mutável é uma
// transação aguardada até a inclusão; um timeout após a submissão devolve
// models.ErrInclusionUnknown e nunca deve ser lido como falha.
type AssetLedger interface {
	Mint(ctx context.Context, terms models.MintTerms) (Receipt, error)
	SetRentalTerms(ctx context.Context, handle uint64, terms models.RentalTerms) (Receipt, error)
	ListForSale(ctx context.Context, handle, price uint64) (Receipt, error)
	// ExecuteSale compra o ativo em nome de buyer; vazio usa o signatário da conexão.
	ExecuteSale(ctx context.Context, handle uint64, buyer string) (SaleResult, error)
	CreateRentalAgreement(ctx context.Context, p RentalParams) (Receipt, error)
	RequestCancelReservation(ctx context.Context, rentalHandle uint64) (Receipt, error)
	CancelReservation(ctx context.Context, rentalHandle uint64) (Receipt, error)
	SetInspectionPassed(ctx context.Context, rentalHandle uint64, passed bool) (Receipt, error)

	AskingPrice(ctx context.Context, handle uint64) (uint64, error)
	Asset(ctx context.Context, handle uint64) (models.Asset, error)
	RentalTerms(ctx context.Context, handle uint64) (models.RentalTerms, error)
	RentalAgreement(ctx context.Context, rentalHandle uint64) (models.RentalAgreement, error)
	ReservationCanceled(ctx context.Context, rentalHandle uint64) (bool, error)
	RentalCompleted(ctx context.Context, rentalHandle uint64) (bool, error)
	// AssetHandleByUUID e RentalHandleByUUID devolvem models.ErrNotFound para uuids desconhecidos.
	AssetHandleByUUID(ctx context.Context, uuid string) (uint64, error)
	RentalHandleByUUID(ctx context.Context, uuid string) (uint64, error)
	BalanceOf(ctx context.Context, account string) (uint64, error)

	Connection() Connection
	Close() error
}

// Connection descreve a sessão com o ledger. É imutável: uma troca de rede ou
// de signatário cria uma nova conexão via Holder.Reconnect.
type Connection struct {
	Network  string
	Endpoint string
	Signer   string
}

func (c Connection) String() string {
	return fmt.Sprintf("%s(%s) signer=%s", c.Network, c.Endpoint, c.Signer)
}

// Dialer abre uma nova conexão com o ledger.
type Dialer func(ctx context.Context) (AssetLedger, error)

// Holder entrega a conexão atual a cada fluxo e a substitui atomicamente.
type Holder struct {
	dial    Dialer
	current atomic.Pointer[ledgerRef]
}

// ledgerRef conta os fluxos que usam a conexão. Uma conexão substituída só é
// fechada quando o último deles a libera.
type ledgerRef struct {
	AssetLedger

	mu      sync.Mutex
	users   int
	retired bool
}

func (r *ledgerRef) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return false
	}
	r.users++
	return true
}

func (r *ledgerRef) release() {
	r.mu.Lock()
	r.users--
	last := r.retired && r.users == 0
	r.mu.Unlock()
	if last {
		if err := r.Close(); err != nil {
			logger.Warn("Falha ao fechar conexão substituída do ledger", "error", err)
		}
	}
}

func (r *ledgerRef) retire() error {
	r.mu.Lock()
	r.retired = true
	idle := r.users == 0
	r.mu.Unlock()
	if idle {
		return r.Close()
	}
	return nil
}

// NewHolder abre a primeira conexão.
func NewHolder(ctx context.Context, dial Dialer) (*Holder, error) {
	h := &Holder{dial: dial}
	l, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	h.current.Store(&ledgerRef{AssetLedger: l})
	return h, nil
}

// Static embrulha um ledger já aberto. Reconnect devolve sempre a mesma instância.
func Static(l AssetLedger) *Holder {
	h := &Holder{dial: func(context.Context) (AssetLedger, error) { return l, nil }}
	h.current.Store(&ledgerRef{AssetLedger: l})
	return h
}

// Current devolve a conexão vigente para leituras curtas. Fluxos que submetem
// transações usam Acquire.
func (h *Holder) Current() AssetLedger {
	return h.current.Load().AssetLedger
}

// Acquire fixa a conexão vigente até release ser chamado; um Reconnect no
// meio do caminho não a fecha antes disso.
func (h *Holder) Acquire() (l AssetLedger, release func()) {
	for {
		ref := h.current.Load()
		if ref.acquire() {
			var once sync.Once
			return ref.AssetLedger, func() { once.Do(ref.release) }
		}
	}
}

// Reconnect abre uma conexão nova e troca a vigente. A anterior é fechada
// assim que não houver fluxo usando-a.
func (h *Holder) Reconnect(ctx context.Context) error {
	l, err := h.dial(ctx)
	if err != nil {
		return fmt.Errorf("falha ao reconectar ao ledger: %w", err)
	}
	old := h.current.Swap(&ledgerRef{AssetLedger: l})
	logger.Info("Conexão com o ledger substituída", "connection", l.Connection().String())
	if old != nil && old.AssetLedger != l {
		return old.retire()
	}
	return nil
}

// Close fecha a conexão vigente.
func (h *Holder) Close() error {
	return h.Current().Close()
}

// Open escolhe o driver configurado.
func Open(ctx context.Context, cfg config.LedgerConfig) (AssetLedger, error) {
	switch cfg.Driver {
	case "solana":
		return NewSolanaLedger(cfg.Solana, cfg.CallTimeout)
	case "fabric":
		return NewFabricLedger(cfg.Fabric, cfg.CallTimeout)
	case "memory":
		return NewMemoryLedger("platform"), nil
	}
	return nil, fmt.Errorf("driver de ledger desconhecido: %s", cfg.Driver)
}
