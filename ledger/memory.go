package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
)

// Fault é uma falha injetada na próxima chamada de uma operação do MemoryLedger.
// Com Applied a transação é aplicada antes de devolver Err, simulando um
// timeout após a inclusão.
type Fault struct {
	Err     error
	Applied bool
}

// MemoryLedger simula os contratos de barcos, aluguéis e token de pagamento em
// memória. Usado pelo driver "memory" e pelos testes.
type MemoryLedger struct {
	mu sync.Mutex

	signer string

	boats        map[uint64]*models.Asset
	boatByUUID   map[string]uint64
	terms        map[uint64]models.RentalTerms
	rentals      map[uint64]*models.RentalAgreement
	rentalByUUID map[string]uint64
	escrow       map[uint64]uint64
	delegated    map[string]bool

	balances   map[string]uint64
	allowances map[string]uint64

	nextBoat   uint64
	nextRental uint64
	seq        uint64

	deferCompletion bool
	faults          map[string][]Fault
	holds           map[string]hold
	calls           map[string]int
}

type hold struct {
	reached chan struct{}
	resume  chan struct{}
}

// NewMemoryLedger cria um ledger vazio cujo signatário é signer.
func NewMemoryLedger(signer string) *MemoryLedger {
	return &MemoryLedger{
		signer:       signer,
		boats:        make(map[uint64]*models.Asset),
		boatByUUID:   make(map[string]uint64),
		terms:        make(map[uint64]models.RentalTerms),
		rentals:      make(map[uint64]*models.RentalAgreement),
		rentalByUUID: make(map[string]uint64),
		escrow:       make(map[uint64]uint64),
		delegated:    make(map[string]bool),
		balances:     make(map[string]uint64),
		allowances:   make(map[string]uint64),
		faults:       make(map[string][]Fault),
		holds:        make(map[string]hold),
		calls:        make(map[string]int),
	}
}

// Fund credita tokens de pagamento em account.
func (m *MemoryLedger) Fund(account string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
}

// Approve define a allowance de account para os contratos.
func (m *MemoryLedger) Approve(account string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[account] = amount
}

// DeferCompletion faz rentalCompleted continuar falso após a inspeção até SettleRental.
func (m *MemoryLedger) DeferCompletion(deferred bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferCompletion = deferred
}

// SettleRental conclui um aluguel inspecionado e libera o escrow ao dono.
func (m *MemoryLedger) SettleRental(rentalHandle uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rentals[rentalHandle]; ok && r.InspectionPassed && !r.Terminal() {
		m.complete(r)
	}
}

// InjectFault enfileira uma falha para a próxima chamada de op.
func (m *MemoryLedger) InjectFault(op string, f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], f)
}

// Hold segura a próxima chamada de op antes de aplicá-la. reached fecha quando
// a chamada chega; resume a libera.
func (m *MemoryLedger) Hold(op string) (reached <-chan struct{}, resume func()) {
	h := hold{reached: make(chan struct{}), resume: make(chan struct{})}
	m.mu.Lock()
	m.holds[op] = h
	m.mu.Unlock()
	var once sync.Once
	return h.reached, func() { once.Do(func() { close(h.resume) }) }
}

// Calls devolve quantas vezes op foi chamada.
func (m *MemoryLedger) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Allowance devolve a allowance restante de account.
func (m *MemoryLedger) Allowance(account string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[account]
}

// Escrow devolve o saldo retido de um aluguel.
func (m *MemoryLedger) Escrow(rentalHandle uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escrow[rentalHandle]
}

// mutate executa apply sob lock aplicando falhas injetadas.
func (m *MemoryLedger) mutate(ctx context.Context, op string, apply func() error) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	h, held := m.holds[op]
	delete(m.holds, op)
	m.mu.Unlock()
	if held {
		close(h.reached)
		select {
		case <-h.resume:
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[op]++
	m.seq++
	ref := fmt.Sprintf("mem-%s-%d", op, m.seq)

	if queue := m.faults[op]; len(queue) > 0 {
		f := queue[0]
		m.faults[op] = queue[1:]
		if f.Applied {
			if err := apply(); err != nil {
				return Receipt{}, err
			}
		}
		return Receipt{Reference: ref}, f.Err
	}
	if err := apply(); err != nil {
		return Receipt{}, err
	}
	return Receipt{Reference: ref}, nil
}

func (m *MemoryLedger) boat(handle uint64) (*models.Asset, error) {
	b, ok := m.boats[handle]
	if !ok {
		return nil, fmt.Errorf("barco %d: %w", handle, models.ErrNotFound)
	}
	return b, nil
}

func (m *MemoryLedger) rental(handle uint64) (*models.RentalAgreement, error) {
	r, ok := m.rentals[handle]
	if !ok {
		return nil, fmt.Errorf("aluguel %d: %w", handle, models.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryLedger) canOperate(owner string) bool {
	return owner == m.signer || m.delegated[owner]
}

func (m *MemoryLedger) Mint(ctx context.Context, t models.MintTerms) (Receipt, error) {
	return m.mutate(ctx, "mint", func() error {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, ok := m.boatByUUID[t.UUID]; ok {
			return models.ErrAlreadyMinted
		}
		owner := t.Owner
		if owner == "" {
			owner = m.signer
		}
		m.nextBoat++
		a := &models.Asset{
			UUID:            t.UUID,
			Handle:          m.nextBoat,
			Owner:           owner,
			ListingMode:     t.ListingMode,
			SellPrice:       t.SellPrice,
			HourlyRate:      t.HourlyRate,
			DailyRate:       t.DailyRate,
			RefundPeriod:    t.RefundPeriod,
			ClosedPeriod:    t.ClosedPeriod,
			SecurityDeposit: t.SecurityDeposit,
			MetadataURL:     t.MetadataURL,
		}
		m.boats[a.Handle] = a
		m.boatByUUID[t.UUID] = a.Handle
		m.delegated[owner] = true
		m.terms[a.Handle] = models.RentalTerms{
			HourlyRate:          t.HourlyRate,
			DailyRate:           t.DailyRate,
			ClosedPeriod:        t.ClosedPeriod,
			RefundabilityPeriod: t.RefundPeriod,
			SecurityDeposit:     t.SecurityDeposit,
		}
		return nil
	})
}

func (m *MemoryLedger) SetRentalTerms(ctx context.Context, handle uint64, t models.RentalTerms) (Receipt, error) {
	return m.mutate(ctx, "setRentalTerms", func() error {
		b, err := m.boat(handle)
		if err != nil {
			return err
		}
		if !m.canOperate(b.Owner) {
			return models.ErrNotOwner
		}
		if err := t.Validate(); err != nil {
			return err
		}
		m.terms[handle] = t
		b.HourlyRate, b.DailyRate, b.SecurityDeposit = t.HourlyRate, t.DailyRate, t.SecurityDeposit
		b.RefundPeriod, b.ClosedPeriod = t.RefundabilityPeriod, t.ClosedPeriod
		return nil
	})
}

func (m *MemoryLedger) ListForSale(ctx context.Context, handle, price uint64) (Receipt, error) {
	return m.mutate(ctx, "listForSale", func() error {
		b, err := m.boat(handle)
		if err != nil {
			return err
		}
		if !m.canOperate(b.Owner) {
			return models.ErrNotOwner
		}
		b.AskingPrice = price
		b.SellPrice = price
		if price > 0 {
			b.ListingMode = models.ListingForSale
		}
		return nil
	})
}

func (m *MemoryLedger) ExecuteSale(ctx context.Context, handle uint64, buyer string) (SaleResult, error) {
	if buyer == "" {
		buyer = m.signer
	}
	var res SaleResult
	rec, err := m.mutate(ctx, "executeSale", func() error {
		b, err := m.boat(handle)
		if err != nil {
			return err
		}
		price := b.AskingPrice
		if price == 0 {
			return models.ErrNoActiveListing
		}
		if m.balances[buyer] < price {
			return models.ErrInsufficientFunds
		}
		if m.allowances[buyer] < price {
			return models.ErrAllowanceInsufficient
		}
		m.balances[buyer] -= price
		m.allowances[buyer] -= price
		m.balances[b.Owner] += price

		res = SaleResult{NewOwner: buyer, Seller: b.Owner, Amount: price}
		b.Owner = buyer
		b.AskingPrice = 0
		b.SellPrice = 0
		b.ListingMode = models.ListingUnlisted
		return nil
	})
	res.Receipt = rec
	return res, err
}

func (m *MemoryLedger) CreateRentalAgreement(ctx context.Context, p RentalParams) (Receipt, error) {
	return m.mutate(ctx, "createRentalAgreement", func() error {
		if _, err := m.boat(p.AssetHandle); err != nil {
			return err
		}
		if _, ok := m.rentalByUUID[p.UUID]; ok {
			return models.ErrAlreadyMinted
		}
		if m.allowances[p.Renter] < p.DepositAmount {
			return models.ErrAllowanceInsufficient
		}
		if m.balances[p.Renter] < p.DepositAmount {
			return models.ErrInsufficientFunds
		}
		m.nextRental++
		r := &models.RentalAgreement{
			Handle:          m.nextRental,
			AssetHandle:     p.AssetHandle,
			UUID:            p.UUID,
			Renter:          p.Renter,
			DepositAmount:   p.DepositAmount,
			SecurityDeposit: p.SecurityDeposit,
			CheckIn:         p.CheckIn,
			CheckOut:        p.CheckOut,
		}
		m.balances[p.Renter] -= p.DepositAmount
		m.allowances[p.Renter] -= p.DepositAmount
		m.escrow[r.Handle] = p.DepositAmount
		m.rentals[r.Handle] = r
		m.rentalByUUID[p.UUID] = r.Handle
		return nil
	})
}

func (m *MemoryLedger) RequestCancelReservation(ctx context.Context, rentalHandle uint64) (Receipt, error) {
	return m.mutate(ctx, "requestCancelReservation", func() error {
		r, err := m.rental(rentalHandle)
		if err != nil {
			return err
		}
		if r.Terminal() {
			return models.ErrInvalidTransition
		}
		r.CancelRequested = true
		return nil
	})
}

func (m *MemoryLedger) CancelReservation(ctx context.Context, rentalHandle uint64) (Receipt, error) {
	return m.mutate(ctx, "cancelReservation", func() error {
		r, err := m.rental(rentalHandle)
		if err != nil {
			return err
		}
		if r.Terminal() {
			return models.ErrInvalidTransition
		}
		if !r.CancelRequested {
			return models.ErrNotRequested
		}
		m.balances[r.Renter] += m.escrow[rentalHandle]
		m.escrow[rentalHandle] = 0
		r.Cancelled = true
		return nil
	})
}

func (m *MemoryLedger) SetInspectionPassed(ctx context.Context, rentalHandle uint64, passed bool) (Receipt, error) {
	return m.mutate(ctx, "setInspectionPassed", func() error {
		r, err := m.rental(rentalHandle)
		if err != nil {
			return err
		}
		if r.Terminal() {
			return models.ErrInvalidTransition
		}
		r.InspectionPassed = passed
		if passed && !m.deferCompletion {
			m.complete(r)
		}
		return nil
	})
}

func (m *MemoryLedger) complete(r *models.RentalAgreement) {
	owner := m.signer
	if b, ok := m.boats[r.AssetHandle]; ok {
		owner = b.Owner
	}
	m.balances[owner] += m.escrow[r.Handle]
	m.escrow[r.Handle] = 0
	r.Completed = true
}

// read conta a chamada e executa f sob lock.
func (m *MemoryLedger) read(ctx context.Context, op string, f func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if queue := m.faults[op]; len(queue) > 0 {
		fault := queue[0]
		m.faults[op] = queue[1:]
		return fault.Err
	}
	return f()
}

func (m *MemoryLedger) AskingPrice(ctx context.Context, handle uint64) (uint64, error) {
	var price uint64
	err := m.read(ctx, "getAskingPrice", func() error {
		b, err := m.boat(handle)
		if err != nil {
			return err
		}
		price = b.AskingPrice
		return nil
	})
	return price, err
}

func (m *MemoryLedger) Asset(ctx context.Context, handle uint64) (models.Asset, error) {
	var a models.Asset
	err := m.read(ctx, "asset", func() error {
		b, err := m.boat(handle)
		if err != nil {
			return err
		}
		a = *b
		return nil
	})
	return a, err
}

func (m *MemoryLedger) RentalTerms(ctx context.Context, handle uint64) (models.RentalTerms, error) {
	var t models.RentalTerms
	err := m.read(ctx, "terms", func() error {
		if _, err := m.boat(handle); err != nil {
			return err
		}
		t = m.terms[handle]
		return nil
	})
	return t, err
}

func (m *MemoryLedger) RentalAgreement(ctx context.Context, rentalHandle uint64) (models.RentalAgreement, error) {
	var out models.RentalAgreement
	err := m.read(ctx, "rentalAgreement", func() error {
		r, err := m.rental(rentalHandle)
		if err != nil {
			return err
		}
		out = *r
		return nil
	})
	return out, err
}

func (m *MemoryLedger) ReservationCanceled(ctx context.Context, rentalHandle uint64) (bool, error) {
	var cancelled bool
	err := m.read(ctx, "reservationCanceled", func() error {
		r, err := m.rental(rentalHandle)
		if err != nil {
			return err
		}
		cancelled = r.Cancelled
		return nil
	})
	return cancelled, err
}

func (m *MemoryLedger) RentalCompleted(ctx context.Context, rentalHandle uint64) (bool, error) {
	var completed bool
	err := m.read(ctx, "rentalCompleted", func() error {
		r, err := m.rental(rentalHandle)
		if err != nil {
			return err
		}
		completed = r.Completed
		return nil
	})
	return completed, err
}

func (m *MemoryLedger) AssetHandleByUUID(ctx context.Context, uuid string) (uint64, error) {
	var handle uint64
	err := m.read(ctx, "fromUuid", func() error {
		h, ok := m.boatByUUID[uuid]
		if !ok {
			return fmt.Errorf("barco %q: %w", uuid, models.ErrNotFound)
		}
		handle = h
		return nil
	})
	return handle, err
}

func (m *MemoryLedger) RentalHandleByUUID(ctx context.Context, uuid string) (uint64, error) {
	var handle uint64
	err := m.read(ctx, "rentalFromUuid", func() error {
		h, ok := m.rentalByUUID[uuid]
		if !ok {
			return fmt.Errorf("aluguel %q: %w", uuid, models.ErrNotFound)
		}
		handle = h
		return nil
	})
	return handle, err
}

func (m *MemoryLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	var bal uint64
	err := m.read(ctx, "balanceOf", func() error {
		bal = m.balances[account]
		return nil
	})
	return bal, err
}

func (m *MemoryLedger) Connection() Connection {
	return Connection{Network: "memory", Endpoint: "in-process", Signer: m.signer}
}

func (m *MemoryLedger) Close() error { return nil }
