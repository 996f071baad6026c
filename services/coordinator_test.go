package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/ledger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMarketplace struct {
	mock.Mock
}

func (m *MockMarketplace) Show(ctx context.Context, id string) (models.MarketplaceTransaction, error) {
	args := m.Called(id)
	return args.Get(0).(models.MarketplaceTransaction), args.Error(1)
}

func (m *MockMarketplace) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) (models.MarketplaceTransaction, error) {
	args := m.Called(id, metadata)
	return args.Get(0).(models.MarketplaceTransaction), args.Error(1)
}

type fixture struct {
	coord  *Coordinator
	ledger *ledger.MemoryLedger
	flows  *storage.MemoryFlowStore
	mp     *MockMarketplace
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ml := ledger.NewMemoryLedger("platform")
	flows := storage.NewMemoryFlowStore()
	mp := new(MockMarketplace)
	c := NewCoordinator(ledger.Static(ml), flows, mp, config.RentalConfig{
		CompletionPollAttempts: 2,
		CompletionPollInterval: time.Millisecond,
	})
	c.identity.interval = time.Millisecond
	return fixture{coord: c, ledger: ml, flows: flows, mp: mp}
}

func (f fixture) listBoat(t *testing.T, uuid string, price uint64) uint64 {
	t.Helper()
	res, err := f.coord.Mint(context.Background(), MintRequest{
		TransactionID: "mint-" + uuid,
		Terms:         models.MintTerms{UUID: uuid, Owner: "seller", MetadataURL: "ipfs://boat", ListingMode: models.ListingForSale},
	})
	require.NoError(t, err)
	_, err = f.coord.ListForSale(context.Background(), ListForSaleRequest{TransactionID: "list-" + uuid, TokenID: res.TokenID, SellPrice: price})
	require.NoError(t, err)
	return res.TokenID
}

func (f fixture) hourlyBoat(t *testing.T, uuid string, rate, deposit uint64) uint64 {
	t.Helper()
	res, err := f.coord.Mint(context.Background(), MintRequest{
		TransactionID: "mint-" + uuid,
		Terms: models.MintTerms{
			UUID: uuid, Owner: "owner", MetadataURL: "ipfs://boat",
			ListingMode: models.ListingHourly, HourlyRate: rate, SecurityDeposit: deposit,
		},
	})
	require.NoError(t, err)
	return res.TokenID
}

var checkIn = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func (f fixture) rent(t *testing.T, boatUUID, rentalUUID string, d time.Duration) CreateRentalResult {
	t.Helper()
	res, err := f.coord.CreateRental(context.Background(), CreateRentalRequest{
		TransactionID: "rent-" + rentalUUID,
		Rental: models.RentalRequest{
			AssetUUID: boatUUID, RentalUUID: rentalUUID, Renter: "renter",
			CheckIn: checkIn, CheckOut: checkIn.Add(d),
		},
	})
	require.NoError(t, err)
	return res
}

func TestSale_MovesExactFundsAndClearsPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handle := f.listBoat(t, "sale-boat-uuid", 1000)
	f.ledger.Fund("buyer", 5000)
	f.ledger.Approve("buyer", 1000)

	res, err := f.coord.Sale(ctx, SaleRequest{TransactionID: "tx-1", AssetUUID: "sale-boat-uuid", Buyer: "buyer"})
	require.NoError(t, err)
	assert.Equal(t, "buyer", res.NewOwner)
	assert.Equal(t, uint64(1000), res.FinalPrice)

	seller, _ := f.ledger.BalanceOf(ctx, "seller")
	buyer, _ := f.ledger.BalanceOf(ctx, "buyer")
	assert.Equal(t, uint64(1000), seller)
	assert.Equal(t, uint64(4000), buyer)

	price, _ := f.ledger.AskingPrice(ctx, handle)
	assert.Zero(t, price)
	boat, _ := f.ledger.Asset(ctx, handle)
	assert.Equal(t, "buyer", boat.Owner)
	f.mp.AssertNotCalled(t, "UpdateMetadata", mock.Anything, mock.Anything)
}

func TestSale_ReplayDoesNotSellTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.listBoat(t, "sale-boat-uuid", 1000)
	f.ledger.Fund("buyer", 5000)
	f.ledger.Approve("buyer", 5000)

	req := SaleRequest{TransactionID: "tx-1", AssetUUID: "sale-boat-uuid", Buyer: "buyer"}
	first, err := f.coord.Sale(ctx, req)
	require.NoError(t, err)
	second, err := f.coord.Sale(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.ledger.Calls("executeSale"))
	buyer, _ := f.ledger.BalanceOf(ctx, "buyer")
	assert.Equal(t, uint64(4000), buyer)
}

func TestSale_ConcurrentSameKeyConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.listBoat(t, "sale-boat-uuid", 1000)
	f.ledger.Fund("buyer", 5000)
	f.ledger.Approve("buyer", 5000)

	reached, resume := f.ledger.Hold("executeSale")
	defer resume()

	req := SaleRequest{TransactionID: "tx-1", AssetUUID: "sale-boat-uuid", Buyer: "buyer"}
	type outcome struct {
		res SaleResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := f.coord.Sale(ctx, req)
		first <- outcome{res, err}
	}()

	select {
	case <-reached:
	case <-time.After(time.Second):
		t.Fatal("primeira venda não chegou ao ledger")
	}

	_, err := f.coord.Sale(ctx, req)
	assert.ErrorIs(t, err, models.ErrConflict, "chave em andamento")

	resume()
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, uint64(1000), got.res.FinalPrice)

	replayed, err := f.coord.Sale(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, got.res, replayed)
	assert.Equal(t, 1, f.ledger.Calls("executeSale"))
}

func TestSale_ConcurrentKeysSellOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.listBoat(t, "sale-boat-uuid", 1000)
	f.ledger.Fund("buyer", 5000)
	f.ledger.Approve("buyer", 5000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tx := range []string{"tx-a", "tx-b"} {
		wg.Add(1)
		go func(i int, tx string) {
			defer wg.Done()
			_, errs[i] = f.coord.Sale(ctx, SaleRequest{TransactionID: tx, AssetUUID: "sale-boat-uuid", Buyer: "buyer"})
		}(i, tx)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNoActiveListing), err)
	}
	assert.Equal(t, 1, succeeded)

	seller, _ := f.ledger.BalanceOf(ctx, "seller")
	buyer, _ := f.ledger.BalanceOf(ctx, "buyer")
	assert.Equal(t, uint64(1000), seller)
	assert.Equal(t, uint64(4000), buyer)
}

func TestSale_WithoutListingFailsBeforeSubmission(t *testing.T) {
	f := newFixture(t)
	f.listBoat(t, "boat", 0)

	_, err := f.coord.Sale(context.Background(), SaleRequest{TransactionID: "tx-1", AssetUUID: "boat", Buyer: "buyer"})
	assert.ErrorIs(t, err, models.ErrNoActiveListing)
	assert.Zero(t, f.ledger.Calls("executeSale"))

	rec, err := f.flows.GetFlow(context.Background(), models.FlowKey{UUID: "boat", TransactionID: "tx-1", Operation: models.OpSale})
	require.NoError(t, err)
	assert.Equal(t, models.FlowFailed, rec.Status)
}

func TestSale_UnknownUUIDAndPriceChange(t *testing.T) {
	f := newFixture(t)
	f.listBoat(t, "boat", 1000)

	_, err := f.coord.Sale(context.Background(), SaleRequest{TransactionID: "tx-1", AssetUUID: "ghost"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.coord.Sale(context.Background(), SaleRequest{TransactionID: "tx-2", AssetUUID: "boat", ExpectedPrice: 900})
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Zero(t, f.ledger.Calls("executeSale"))
}

func TestSale_TimeoutRechecksLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.listBoat(t, "landed", 100)
	f.listBoat(t, "lost", 100)
	f.ledger.Fund("buyer", 1000)
	f.ledger.Approve("buyer", 1000)

	f.ledger.InjectFault("executeSale", ledger.Fault{Err: models.InclusionUnknown("sig-a", nil), Applied: true})
	res, err := f.coord.Sale(ctx, SaleRequest{TransactionID: "tx-1", AssetUUID: "landed", Buyer: "buyer"})
	require.NoError(t, err, "venda aplicada é confirmada pela releitura")
	assert.Equal(t, "buyer", res.NewOwner)
	assert.Equal(t, uint64(100), res.FinalPrice)

	f.ledger.InjectFault("executeSale", ledger.Fault{Err: models.InclusionUnknown("sig-b", nil)})
	req := SaleRequest{TransactionID: "tx-2", AssetUUID: "lost", Buyer: "buyer"}
	_, err = f.coord.Sale(ctx, req)
	assert.ErrorIs(t, err, models.ErrInclusionUnknown)

	rec, err := f.flows.GetFlow(ctx, models.FlowKey{UUID: "lost", TransactionID: "tx-2", Operation: models.OpSale})
	require.NoError(t, err)
	assert.Equal(t, models.FlowInProgress, rec.Status)
	assert.NotEmpty(t, rec.LedgerRef)

	_, err = f.coord.Sale(ctx, req)
	assert.ErrorIs(t, err, models.ErrConflict, "resultado desconhecido não é repetido automaticamente")
	assert.Equal(t, 2, f.ledger.Calls("executeSale"))
}

func TestMint_RejectsDuplicateAndExclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := models.NewMintTerms("boat-1", "", "ipfs://x", models.ListingDaily, 25000, 5000, 24, 2)

	res, err := f.coord.Mint(ctx, MintRequest{TransactionID: "a", Terms: terms})
	require.NoError(t, err)
	assert.NotZero(t, res.TokenID)

	_, err = f.coord.Mint(ctx, MintRequest{TransactionID: "b", Terms: terms})
	assert.ErrorIs(t, err, models.ErrAlreadyMinted)
	assert.Equal(t, 1, f.ledger.Calls("mint"))

	bad := models.MintTerms{UUID: "boat-2", MetadataURL: "ipfs://x", HourlyRate: 1, DailyRate: 1}
	_, err = f.coord.Mint(ctx, MintRequest{TransactionID: "c", Terms: bad})
	assert.ErrorIs(t, err, models.ErrPriceExclusivity)

	_, err = f.coord.Mint(ctx, MintRequest{TransactionID: "d", Terms: models.MintTerms{MetadataURL: "ipfs://x"}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestListForSale_SetsTermsAndPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handle := f.hourlyBoat(t, "boat", 30, 100)

	terms := models.RentalTerms{DailyRate: 200, SecurityDeposit: 50, ClosedPeriod: 3600, RefundabilityPeriod: 7200}
	res, err := f.coord.ListForSale(ctx, ListForSaleRequest{TransactionID: "t", TokenID: handle, Terms: terms})
	require.NoError(t, err)
	assert.Equal(t, handle, res.TokenID)

	got, _ := f.ledger.RentalTerms(ctx, handle)
	assert.Equal(t, terms, got)
	assert.Zero(t, f.ledger.Calls("listForSale"))

	_, err = f.coord.ListForSale(ctx, ListForSaleRequest{TransactionID: "u", TokenID: handle, Terms: terms, SellPrice: 10})
	assert.ErrorIs(t, err, models.ErrPriceExclusivity)
}

func TestCreateRental_DepositIsRateTimesHoursPlusDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hourlyBoat(t, "boat", 30, 100)
	f.ledger.Fund("renter", 1000)
	f.ledger.Approve("renter", 1000)

	res := f.rent(t, "boat", "rental-1", time.Hour)
	assert.Equal(t, uint64(130), res.DepositAmount)
	assert.Equal(t, uint64(1), res.Hours)
	assert.NotZero(t, res.RentalID)

	bal, _ := f.ledger.BalanceOf(ctx, "renter")
	assert.Equal(t, uint64(870), bal)
	assert.Equal(t, uint64(130), f.ledger.Escrow(res.RentalID))
}

func TestCreateRental_SubHourWindow(t *testing.T) {
	f := newFixture(t)
	f.hourlyBoat(t, "boat", 30, 100)
	f.ledger.Fund("renter", 1000)
	f.ledger.Approve("renter", 1000)

	res := f.rent(t, "boat", "short", 59*time.Minute)
	assert.Equal(t, uint64(100), res.DepositAmount, "horas parciais truncadas para zero")

	f.coord.rental.MinDuration = time.Hour
	_, err := f.coord.CreateRental(context.Background(), CreateRentalRequest{
		TransactionID: "x",
		Rental:        models.RentalRequest{AssetUUID: "boat", RentalUUID: "short-2", Renter: "renter", CheckIn: checkIn, CheckOut: checkIn.Add(30 * time.Minute)},
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateRental_AllowanceRejected(t *testing.T) {
	f := newFixture(t)
	f.hourlyBoat(t, "boat", 30, 100)
	f.ledger.Fund("renter", 1000)

	_, err := f.coord.CreateRental(context.Background(), CreateRentalRequest{
		TransactionID: "x",
		Rental:        models.RentalRequest{AssetUUID: "boat", RentalUUID: "r", Renter: "renter", CheckIn: checkIn, CheckOut: checkIn.Add(time.Hour)},
	})
	assert.ErrorIs(t, err, models.ErrAllowanceInsufficient)
	assert.ErrorIs(t, err, models.ErrLedgerRejected)
}

func TestCancelRental_RefundsRenterInFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hourlyBoat(t, "boat", 30, 100)
	f.ledger.Fund("renter", 1000)
	f.ledger.Approve("renter", 1000)
	rental := f.rent(t, "boat", "rental-1", 2*time.Hour)

	req := CancelRentalRequest{TransactionID: "c1", AssetUUID: "boat", RentalUUID: "rental-1", Account: "renter"}
	res, err := f.coord.CancelRental(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(160), res.Refunded)

	cancelled, _ := f.ledger.ReservationCanceled(ctx, rental.RentalID)
	assert.True(t, cancelled)
	bal, _ := f.ledger.BalanceOf(ctx, "renter")
	assert.Equal(t, uint64(1000), bal)
	assert.Zero(t, f.ledger.Escrow(rental.RentalID))

	_, err = f.coord.CancelRental(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.ledger.Calls("cancelReservation"))
}

func TestCancelRental_RevertIsRetriedWithSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hourlyBoat(t, "boat", 30, 100)
	f.ledger.Fund("renter", 1000)
	f.ledger.Approve("renter", 1000)
	f.rent(t, "boat", "rental-1", time.Hour)

	revert := errors.New("execution reverted")
	f.ledger.InjectFault("cancelReservation", ledger.Fault{Err: revert})

	req := CancelRentalRequest{TransactionID: "c1", RentalUUID: "rental-1"}
	_, err := f.coord.CancelRental(ctx, req)
	assert.ErrorIs(t, err, revert)

	rec, _ := f.flows.GetFlow(ctx, models.FlowKey{UUID: "rental-1", TransactionID: "c1", Operation: models.OpCancelRental})
	assert.Equal(t, models.FlowFailed, rec.Status)

	res, err := f.coord.CancelRental(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(130), res.Refunded)
	assert.Equal(t, 1, f.ledger.Calls("requestCancelReservation"), "pedido já registrado não é reenviado")
	assert.Equal(t, 2, f.ledger.Calls("cancelReservation"))
}

func TestCancelRental_WithoutRequestIsRejectedByLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hourlyBoat(t, "boat", 30, 100)
	f.ledger.Fund("renter", 1000)
	f.ledger.Approve("renter", 1000)
	rental := f.rent(t, "boat", "rental-1", time.Hour)

	_, err := f.ledger.CancelReservation(ctx, rental.RentalID)
	assert.ErrorIs(t, err, models.ErrNotRequested)
}

func TestCancelRental_WrongAccount(t *testing.T) {
	f := newFixture(t)
	f.hourlyBoat(t, "boat", 30, 100)
	f.ledger.Fund("renter", 1000)
	f.ledger.Approve("renter", 1000)
	f.rent(t, "boat", "rental-1", time.Hour)

	_, err := f.coord.CancelRental(context.Background(), CancelRentalRequest{TransactionID: "c", RentalUUID: "rental-1", Account: "intruder"})
	assert.ErrorIs(t, err, models.ErrNotOwner)
	assert.Zero(t, f.ledger.Calls("requestCancelReservation"))
}

func TestCompleteRental_ReleasesEscrowToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hourlyBoat(t, "boat", 30, 100)
	f.ledger.Fund("renter", 1000)
	f.ledger.Approve("renter", 1000)
	f.rent(t, "boat", "rental-1", time.Hour)

	res, err := f.coord.CompleteRental(ctx, CompleteRentalRequest{TransactionID: "done", RentalUUID: "rental-1"})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	owner, _ := f.ledger.BalanceOf(ctx, "owner")
	assert.Equal(t, uint64(130), owner)

	_, err = f.coord.CancelRental(ctx, CancelRentalRequest{TransactionID: "late", RentalUUID: "rental-1"})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestCompleteRental_PendingIsNonFatalAndObservable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hourlyBoat(t, "boat", 30, 100)
	f.ledger.Fund("renter", 1000)
	f.ledger.Approve("renter", 1000)
	rental := f.rent(t, "boat", "rental-1", time.Hour)
	f.ledger.DeferCompletion(true)

	key := models.FlowKey{UUID: "rental-1", TransactionID: "done", Operation: models.OpCompleteRental}
	res, err := f.coord.CompleteRental(ctx, CompleteRentalRequest{TransactionID: "done", RentalUUID: "rental-1"})
	assert.ErrorIs(t, err, models.ErrCompletionPending)
	assert.False(t, res.Completed)
	assert.Equal(t, rental.RentalID, res.RentalID)
	assert.Equal(t, 2, f.ledger.Calls("rentalCompleted"))

	rec, _ := f.flows.GetFlow(ctx, key)
	assert.Equal(t, models.FlowPending, rec.Status)

	obs, err := f.coord.Observe(ctx, rec)
	require.NoError(t, err)
	assert.False(t, obs.Visible)

	f.ledger.SettleRental(rental.RentalID)
	obs, err = f.coord.Observe(ctx, rec)
	require.NoError(t, err)
	assert.True(t, obs.Visible)
	assert.JSONEq(t, `{"rentalId":1,"completed":true}`, string(obs.Result))
}

func TestIdentityResolver_RetriesTransientReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hourlyBoat(t, "boat", 30, 0)

	f.ledger.InjectFault("fromUuid", ledger.Fault{Err: errors.New("connection reset")})
	handle, err := f.coord.Identity().ResolveAssetHandle(ctx, "boat")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), handle)

	uuid, err := f.coord.Identity().AssetUUID(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "boat", uuid)

	_, err = f.coord.Identity().ResolveRentalHandle(ctx, "nothing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, f.ledger.Calls("rentalFromUuid"), "uuid desconhecido não é repetido")
}
