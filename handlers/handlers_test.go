package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/ledger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/services"
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

type apiFixture struct {
	router http.Handler
	ledger *ledger.MemoryLedger
	mp     *MockMarketplace
}

func newAPI(t *testing.T) apiFixture {
	t.Helper()
	ml := ledger.NewMemoryLedger("platform")
	mp := new(MockMarketplace)
	coord := services.NewCoordinator(ledger.Static(ml), storage.NewMemoryFlowStore(), mp, config.RentalConfig{
		CompletionPollAttempts: 1,
		CompletionPollInterval: time.Millisecond,
	})
	return apiFixture{router: NewRouter(coord), ledger: ml, mp: mp}
}

func (a apiFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func (a apiFixture) mintHourly(t *testing.T, boatUUID string) {
	t.Helper()
	rr := a.post(t, "/mint-boat", map[string]any{
		"boat_uuid":       boatUUID,
		"metadata_url":    "ipfs://boat",
		"listing_type":    "hourly-rental",
		"account_address": "owner",
		"price":           5000,
		"deposit":         "3000",
		"refund_period":   24,
		"closed_period":   2,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestMintAndSale(t *testing.T) {
	a := newAPI(t)

	rr := a.post(t, "/mint-boat", map[string]any{
		"boat_uuid":       "boat-1",
		"metadata_url":    "ipfs://boat-1",
		"listing_type":    "sale",
		"account_address": "seller",
		"price":           150000,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	minted := decodeBody(t, rr)
	assert.Equal(t, true, minted["success"])
	tokenID := minted["tokenId"]
	assert.EqualValues(t, 1, tokenID)

	rr = a.post(t, "/create-boat-nft", map[string]any{"tokenId": tokenID, "sellPrice": "1500"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	a.ledger.Fund("buyer", 2000)
	a.ledger.Approve("buyer", 1500)

	rr = a.post(t, "/boat-sale", map[string]any{"boat_uuid": "boat-1", "account_address": "buyer", "price": 1500, "transaction_id": "sale-1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sold := decodeBody(t, rr)
	assert.Equal(t, "buyer", sold["newOwner"])
	assert.EqualValues(t, 1500, sold["finalPrice"])

	// Mesma chave: resultado gravado, sem segunda cobrança.
	rr = a.post(t, "/boat-sale", map[string]any{"boat_uuid": "boat-1", "account_address": "buyer", "price": 1500, "transaction_id": "sale-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, a.ledger.Calls("executeSale"))

	req := httptest.NewRequest(http.MethodGet, "/boats/boat-1", nil)
	got := httptest.NewRecorder()
	a.router.ServeHTTP(got, req)
	require.Equal(t, http.StatusOK, got.Code)
	boat := decodeBody(t, got)["boat"].(map[string]any)
	assert.Equal(t, "buyer", boat["owner"])
	assert.EqualValues(t, 0, boat["askingPrice"])
}

func TestMintBoat_DuplicateIsConflict(t *testing.T) {
	a := newAPI(t)
	a.mintHourly(t, "boat-1")

	rr := a.post(t, "/mint-boat", map[string]any{
		"boat_uuid": "boat-1", "metadata_url": "ipfs://boat", "listing_type": "unlisted", "transaction_id": "other",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, false, decodeBody(t, rr)["success"])
}

func TestBoatSale_Errors(t *testing.T) {
	a := newAPI(t)

	rr := a.post(t, "/boat-sale", map[string]any{"price": 10})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["message"], "boat_uuid")

	rr = a.post(t, "/boat-sale", map[string]any{"boat_uuid": "missing"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	a.mintHourly(t, "boat-2")
	rr = a.post(t, "/boat-sale", map[string]any{"boat_uuid": "boat-2"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["error"], "anúncio")

	req := httptest.NewRequest(http.MethodPost, "/boat-sale", strings.NewReader("{"))
	bad := httptest.NewRecorder()
	a.router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestCreateBoatNFT_PriceExclusivity(t *testing.T) {
	a := newAPI(t)
	a.mintHourly(t, "boat-1")

	rr := a.post(t, "/create-boat-nft", map[string]any{"tokenId": 1, "adjustedHourlyPrice": 50, "sellPrice": 1000})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestRentalLifecycle_CancelRefunds(t *testing.T) {
	a := newAPI(t)
	a.mintHourly(t, "boat-1")
	a.ledger.Fund("renter", 500)
	a.ledger.Approve("renter", 500)

	rr := a.post(t, "/create-rental-agreement", map[string]any{
		"boat_uuid":       "boat-1",
		"rental_uuid":     "rental-1",
		"account_address": "renter",
		"check_in":        "2026-07-01T10:00:00Z",
		"check_out":       "2026-07-01T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	created := decodeBody(t, rr)
	assert.EqualValues(t, 130, created["depositAmount"])
	assert.EqualValues(t, 2, created["rentalPeriodInHours"])

	rr = a.post(t, "/handle-rental-cancellation", map[string]any{"boat_uuid": "boat-1", "rental_uuid": "rental-1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.post(t, "/handle-rental-cancellation", map[string]any{"boat_uuid": "boat-1", "rental_uuid": "rental-1", "account_address": "renter"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 130, decodeBody(t, rr)["refunded"])

	balance, err := a.ledger.BalanceOf(context.Background(), "renter")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), balance)

	rr = a.post(t, "/handle-rental-completion", map[string]any{"boat_uuid": "boat-1", "rental_uuid": "rental-1"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRentalCompletion_PendingAndDone(t *testing.T) {
	a := newAPI(t)
	a.mintHourly(t, "boat-1")
	a.ledger.Fund("renter", 500)
	a.ledger.Approve("renter", 500)
	for _, id := range []string{"rental-1", "rental-2"} {
		rr := a.post(t, "/create-rental-agreement", map[string]any{
			"boat_uuid": "boat-1", "rental_uuid": id, "account_address": "renter",
			"check_in": 1782900000, "check_out": 1782903600,
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rr := a.post(t, "/handle-rental-completion", map[string]any{"boat_uuid": "boat-1", "rental_uuid": "rental-1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Aluguel concluído com sucesso.", decodeBody(t, rr)["message"])

	a.ledger.DeferCompletion(true)
	rr = a.post(t, "/handle-rental-completion", map[string]any{"boat_uuid": "boat-1", "rental_uuid": "rental-2"})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["pending"])
}

func TestUpdateMetadata_Transit(t *testing.T) {
	a := newAPI(t)
	current := models.MarketplaceTransaction{ID: txUUID, Metadata: map[string]any{}}
	updated := models.MarketplaceTransaction{ID: txUUID, Metadata: map[string]any{"bookingStatus": models.CheckInCompleted}}
	a.mp.On("Show", txUUID).Return(current, nil).Once()
	a.mp.On("UpdateMetadata", txUUID, map[string]any{"bookingStatus": models.CheckInCompleted}).Return(updated, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/update_metadata",
		strings.NewReader(`["^ ","~:transactionId","~u`+txUUID+`"]`))
	req.Header.Set("Content-Type", transitContentType)
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, transitContentType, rr.Header().Get("Content-Type"))

	decoded, err := decodeTransit(rr.Body.Bytes())
	require.NoError(t, err)
	resp := decoded.(map[string]any)
	assert.EqualValues(t, 200, resp["status"])
	assert.Equal(t, "OK", resp["statusText"])
	data := resp["data"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, txUUID, data["id"])
	meta := data["attributes"].(map[string]any)["metadata"].(map[string]any)
	assert.Equal(t, models.CheckInCompleted, meta["bookingStatus"])
	a.mp.AssertExpectations(t)
}

func TestUpdateMetadata_JSONErrors(t *testing.T) {
	a := newAPI(t)
	a.mp.On("Show", "tx-9").Return(models.MarketplaceTransaction{}, models.ErrMarketplaceUnavailable).Once()

	rr := a.post(t, "/update_metadata", map[string]any{"transactionId": "tx-9"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, transitContentType, rr.Header().Get("Content-Type"))

	rr = a.post(t, "/update_metadata", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/update_metadata", strings.NewReader(`["^ ",`))
	req.Header.Set("Content-Type", transitContentType)
	bad := httptest.NewRecorder()
	a.router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)

	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["network"])

	rr = httptest.NewRecorder()
	a.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `ahoy_http_requests_total{method="GET",route="/health",status="200"}`)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.Invalid("boat_uuid", "campo obrigatório"), http.StatusBadRequest},
		{fmt.Errorf("aluguel 3: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrConflict, http.StatusConflict},
		{models.ErrAlreadyMinted, http.StatusConflict},
		{fmt.Errorf("setInspectionPassed: %w", models.ErrInvalidTransition), http.StatusConflict},
		{models.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{models.InclusionUnknown("sig", nil), http.StatusGatewayTimeout},
		{models.ErrMarketplaceUnavailable, http.StatusServiceUnavailable},
		{&models.MarketplaceRejectedError{Status: http.StatusForbidden}, http.StatusForbidden},
		{&models.MarketplaceRejectedError{Status: 0}, http.StatusBadGateway},
		{fmt.Errorf("qualquer"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestIdempotencyKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/boat-sale", nil)
	assert.Equal(t, "body", idempotencyKey(req, "body"))

	req.Header.Set("Idempotency-Key", "header")
	assert.Equal(t, "header", idempotencyKey(req, ""))

	req.Header.Del("Idempotency-Key")
	a, b := idempotencyKey(req, ""), idempotencyKey(req, "")
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestAmount_Unmarshal(t *testing.T) {
	var body struct {
		Price amount `json:"price"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price":"3000"}`), &body))
	assert.Equal(t, amount(3000), body.Price)
	require.NoError(t, json.Unmarshal([]byte(`{"price":1.5e3}`), &body))
	assert.Equal(t, amount(1500), body.Price)

	assert.Error(t, json.Unmarshal([]byte(`{"price":1e30}`), &body))
	assert.Error(t, json.Unmarshal([]byte(`{"price":-1.0}`), &body))
	assert.Error(t, json.Unmarshal([]byte(`{"price":"18446744073709551616"}`), &body))
}
