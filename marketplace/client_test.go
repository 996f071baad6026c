package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const showBody = `{"data":{"id":"tx-1","type":"transaction","attributes":{
	"lastTransition":"transition/accept",
	"lineItems":[{"code":"line-item/day","unitPrice":{"amount":5000,"currency":"USD"},"quantity":2,"lineTotal":{"amount":10000,"currency":"USD"},"includeFor":["customer"],"reversal":false}],
	"metadata":{"bookingStatus":"Check In Completed","note":"x"},
	"transitions":[]}}}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewWithHTTPClient(srv.URL, srv.Client(), 3)
	c.SetInitialInterval(time.Millisecond)
	return c
}

func TestShow_ParsesTransaction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, showPath, r.URL.Path)
		assert.Equal(t, "tx-1", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(showBody))
	})

	tx, err := c.Show(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", tx.ID)
	assert.Equal(t, "transition/accept", tx.LastTransition)
	require.Len(t, tx.LineItems, 1)
	assert.Equal(t, int64(10000), tx.LineItems[0].LineTotal.Amount)
	assert.Equal(t, models.CheckedIn, models.BookingStatusFrom(tx.Metadata))
}

func TestShow_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(showBody))
	})

	_, err := c.Show(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestShow_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Show(context.Background(), "tx-1")
	assert.ErrorIs(t, err, models.ErrMarketplaceUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestShow_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"status":404,"code":"not-found","title":"Not found"}]}`))
	})

	_, err := c.Show(context.Background(), "missing")
	var rejected *models.MarketplaceRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusNotFound, rejected.Status)
	assert.Equal(t, "not-found: Not found", rejected.Reason)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpdateMetadata_SendsSingleRequest(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, updateMetadataPath, r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("expand"))

		var body struct {
			ID       string         `json:"id"`
			Metadata map[string]any `json:"metadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tx-1", body.ID)
		assert.Equal(t, models.CheckOutCompleted, body.Metadata[models.BookingStatusKey])
		assert.Equal(t, "x", body.Metadata["note"])

		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.UpdateMetadata(context.Background(), "tx-1", map[string]any{models.BookingStatusKey: models.CheckOutCompleted, "note": "x"})
	assert.ErrorIs(t, err, models.ErrMarketplaceUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMergeMetadata_PreservesOtherKeys(t *testing.T) {
	current := map[string]any{"note": "x", models.BookingStatusKey: models.CheckInCompleted}
	merged := MergeMetadata(current, map[string]any{models.BookingStatusKey: models.CheckOutCompleted})

	assert.Equal(t, "x", merged["note"])
	assert.Equal(t, models.CheckOutCompleted, merged[models.BookingStatusKey])
	assert.Equal(t, models.CheckInCompleted, current[models.BookingStatusKey])
}

func TestNew_FetchesClientCredentialsToken(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "integ", r.PostForm.Get("scope"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc(showPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(showBody))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(config.MarketplaceConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/v1/auth/token",
		ClientID:     "id",
		ClientSecret: "secret",
		Timeout:      time.Second,
		MaxAttempts:  1,
	})
	_, err := c.Show(context.Background(), "tx-1")
	require.NoError(t, err)
	_, err = c.Show(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenCalls.Load(), "token é reutilizado")
}
