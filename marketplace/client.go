package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	showPath           = "/v1/integration_api/transactions/show"
	updateMetadataPath = "/v1/integration_api/transactions/update_metadata"
)

// Client fala com a Integration API do Sharetribe. Somente leituras são
// repetidas; update_metadata é chamado uma única vez.
type Client struct {
	baseURL         string
	http            *http.Client
	maxAttempts     int
	initialInterval time.Duration
}

// New cria um cliente autenticado por client credentials (escopo "integ").
func New(cfg config.MarketplaceConfig) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{"integ"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
	hc := cc.Client(ctx)
	hc.Timeout = cfg.Timeout
	return NewWithHTTPClient(cfg.BaseURL, hc, cfg.MaxAttempts)
}

// NewWithHTTPClient usa hc diretamente, sem autenticação própria.
func NewWithHTTPClient(baseURL string, hc *http.Client, maxAttempts int) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if maxAttempts > 3 {
		maxAttempts = 3
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		http:            hc,
		maxAttempts:     maxAttempts,
		initialInterval: 200 * time.Millisecond,
	}
}

// SetInitialInterval ajusta o primeiro intervalo do backoff exponencial.
func (c *Client) SetInitialInterval(d time.Duration) {
	c.initialInterval = d
}

type transactionEnvelope struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			LastTransition string              `json:"lastTransition"`
			LineItems      []models.LineItem   `json:"lineItems"`
			Metadata       map[string]any      `json:"metadata"`
			Transitions    []models.Transition `json:"transitions"`
		} `json:"attributes"`
	} `json:"data"`
}

func (e transactionEnvelope) toModel() models.MarketplaceTransaction {
	a := e.Data.Attributes
	md := a.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return models.MarketplaceTransaction{
		ID:             e.Data.ID,
		LastTransition: a.LastTransition,
		LineItems:      a.LineItems,
		Metadata:       md,
		Transitions:    a.Transitions,
	}
}

type apiErrors struct {
	Errors []struct {
		Status int    `json:"status"`
		Code   string `json:"code"`
		Title  string `json:"title"`
	} `json:"errors"`
}

// Show busca a transação. Falhas de rede e 5xx são repetidas com backoff exponencial.
func (c *Client) Show(ctx context.Context, transactionID string) (models.MarketplaceTransaction, error) {
	q := url.Values{"id": {transactionID}}
	endpoint := c.baseURL + showPath + "?" + q.Encode()

	var tx models.MarketplaceTransaction
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		tx, err = c.do(req, transactionID)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxAttempts-1)), ctx)

	logger.ExternalServiceCall("marketplace", "show", "transaction_id", transactionID)
	err := backoff.Retry(op, policy)
	logger.ExternalServiceResult("marketplace", "show", err, "transaction_id", transactionID, "attempts", attempt)
	if err != nil {
		return models.MarketplaceTransaction{}, err
	}
	return tx, nil
}

// UpdateMetadata grava metadata na transação. O corpo enviado é o mapa completo.
func (c *Client) UpdateMetadata(ctx context.Context, transactionID string, metadata map[string]any) (models.MarketplaceTransaction, error) {
	body, err := json.Marshal(map[string]any{"id": transactionID, "metadata": metadata})
	if err != nil {
		return models.MarketplaceTransaction{}, fmt.Errorf("falha ao serializar metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+updateMetadataPath+"?expand=true", bytes.NewReader(body))
	if err != nil {
		return models.MarketplaceTransaction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	logger.ExternalServiceCall("marketplace", "update_metadata", "transaction_id", transactionID)
	tx, err := c.do(req, transactionID)
	logger.ExternalServiceResult("marketplace", "update_metadata", err, "transaction_id", transactionID)
	return tx, err
}

func (c *Client) do(req *http.Request, transactionID string) (models.MarketplaceTransaction, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return models.MarketplaceTransaction{}, fmt.Errorf("%w: %v", models.ErrMarketplaceUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.MarketplaceTransaction{}, fmt.Errorf("%w: falha ao ler resposta: %v", models.ErrMarketplaceUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return models.MarketplaceTransaction{}, fmt.Errorf("%w: status %d", models.ErrMarketplaceUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return models.MarketplaceTransaction{}, &models.MarketplaceRejectedError{
			TransactionID: transactionID,
			Status:        resp.StatusCode,
			Reason:        rejectionReason(payload, resp.Status),
		}
	}

	var env transactionEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return models.MarketplaceTransaction{}, fmt.Errorf("%w: resposta inválida: %v", models.ErrMarketplaceUnavailable, err)
	}
	return env.toModel(), nil
}

func rejectionReason(payload []byte, fallback string) string {
	var apiErr apiErrors
	if json.Unmarshal(payload, &apiErr) == nil && len(apiErr.Errors) > 0 {
		e := apiErr.Errors[0]
		if e.Title != "" {
			return e.Code + ": " + e.Title
		}
		return e.Code
	}
	return fallback
}

func retryable(err error) bool {
	var rejected *models.MarketplaceRejectedError
	if errors.As(err, &rejected) {
		return false
	}
	return errors.Is(err, models.ErrMarketplaceUnavailable)
}

// MergeMetadata aplica patch sobre current sem alterar nenhum dos dois mapas.
func MergeMetadata(current, patch map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
