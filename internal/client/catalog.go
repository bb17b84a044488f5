package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vendasys/pos-service/pkg/httpclient"
)

// Product is the catalog entry returned by the product lookup collaborator.
// UnitPrice is in integer cents.
type Product struct {
	Code          string `json:"code"`
	Description   string `json:"description"`
	UnitPrice     int64  `json:"unit_price"`
	StockQuantity int    `json:"stock_quantity"`
}

// CatalogClient looks up products by code on the catalog service.
type CatalogClient struct {
	http    HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewCatalogClient creates a new product lookup client.
func NewCatalogClient(doer HTTPDoer, baseURL string, logger *slog.Logger) *CatalogClient {
	return &CatalogClient{
		http:    doer,
		baseURL: baseURL,
		logger:  logger,
	}
}

// GetProduct resolves a product code to its description, unit price and
// current stock figure. An unknown code is reported as apperrors.ErrNotFound,
// which callers treat as a normal negative result.
func (c *CatalogClient) GetProduct(ctx context.Context, code string) (*Product, error) {
	u := c.baseURL + "/api/v1/products/" + url.PathEscape(code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create product lookup request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "catalog")
	}

	var product Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, fmt.Errorf("decode product response: %w", err)
	}

	c.logger.DebugContext(ctx, "product resolved",
		slog.String("code", product.Code),
		slog.Int("stock_quantity", product.StockQuantity),
	)

	return &product, nil
}
