package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vendasys/pos-service/pkg/httpclient"
)

// SaleItem is one line of a sale submission.
type SaleItem struct {
	Code      string `json:"code"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

// SaleSubmission is the payload handed to the sales collaborator at
// finalization. CustomerTaxID is empty for an unidentified walk-in sale.
type SaleSubmission struct {
	CustomerTaxID string     `json:"customer_tax_id,omitempty"`
	SaleDate      string     `json:"sale_date"`
	Items         []SaleItem `json:"items"`
	Total         int64      `json:"total"`
}

// SaleResult is the sales service acknowledgement of a persisted sale.
type SaleResult struct {
	SaleID  string `json:"sale_id"`
	Message string `json:"message,omitempty"`
}

// SalesClient submits finalized sales to the sales service.
type SalesClient struct {
	http    HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewSalesClient creates a new sale finalization client.
func NewSalesClient(doer HTTPDoer, baseURL string, logger *slog.Logger) *SalesClient {
	return &SalesClient{
		http:    doer,
		baseURL: baseURL,
		logger:  logger,
	}
}

// SubmitSale persists a completed sale. The idempotency key is carried in the
// Idempotency-Key header so the sales service can deduplicate a retry whose
// earlier success response was lost in transit. Business rejections such as
// insufficient stock come back as typed downstream errors with the server's
// message intact.
func (c *SalesClient) SubmitSale(ctx context.Context, submission *SaleSubmission, idempotencyKey string) (*SaleResult, error) {
	body, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("marshal sale submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sales", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create sale submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call sales service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, httpclient.ParseResponseError(resp, "sales")
	}

	var result SaleResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode sale response: %w", err)
	}

	c.logger.InfoContext(ctx, "sale persisted",
		slog.String("sale_id", result.SaleID),
		slog.Int64("total", submission.Total),
	)

	return &result, nil
}
