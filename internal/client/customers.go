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

// Customer is the identity returned by the customer lookup collaborator.
type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	CPF  string `json:"cpf"`
}

// CustomerClient looks up customers by CPF on the customers service.
type CustomerClient struct {
	http    HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewCustomerClient creates a new customer lookup client.
func NewCustomerClient(doer HTTPDoer, baseURL string, logger *slog.Logger) *CustomerClient {
	return &CustomerClient{
		http:    doer,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Lookup resolves a normalized CPF to a customer identity. A missing customer
// is reported as an apperrors.ErrNotFound, which callers treat as a normal
// negative result rather than a failure.
func (c *CustomerClient) Lookup(ctx context.Context, cpf string) (*Customer, error) {
	u := c.baseURL + "/api/v1/customers/lookup?cpf=" + url.QueryEscape(cpf)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create customer lookup request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call customers service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "customers")
	}

	var customer Customer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return nil, fmt.Errorf("decode customer response: %w", err)
	}

	c.logger.DebugContext(ctx, "customer resolved",
		slog.String("customer_id", customer.ID),
	)

	return &customer, nil
}
