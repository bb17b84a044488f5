package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vendasys/pos-service/internal/client"
	"github.com/vendasys/pos-service/internal/domain"
	"github.com/vendasys/pos-service/internal/event"
	"github.com/vendasys/pos-service/internal/repository"
	apperrors "github.com/vendasys/pos-service/pkg/errors"
)

// WalkInCustomer is the display label for an unidentified sale.
const WalkInCustomer = "unidentified"

// CustomerLookup resolves a CPF to a customer identity.
type CustomerLookup interface {
	Lookup(ctx context.Context, cpf string) (*client.Customer, error)
}

// ProductLookup resolves a product code to price, description and stock.
type ProductLookup interface {
	GetProduct(ctx context.Context, code string) (*client.Product, error)
}

// SaleSubmitter persists a finalized sale on the sales collaborator.
type SaleSubmitter interface {
	SubmitSale(ctx context.Context, submission *client.SaleSubmission, idempotencyKey string) (*client.SaleResult, error)
}

// FinalizeSummary is the confirmation payload shown before finalizing.
type FinalizeSummary struct {
	Total     int64  `json:"total"`
	ItemCount int    `json:"item_count"`
	Customer  string `json:"customer"`
	SaleDate  string `json:"sale_date"`
}

// FinalizeResult acknowledges a persisted sale.
type FinalizeResult struct {
	SaleID    string `json:"sale_id"`
	Message   string `json:"message,omitempty"`
	Total     int64  `json:"total"`
	ItemCount int    `json:"item_count"`
}

// SessionService implements the business logic for sale session operations.
// Every mutation goes through the repository's version check, which is the
// mutual-exclusion boundary for concurrent requests on the same terminal.
type SessionService struct {
	repo      repository.SessionRepository
	customers CustomerLookup
	catalog   ProductLookup
	sales     SaleSubmitter
	producer  *event.Producer
	logger    *slog.Logger
}

// NewSessionService creates a new sale session service.
func NewSessionService(
	repo repository.SessionRepository,
	customers CustomerLookup,
	catalog ProductLookup,
	sales SaleSubmitter,
	producer *event.Producer,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		repo:      repo,
		customers: customers,
		catalog:   catalog,
		sales:     sales,
		producer:  producer,
		logger:    logger,
	}
}

// GetSession retrieves the in-progress session for a terminal. If none
// exists, a fresh empty session is returned without being persisted.
func (s *SessionService) GetSession(ctx context.Context, terminalID string) (*domain.Session, error) {
	if terminalID == "" {
		return nil, apperrors.InvalidInput("terminal id is required")
	}

	session, err := s.repo.Get(ctx, terminalID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.newSession(terminalID), nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return session, nil
}

// ResolveCustomer looks up a customer by tax ID and attaches the identity to
// the session. A not-found or failed lookup clears any previously attached
// customer and surfaces the error as a non-fatal notice. Overlapping lookups
// resolve last-call-wins: each call bumps the session's lookup sequence
// before going to the network and a response is only applied while its
// sequence is still current.
func (s *SessionService) ResolveCustomer(ctx context.Context, terminalID, taxID string) (*domain.Session, error) {
	if terminalID == "" {
		return nil, apperrors.InvalidInput("terminal id is required")
	}

	cpf := domain.NormalizeCPF(taxID)
	if cpf == "" {
		return nil, apperrors.InvalidInput("tax id is required")
	}
	if !domain.ValidateCPF(cpf) {
		return nil, apperrors.InvalidInput("tax id is not a valid CPF")
	}

	session, err := s.getOrCreateSession(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusFinalizing {
		return nil, apperrors.Conflict("sale finalization is in progress")
	}

	seq, err := s.claimLookup(ctx, session, &session.CustomerLookupSeq)
	if err != nil {
		return nil, err
	}

	customer, lookupErr := s.customers.Lookup(ctx, cpf)

	session, stale, err := s.reloadIfCurrent(ctx, terminalID, seq, func(sess *domain.Session) uint64 {
		return sess.CustomerLookupSeq
	})
	if err != nil {
		return nil, err
	}
	if stale {
		s.logger.DebugContext(ctx, "stale customer lookup response discarded",
			slog.String("terminal_id", terminalID),
			slog.Uint64("seq", seq),
		)
		return session, nil
	}

	if lookupErr != nil {
		session.CustomerID = ""
		session.CustomerName = ""
		session.CustomerTaxID = ""
		if err := s.save(ctx, session); err != nil {
			return nil, err
		}
		if errors.Is(lookupErr, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("customer", cpf)
		}
		return nil, fmt.Errorf("customer lookup: %w", lookupErr)
	}

	session.CustomerID = customer.ID
	session.CustomerName = customer.Name
	session.CustomerTaxID = cpf
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "customer attached to session",
		slog.String("terminal_id", terminalID),
		slog.String("customer_id", customer.ID),
	)

	return session, nil
}

// ResolveProduct looks up a product by code and stages it for addition with a
// default quantity of 1 (0 when out of stock, which also blocks the add until
// another product is resolved). The stock figure is cached as an advisory
// hint. A failed lookup clears the staging row. The same last-call-wins
// sequence guard as ResolveCustomer applies.
func (s *SessionService) ResolveProduct(ctx context.Context, terminalID, code string) (*domain.Session, error) {
	if terminalID == "" {
		return nil, apperrors.InvalidInput("terminal id is required")
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.InvalidInput("product code is required")
	}

	session, err := s.getOrCreateSession(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusFinalizing {
		return nil, apperrors.Conflict("sale finalization is in progress")
	}

	seq, err := s.claimLookup(ctx, session, &session.ProductLookupSeq)
	if err != nil {
		return nil, err
	}

	product, lookupErr := s.catalog.GetProduct(ctx, code)

	session, stale, err := s.reloadIfCurrent(ctx, terminalID, seq, func(sess *domain.Session) uint64 {
		return sess.ProductLookupSeq
	})
	if err != nil {
		return nil, err
	}
	if stale {
		s.logger.DebugContext(ctx, "stale product lookup response discarded",
			slog.String("terminal_id", terminalID),
			slog.Uint64("seq", seq),
		)
		return session, nil
	}

	if lookupErr != nil {
		session.ClearStaging()
		if err := s.save(ctx, session); err != nil {
			return nil, err
		}
		if errors.Is(lookupErr, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("product", code)
		}
		return nil, fmt.Errorf("product lookup: %w", lookupErr)
	}

	staged := &domain.StagedItem{
		Code:          product.Code,
		Description:   product.Description,
		UnitPrice:     product.UnitPrice,
		StockQuantity: product.StockQuantity,
		Quantity:      1,
	}
	if product.StockQuantity <= 0 {
		staged.Quantity = 0
		staged.OutOfStock = true
	}

	session.Staged = staged
	session.HintStock(product.Code, product.StockQuantity)
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "product staged",
		slog.String("terminal_id", terminalID),
		slog.String("code", product.Code),
		slog.Int("stock_quantity", product.StockQuantity),
	)

	return session, nil
}

// AddItem turns the staging row into a line item. A nil quantity keeps the
// staged default; an explicit zero or negative quantity is rejected.
// Preconditions are checked in order and the first failure aborts with no
// state change: staged code present, product resolved (description present),
// positive unit price, positive integer quantity. Stock sufficiency is
// deliberately not checked here; the sales collaborator is authoritative at
// finalization and the local stock hint is advisory only.
func (s *SessionService) AddItem(ctx context.Context, terminalID string, quantity *int) (*domain.Session, error) {
	if terminalID == "" {
		return nil, apperrors.InvalidInput("terminal id is required")
	}

	session, err := s.getOrCreateSession(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusFinalizing {
		return nil, apperrors.Conflict("sale finalization is in progress")
	}

	staged := session.Staged
	if staged == nil || staged.Code == "" {
		return nil, apperrors.InvalidInput("product code is required")
	}
	if staged.Description == "" {
		return nil, apperrors.InvalidInput("product must be resolved before adding")
	}
	if staged.UnitPrice <= 0 {
		return nil, apperrors.InvalidInput("unit price must be positive")
	}

	// Quantity entry stays disabled for an out-of-stock staging row, so the
	// staged zero is what gets validated regardless of the request.
	qty := staged.Quantity
	if quantity != nil && !staged.OutOfStock {
		qty = *quantity
	}
	if qty < 1 {
		return nil, apperrors.InvalidInput("quantity must be a positive integer")
	}

	subtotal := int64(qty) * staged.UnitPrice
	session.Items = append(session.Items, domain.LineItem{
		Code:        staged.Code,
		Description: staged.Description,
		Quantity:    qty,
		UnitPrice:   staged.UnitPrice,
		Subtotal:    subtotal,
	})
	session.Total += subtotal
	session.ClearStaging()

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item added to sale",
		slog.String("terminal_id", terminalID),
		slog.String("code", session.Items[len(session.Items)-1].Code),
		slog.Int("quantity", qty),
		slog.Int64("total", session.Total),
	)

	return session, nil
}

// RemoveItem removes a line item by index, preserving the order of the
// remainder. An out-of-range index is rejected with no state change. Removal
// requires explicit confirmation from the caller.
func (s *SessionService) RemoveItem(ctx context.Context, terminalID string, index int, confirmed bool) (*domain.Session, error) {
	if terminalID == "" {
		return nil, apperrors.InvalidInput("terminal id is required")
	}

	session, err := s.getOrCreateSession(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusFinalizing {
		return nil, apperrors.Conflict("sale finalization is in progress")
	}

	if index < 0 || index >= len(session.Items) {
		return nil, apperrors.InvalidInput("item index out of range")
	}
	if !confirmed {
		return nil, apperrors.ConfirmationRequired("removing an item requires confirmation")
	}

	removed := session.Items[index]
	session.Items = append(session.Items[:index], session.Items[index+1:]...)
	session.Total -= removed.Subtotal

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item removed from sale",
		slog.String("terminal_id", terminalID),
		slog.String("code", removed.Code),
		slog.Int64("total", session.Total),
	)

	return session, nil
}

// SetSaleDate sets the user-editable sale date. Only the format is validated.
func (s *SessionService) SetSaleDate(ctx context.Context, terminalID, saleDate string) (*domain.Session, error) {
	if terminalID == "" {
		return nil, apperrors.InvalidInput("terminal id is required")
	}
	if _, err := time.Parse(domain.SaleDateLayout, saleDate); err != nil {
		return nil, apperrors.InvalidInput("sale date must be in YYYY-MM-DD format")
	}

	session, err := s.getOrCreateSession(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusFinalizing {
		return nil, apperrors.Conflict("sale finalization is in progress")
	}

	session.SaleDate = saleDate
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}

// Cancel discards the session. A session with items requires confirmation;
// an empty one is reset immediately. Returns the fresh session that replaces
// the discarded one.
func (s *SessionService) Cancel(ctx context.Context, terminalID string, confirmed bool) (*domain.Session, error) {
	if terminalID == "" {
		return nil, apperrors.InvalidInput("terminal id is required")
	}

	session, err := s.getOrCreateSession(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusFinalizing {
		return nil, apperrors.Conflict("sale finalization is in progress")
	}

	if !session.IsEmpty() && !confirmed {
		return nil, apperrors.ConfirmationRequired("cancelling a sale with items requires confirmation")
	}

	if err := s.repo.Delete(ctx, terminalID); err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}

	if !session.IsEmpty() {
		if err := s.producer.PublishSessionCancelled(ctx, session); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish session.cancelled event",
				slog.String("terminal_id", terminalID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "session cancelled",
		slog.String("terminal_id", terminalID),
		slog.String("session_id", session.ID),
	)

	return s.newSession(terminalID), nil
}

// FinalizeSummary returns the confirmation payload (total, item count,
// customer) shown before finalizing. Empty sessions are rejected.
func (s *SessionService) FinalizeSummary(ctx context.Context, terminalID string) (*FinalizeSummary, error) {
	if terminalID == "" {
		return nil, apperrors.InvalidInput("terminal id is required")
	}

	session, err := s.getOrCreateSession(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if session.IsEmpty() {
		return nil, apperrors.InvalidInput("cannot finalize a sale with no items")
	}

	customer := session.CustomerName
	if customer == "" {
		customer = WalkInCustomer
	}

	return &FinalizeSummary{
		Total:     session.Total,
		ItemCount: session.ItemCount(),
		Customer:  customer,
		SaleDate:  session.SaleDate,
	}, nil
}

// Finalize submits the sale to the sales collaborator. Empty sessions are
// rejected before any network call. The session is moved to the finalizing
// status first so concurrent finalize or cancel attempts are rejected
// (single-flight). The idempotency key is minted on the first attempt and
// reused on retries, letting the sales service deduplicate a resubmission
// whose earlier success response was lost. On success the session is
// discarded; on failure it reopens with items and total untouched so the
// operator can adjust and resubmit.
func (s *SessionService) Finalize(ctx context.Context, terminalID string) (*FinalizeResult, error) {
	if terminalID == "" {
		return nil, apperrors.InvalidInput("terminal id is required")
	}

	session, err := s.repo.Get(ctx, terminalID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.InvalidInput("cannot finalize a sale with no items")
		}
		return nil, fmt.Errorf("get session for finalize: %w", err)
	}
	if session.IsEmpty() {
		return nil, apperrors.InvalidInput("cannot finalize a sale with no items")
	}
	if session.Status == domain.StatusFinalizing {
		return nil, apperrors.Conflict("sale finalization is already in progress")
	}

	session.Status = domain.StatusFinalizing
	if session.FinalizeKey == "" {
		session.FinalizeKey = uuid.New().String()
	}
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	items := make([]client.SaleItem, len(session.Items))
	for i, item := range session.Items {
		items[i] = client.SaleItem{
			Code:      item.Code,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		}
	}

	submission := &client.SaleSubmission{
		CustomerTaxID: session.CustomerTaxID,
		SaleDate:      session.SaleDate,
		Items:         items,
		Total:         session.Total,
	}

	result, submitErr := s.sales.SubmitSale(ctx, submission, session.FinalizeKey)
	if submitErr != nil {
		s.reopen(ctx, terminalID)
		return nil, fmt.Errorf("submit sale: %w", submitErr)
	}

	if err := s.repo.Delete(ctx, terminalID); err != nil {
		s.logger.ErrorContext(ctx, "failed to discard finalized session",
			slog.String("terminal_id", terminalID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishSaleFinalized(ctx, session, result.SaleID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish sale.finalized event",
			slog.String("terminal_id", terminalID),
			slog.String("sale_id", result.SaleID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "sale finalized",
		slog.String("terminal_id", terminalID),
		slog.String("sale_id", result.SaleID),
		slog.Int64("total", session.Total),
		slog.Int("item_count", session.ItemCount()),
	)

	return &FinalizeResult{
		SaleID:    result.SaleID,
		Message:   result.Message,
		Total:     session.Total,
		ItemCount: session.ItemCount(),
	}, nil
}

// reopen restores the open status after a failed finalize, leaving items and
// total untouched. Best effort: a failure here only logs.
func (s *SessionService) reopen(ctx context.Context, terminalID string) {
	session, err := s.repo.Get(ctx, terminalID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reload session after finalize failure",
			slog.String("terminal_id", terminalID),
			slog.String("error", err.Error()),
		)
		return
	}
	if session.Status != domain.StatusFinalizing {
		return
	}

	session.Status = domain.StatusOpen
	if err := s.save(ctx, session); err != nil {
		s.logger.ErrorContext(ctx, "failed to reopen session after finalize failure",
			slog.String("terminal_id", terminalID),
			slog.String("error", err.Error()),
		)
	}
}

// claimLookup bumps a lookup sequence counter and persists the claim before
// the network call, so a later lookup invalidates this one even while the
// response is still in flight.
func (s *SessionService) claimLookup(ctx context.Context, session *domain.Session, seq *uint64) (uint64, error) {
	*seq++
	if err := s.save(ctx, session); err != nil {
		return 0, err
	}
	return *seq, nil
}

// reloadIfCurrent re-reads the session after a lookup response arrives and
// reports whether the response is stale (a newer lookup claimed the counter,
// or the session was discarded meanwhile).
func (s *SessionService) reloadIfCurrent(ctx context.Context, terminalID string, seq uint64, current func(*domain.Session) uint64) (*domain.Session, bool, error) {
	session, err := s.repo.Get(ctx, terminalID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.newSession(terminalID), true, nil
		}
		return nil, false, fmt.Errorf("reload session: %w", err)
	}
	if current(session) != seq {
		return session, true, nil
	}
	return session, false, nil
}

// save persists the session with an optimistic version check.
func (s *SessionService) save(ctx context.Context, session *domain.Session) error {
	session.UpdatedAt = time.Now().UTC()

	ok, err := s.repo.SaveIfVersion(ctx, session, session.Version)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if !ok {
		return apperrors.Conflict("session was modified concurrently, please retry")
	}
	return nil
}

// getOrCreateSession retrieves the terminal's session, creating an empty one
// if none exists.
func (s *SessionService) getOrCreateSession(ctx context.Context, terminalID string) (*domain.Session, error) {
	session, err := s.repo.Get(ctx, terminalID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.newSession(terminalID), nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// newSession creates a fresh empty session for the given terminal.
func (s *SessionService) newSession(terminalID string) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		ID:         uuid.New().String(),
		TerminalID: terminalID,
		Status:     domain.StatusOpen,
		Items:      []domain.LineItem{},
		Total:      0,
		SaleDate:   now.Format(domain.SaleDateLayout),
		Version:    0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
