package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vendasys/pos-service/internal/domain"
	pkgkafka "github.com/vendasys/pos-service/pkg/kafka"
)

// Kafka topic constants for sale session domain events.
const (
	TopicSaleFinalized    = "vendas.sale.finalized"
	TopicSessionCancelled = "vendas.session.cancelled"
)

// Aggregate type constant.
const AggregateTypeSession = "pos_session"

// Source identifier for events originating from the POS service.
const SourcePOSService = "pos-service"

// SaleFinalizedData is the payload for a sale.finalized event.
type SaleFinalizedData struct {
	SaleID        string         `json:"sale_id"`
	TerminalID    string         `json:"terminal_id"`
	CustomerTaxID string         `json:"customer_tax_id,omitempty"`
	SaleDate      string         `json:"sale_date"`
	Items         []SaleItemData `json:"items"`
	ItemCount     int            `json:"item_count"`
	Total         int64          `json:"total"`
}

// SaleItemData is the line item payload within sale events.
type SaleItemData struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// SessionCancelledData is the payload for a session.cancelled event.
type SessionCancelledData struct {
	SessionID  string `json:"session_id"`
	TerminalID string `json:"terminal_id"`
	ItemCount  int    `json:"item_count"`
	Total      int64  `json:"total"`
}

// Producer publishes sale session domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the POS service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishSaleFinalized publishes a sale.finalized event.
func (p *Producer) PublishSaleFinalized(ctx context.Context, session *domain.Session, saleID string) error {
	items := make([]SaleItemData, len(session.Items))
	for i, item := range session.Items {
		items[i] = SaleItemData{
			Code:        item.Code,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		}
	}

	data := SaleFinalizedData{
		SaleID:        saleID,
		TerminalID:    session.TerminalID,
		CustomerTaxID: session.CustomerTaxID,
		SaleDate:      session.SaleDate,
		Items:         items,
		ItemCount:     session.ItemCount(),
		Total:         session.Total,
	}

	event, err := pkgkafka.NewEvent(TopicSaleFinalized, session.ID, AggregateTypeSession, SourcePOSService, data)
	if err != nil {
		return fmt.Errorf("create sale.finalized event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicSaleFinalized, event); err != nil {
		return fmt.Errorf("publish sale.finalized event: %w", err)
	}

	p.logger.DebugContext(ctx, "published sale.finalized event",
		slog.String("sale_id", saleID),
		slog.String("terminal_id", session.TerminalID),
	)

	return nil
}

// PublishSessionCancelled publishes a session.cancelled event.
func (p *Producer) PublishSessionCancelled(ctx context.Context, session *domain.Session) error {
	data := SessionCancelledData{
		SessionID:  session.ID,
		TerminalID: session.TerminalID,
		ItemCount:  session.ItemCount(),
		Total:      session.Total,
	}

	event, err := pkgkafka.NewEvent(TopicSessionCancelled, session.ID, AggregateTypeSession, SourcePOSService, data)
	if err != nil {
		return fmt.Errorf("create session.cancelled event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicSessionCancelled, event); err != nil {
		return fmt.Errorf("publish session.cancelled event: %w", err)
	}

	p.logger.DebugContext(ctx, "published session.cancelled event",
		slog.String("session_id", session.ID),
		slog.String("terminal_id", session.TerminalID),
	)

	return nil
}
