package domain

import "time"

// Session status constants.
const (
	// StatusOpen means the session accepts staging, add, remove and cancel.
	StatusOpen = "open"
	// StatusFinalizing means a finalize request is in flight; mutations and
	// concurrent finalize attempts are rejected until it settles.
	StatusFinalizing = "finalizing"
)

// SaleDateLayout is the wire format for the editable sale date.
const SaleDateLayout = "2006-01-02"

// LineItem is one product entry in the sale in progress. Rows are immutable
// once added; the only mutation is whole-row removal.
type LineItem struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// StagedItem is the transient product-lookup result awaiting quantity
// confirmation. It is not part of the sale until added as a LineItem.
type StagedItem struct {
	Code          string `json:"code"`
	Description   string `json:"description"`
	UnitPrice     int64  `json:"unit_price"`
	StockQuantity int    `json:"stock_quantity"`
	Quantity      int    `json:"quantity"`
	OutOfStock    bool   `json:"out_of_stock"`
}

// Session is the in-progress sale owned by one terminal. Monetary amounts are
// integer cents. StockHints caches the last-fetched stock per product code and
// is advisory only: the sales collaborator revalidates stock at finalization.
type Session struct {
	ID            string    `json:"id"`
	TerminalID    string    `json:"terminal_id"`
	Status        string    `json:"status"`
	Items         []LineItem `json:"items"`
	Total         int64     `json:"total"`
	CustomerID    string    `json:"customer_id,omitempty"`
	CustomerName  string    `json:"customer_name,omitempty"`
	CustomerTaxID string    `json:"customer_tax_id,omitempty"`
	SaleDate      string    `json:"sale_date"`
	Staged        *StagedItem    `json:"staged,omitempty"`
	StockHints    map[string]int `json:"stock_hints,omitempty"`

	// Monotonic counters tagging the most recent customer/product lookup.
	// A lookup response is applied only while its tag is still current, so
	// overlapping lookups resolve last-call-wins.
	CustomerLookupSeq uint64 `json:"customer_lookup_seq"`
	ProductLookupSeq  uint64 `json:"product_lookup_seq"`

	// FinalizeKey is minted on the first finalize attempt and reused on
	// retries so the sales collaborator can deduplicate a resubmission whose
	// earlier success response was lost.
	FinalizeKey string `json:"finalize_key,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecomputeTotal derives the total from the current items. The stored Total
// is maintained incrementally on add/remove and must always match this.
func (s *Session) RecomputeTotal() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.Subtotal
	}
	return total
}

// ItemCount returns the number of units across all line items.
func (s *Session) ItemCount() int {
	var count int
	for _, item := range s.Items {
		count += item.Quantity
	}
	return count
}

// IsEmpty reports whether the session has no line items.
func (s *Session) IsEmpty() bool {
	return len(s.Items) == 0
}

// ClearStaging discards the staging row.
func (s *Session) ClearStaging() {
	s.Staged = nil
}

// HintStock records the last-fetched stock quantity for a product code,
// overwriting any previous hint.
func (s *Session) HintStock(code string, quantity int) {
	if s.StockHints == nil {
		s.StockHints = make(map[string]int)
	}
	s.StockHints[code] = quantity
}
