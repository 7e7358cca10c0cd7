package tickettype

import (
	"encoding/json"

	ierr "github.com/tixello/settlement/internal/errors"
)

// Line is one ticket type of an order
type Line struct {
	TicketTypeID string `json:"ticket_type_id"`
	EventID      string `json:"event_id"`
	Currency     string `json:"currency"`
	// UnitPrice in minor units
	UnitPrice int64      `json:"unit_price"`
	Quantity  int64      `json:"quantity"`
	BulkRules []BulkRule `json:"-"`
}

// Subtotal is unit price times quantity
func (l *Line) Subtotal() int64 {
	return l.UnitPrice * l.Quantity
}

func (l *Line) Validate() error {
	if l.TicketTypeID == "" || l.EventID == "" {
		return ierr.NewError("ticket line is missing its ticket type or event").
			WithHint("Every line must reference a ticket type and an event").
			WithReportableDetails(map[string]any{
				"ticket_type_id": l.TicketTypeID,
				"event_id":       l.EventID,
			}).
			Mark(ierr.ErrValidation)
	}

	if l.Quantity <= 0 {
		return ierr.NewError("quantity must be positive").
			WithHint("Ticket quantity must be at least 1").
			WithReportableDetails(map[string]any{
				"ticket_type_id": l.TicketTypeID,
				"quantity":       l.Quantity,
			}).
			Mark(ierr.ErrValidation)
	}

	if l.UnitPrice < 0 {
		return ierr.NewError("unit price must not be negative").
			WithHint("Ticket price cannot be negative").
			WithReportableDetails(map[string]any{
				"ticket_type_id": l.TicketTypeID,
				"unit_price":     l.UnitPrice,
			}).
			Mark(ierr.ErrValidation)
	}

	for _, r := range l.BulkRules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BestBulkDiscount applies the configured bulk rules and keeps the single
// largest discount. On equal discounts the earlier rule wins.
// Returns a nil rule when nothing matches.
func (l *Line) BestBulkDiscount() (BulkRule, int64) {
	var (
		best       BulkRule
		bestAmount int64
	)
	for _, r := range l.BulkRules {
		amount := r.Discount(l.UnitPrice, l.Quantity)
		if amount > bestAmount {
			best, bestAmount = r, amount
		}
	}
	return best, bestAmount
}

// lineJSON is the wire shape of a line, with rules kept as raw envelopes
type lineJSON struct {
	TicketTypeID string            `json:"ticket_type_id"`
	EventID      string            `json:"event_id"`
	Currency     string            `json:"currency"`
	UnitPrice    int64             `json:"unit_price"`
	Quantity     int64             `json:"quantity"`
	BulkRules    []json.RawMessage `json:"bulk_rules,omitempty"`
}

func (l Line) MarshalJSON() ([]byte, error) {
	rules := make([]json.RawMessage, 0, len(l.BulkRules))
	for _, r := range l.BulkRules {
		b, err := MarshalBulkRule(r)
		if err != nil {
			return nil, err
		}
		rules = append(rules, b)
	}
	return json.Marshal(lineJSON{
		TicketTypeID: l.TicketTypeID,
		EventID:      l.EventID,
		Currency:     l.Currency,
		UnitPrice:    l.UnitPrice,
		Quantity:     l.Quantity,
		BulkRules:    rules,
	})
}

func (l *Line) UnmarshalJSON(data []byte) error {
	var raw lineJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rules := make([]BulkRule, 0, len(raw.BulkRules))
	for _, b := range raw.BulkRules {
		r, err := UnmarshalBulkRule(b)
		if err != nil {
			return err
		}
		rules = append(rules, r)
	}

	*l = Line{
		TicketTypeID: raw.TicketTypeID,
		EventID:      raw.EventID,
		Currency:     raw.Currency,
		UnitPrice:    raw.UnitPrice,
		Quantity:     raw.Quantity,
		BulkRules:    rules,
	}
	return nil
}
