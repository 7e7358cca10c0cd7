package pricing

import (
	"github.com/shopspring/decimal"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

// Event is the ticketed event a line belongs to. A nil rate or mode means
// the event does not override its organizer.
type Event struct {
	ID             string                `json:"id"`
	OrganizerID    string                `json:"organizer_id"`
	CommissionRate *decimal.Decimal      `json:"commission_rate,omitempty"`
	CommissionMode *types.CommissionMode `json:"commission_mode,omitempty"`
}

// Organizer carries the organizer's default commission agreement
type Organizer struct {
	ID             string                `json:"id"`
	CommissionRate *decimal.Decimal      `json:"commission_rate,omitempty"`
	CommissionMode *types.CommissionMode `json:"commission_mode,omitempty"`
}

// Marketplace carries the global defaults
type Marketplace struct {
	ID             string                `json:"id"`
	Currency       string                `json:"currency"`
	CommissionRate *decimal.Decimal      `json:"commission_rate,omitempty"`
	CommissionMode *types.CommissionMode `json:"commission_mode,omitempty"`
}

// Context is the set of records a commission is resolved against.
// Any of them may be nil.
type Context struct {
	Event       *Event
	Organizer   *Organizer
	Marketplace *Marketplace
}

// Catalog indexes the events and organizers of one order
type Catalog struct {
	marketplace *Marketplace
	events      map[string]*Event
	organizers  map[string]*Organizer
}

func NewCatalog(marketplace *Marketplace, events []*Event, organizers []*Organizer) *Catalog {
	c := &Catalog{
		marketplace: marketplace,
		events:      make(map[string]*Event, len(events)),
		organizers:  make(map[string]*Organizer, len(organizers)),
	}
	for _, e := range events {
		if e != nil {
			c.events[e.ID] = e
		}
	}
	for _, o := range organizers {
		if o != nil {
			c.organizers[o.ID] = o
		}
	}
	return c
}

func (c *Catalog) Marketplace() *Marketplace {
	return c.marketplace
}

// ContextFor builds the pricing context of a line owned by eventID
func (c *Catalog) ContextFor(eventID string) (Context, error) {
	event, ok := c.events[eventID]
	if !ok {
		return Context{}, ierr.NewError("event not found in pricing context").
			WithHintf("Event %s is referenced by a ticket line but was not supplied", eventID).
			WithReportableDetails(map[string]any{
				"event_id": eventID,
			}).
			Mark(ierr.ErrValidation)
	}

	return Context{
		Event:       event,
		Organizer:   c.organizers[event.OrganizerID],
		Marketplace: c.marketplace,
	}, nil
}

// Validate checks the configured rates and modes. Rates outside [0,100]
// are rejected here, before they reach the resolver.
func (c *Context) Validate() error {
	type source struct {
		name string
		rate *decimal.Decimal
		mode *types.CommissionMode
	}

	sources := make([]source, 0, 3)
	if c.Event != nil {
		sources = append(sources, source{"event", c.Event.CommissionRate, c.Event.CommissionMode})
	}
	if c.Organizer != nil {
		sources = append(sources, source{"organizer", c.Organizer.CommissionRate, c.Organizer.CommissionMode})
	}
	if c.Marketplace != nil {
		sources = append(sources, source{"marketplace", c.Marketplace.CommissionRate, c.Marketplace.CommissionMode})
	}

	for _, s := range sources {
		if s.rate != nil && (s.rate.IsNegative() || s.rate.GreaterThan(decimal.NewFromInt(100))) {
			return ierr.NewError("commission rate out of range").
				WithHint("Commission rate must be between 0 and 100").
				WithReportableDetails(map[string]any{
					"source": s.name,
					"rate":   s.rate.String(),
				}).
				Mark(ierr.ErrValidation)
		}
		if s.mode != nil {
			if err := s.mode.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commission is the resolved commission of a single priced amount
type Commission struct {
	Rate             decimal.Decimal      `json:"rate"`
	Mode             types.CommissionMode `json:"mode"`
	Commission       int64                `json:"commission"`
	OrganizerRevenue int64                `json:"organizer_revenue"`
	CustomerCharge   int64                `json:"customer_charge"`
}
