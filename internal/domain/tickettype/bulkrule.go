package tickettype

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

var hundred = decimal.NewFromInt(100)

// BulkRule is a quantity triggered discount configured on a ticket type.
// The set of implementations is closed: BuyXGetY, BuyXPercentOff,
// AmountOffPerTicket and BundlePrice.
type BulkRule interface {
	Type() types.BulkRuleType
	// Discount returns the discount in minor units for qty tickets at unitPrice
	Discount(unitPrice, qty int64) int64
	Validate() error

	isBulkRule()
}

// BuyXGetY gives Y free tickets for every X+Y bought
type BuyXGetY struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// BuyXPercentOff takes Percent off the whole line once MinQty is reached
type BuyXPercentOff struct {
	MinQty  int64           `json:"min_qty"`
	Percent decimal.Decimal `json:"percent"`
}

// AmountOffPerTicket takes Amount off every ticket once MinQty is reached
type AmountOffPerTicket struct {
	MinQty int64 `json:"min_qty"`
	Amount int64 `json:"amount"`
}

// BundlePrice sells every complete bundle of MinQty tickets for Total.
// The remainder is priced at the unit price.
type BundlePrice struct {
	MinQty int64 `json:"min_qty"`
	Total  int64 `json:"total"`
}

func (BuyXGetY) Type() types.BulkRuleType           { return types.BulkRuleTypeBuyXGetY }
func (BuyXPercentOff) Type() types.BulkRuleType     { return types.BulkRuleTypeBuyXPercentOff }
func (AmountOffPerTicket) Type() types.BulkRuleType { return types.BulkRuleTypeAmountOffPerTicket }
func (BundlePrice) Type() types.BulkRuleType        { return types.BulkRuleTypeBundlePrice }

func (BuyXGetY) isBulkRule()           {}
func (BuyXPercentOff) isBulkRule()     {}
func (AmountOffPerTicket) isBulkRule() {}
func (BundlePrice) isBulkRule()        {}

func (r BuyXGetY) Discount(unitPrice, qty int64) int64 {
	if r.X <= 0 || r.Y <= 0 {
		return 0
	}
	freeUnits := qty / (r.X + r.Y) * r.Y
	return freeUnits * unitPrice
}

func (r BuyXPercentOff) Discount(unitPrice, qty int64) int64 {
	if qty < r.MinQty || !r.Percent.IsPositive() {
		return 0
	}
	subtotal := decimal.NewFromInt(unitPrice * qty)
	discount := subtotal.Mul(r.Percent).Div(hundred).Round(0).IntPart()
	return min(discount, unitPrice*qty)
}

func (r AmountOffPerTicket) Discount(unitPrice, qty int64) int64 {
	if qty < r.MinQty || r.Amount <= 0 {
		return 0
	}
	return min(qty*r.Amount, unitPrice*qty)
}

func (r BundlePrice) Discount(unitPrice, qty int64) int64 {
	if r.MinQty <= 0 {
		return 0
	}
	completeBundles := qty / r.MinQty
	// a bundle priced above its tickets never raises the price
	return max(0, completeBundles*(r.MinQty*unitPrice-r.Total))
}

func (r BuyXGetY) Validate() error {
	if r.X <= 0 || r.Y <= 0 {
		return invalidRule(r, "buy_x_get_y requires x and y to be at least 1")
	}
	return nil
}

func (r BuyXPercentOff) Validate() error {
	if r.MinQty <= 0 || r.Percent.IsNegative() || r.Percent.GreaterThan(hundred) {
		return invalidRule(r, "buy_x_percent_off requires min_qty >= 1 and percent between 0 and 100")
	}
	return nil
}

func (r AmountOffPerTicket) Validate() error {
	if r.MinQty <= 0 || r.Amount < 0 {
		return invalidRule(r, "amount_off_per_ticket requires min_qty >= 1 and a non negative amount")
	}
	return nil
}

func (r BundlePrice) Validate() error {
	if r.MinQty <= 0 || r.Total < 0 {
		return invalidRule(r, "bundle_price requires min_qty >= 1 and a non negative total")
	}
	return nil
}

func invalidRule(r BulkRule, hint string) error {
	return ierr.NewError("invalid bulk discount rule").
		WithHint(hint).
		WithReportableDetails(map[string]any{
			"rule_type": r.Type(),
		}).
		Mark(ierr.ErrValidation)
}

// MarshalBulkRule encodes a rule with its rule_type discriminator
func MarshalBulkRule(r BulkRule) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["rule_type"], _ = json.Marshal(r.Type())
	return json.Marshal(fields)
}

// UnmarshalBulkRule decodes a rule_type tagged envelope
func UnmarshalBulkRule(data []byte) (BulkRule, error) {
	var envelope struct {
		RuleType types.BulkRuleType `json:"rule_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Bulk rule is not valid JSON").
			Mark(ierr.ErrValidation)
	}

	var (
		rule BulkRule
		err  error
	)
	switch envelope.RuleType {
	case types.BulkRuleTypeBuyXGetY:
		var r BuyXGetY
		err = json.Unmarshal(data, &r)
		rule = r
	case types.BulkRuleTypeBuyXPercentOff:
		var r BuyXPercentOff
		err = json.Unmarshal(data, &r)
		rule = r
	case types.BulkRuleTypeAmountOffPerTicket:
		var r AmountOffPerTicket
		err = json.Unmarshal(data, &r)
		rule = r
	case types.BulkRuleTypeBundlePrice:
		var r BundlePrice
		err = json.Unmarshal(data, &r)
		rule = r
	default:
		return nil, ierr.NewError("unknown bulk rule type").
			WithHintf("Unsupported bulk rule type %q", envelope.RuleType).
			WithReportableDetails(map[string]any{
				"allowed": []types.BulkRuleType{
					types.BulkRuleTypeBuyXGetY,
					types.BulkRuleTypeBuyXPercentOff,
					types.BulkRuleTypeAmountOffPerTicket,
					types.BulkRuleTypeBundlePrice,
				},
			}).
			Mark(ierr.ErrValidation)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid %s rule", envelope.RuleType).
			Mark(ierr.ErrValidation)
	}
	return rule, nil
}
