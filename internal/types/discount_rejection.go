package types

// DiscountRejectionReason is the machine readable reason a discount code was not applied
type DiscountRejectionReason string

const (
	DiscountRejectionCodeNotFound      DiscountRejectionReason = "CODE_NOT_FOUND"
	DiscountRejectionCodeNotActive     DiscountRejectionReason = "CODE_NOT_ACTIVE"
	DiscountRejectionCodeNotStarted    DiscountRejectionReason = "CODE_NOT_STARTED"
	DiscountRejectionCodeExpired       DiscountRejectionReason = "CODE_EXPIRED"
	DiscountRejectionUsageLimitReached DiscountRejectionReason = "USAGE_LIMIT_REACHED"
	DiscountRejectionCustomerLimit     DiscountRejectionReason = "CUSTOMER_LIMIT_REACHED"
	DiscountRejectionMinPurchase       DiscountRejectionReason = "MIN_PURCHASE_NOT_MET"
	DiscountRejectionMinTickets        DiscountRejectionReason = "MIN_TICKETS_NOT_MET"
	DiscountRejectionScopeMismatch     DiscountRejectionReason = "SCOPE_MISMATCH"
	DiscountRejectionCurrencyMismatch  DiscountRejectionReason = "CURRENCY_MISMATCH"
	DiscountRejectionNotCombinable     DiscountRejectionReason = "NOT_COMBINABLE"
)

func (r DiscountRejectionReason) String() string {
	return string(r)
}
