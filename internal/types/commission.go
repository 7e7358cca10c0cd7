package types

import (
	"github.com/samber/lo"
	ierr "github.com/tixello/settlement/internal/errors"
)

// CommissionMode decides who carries the marketplace commission
type CommissionMode string

const (
	// CommissionModeIncluded takes the commission out of the organizer's price
	CommissionModeIncluded CommissionMode = "included"
	// CommissionModeAddedOnTop charges the commission to the customer on top of the price
	CommissionModeAddedOnTop CommissionMode = "added_on_top"
)

func (m CommissionMode) Validate() error {
	if m == "" {
		return nil
	}

	allowed := []CommissionMode{
		CommissionModeIncluded,
		CommissionModeAddedOnTop,
	}
	if !lo.Contains(allowed, m) {
		return ierr.NewError("invalid commission mode").
			WithHint("Commission mode must be one of included or added_on_top").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"mode":    m,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
