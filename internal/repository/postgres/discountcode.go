package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/tixello/settlement/internal/domain/discountcode"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/postgres"
	"github.com/tixello/settlement/internal/types"
)

const discountCodeColumns = `
	id, tenant_id, code, source, organizer_id, type, value, max_discount_amount,
	min_purchase_amount, min_tickets, starts_at, expires_at, status, usage_limit_total,
	usage_limit_per_customer, usage_count, scope_kind, scope_ids, currency, combinable,
	created_at, updated_at, created_by, updated_by`

const redemptionColumns = `
	id, tenant_id, discount_code_id, customer_id, order_ref, reversed_at,
	created_at, updated_at, created_by, updated_by`

// discountCodeRow is the table shape of a discount code
type discountCodeRow struct {
	ID                    string                   `db:"id"`
	Code                  string                   `db:"code"`
	Source                types.DiscountCodeSource `db:"source"`
	OrganizerID           *string                  `db:"organizer_id"`
	Type                  types.DiscountCodeType   `db:"type"`
	Value                 decimal.Decimal          `db:"value"`
	MaxDiscountAmount     *int64                   `db:"max_discount_amount"`
	MinPurchaseAmount     int64                    `db:"min_purchase_amount"`
	MinTickets            int64                    `db:"min_tickets"`
	StartsAt              *time.Time               `db:"starts_at"`
	ExpiresAt             *time.Time               `db:"expires_at"`
	Status                types.DiscountCodeStatus `db:"status"`
	UsageLimitTotal       *int64                   `db:"usage_limit_total"`
	UsageLimitPerCustomer *int64                   `db:"usage_limit_per_customer"`
	UsageCount            int64                    `db:"usage_count"`
	ScopeKind             types.DiscountScopeKind  `db:"scope_kind"`
	ScopeIDs              pq.StringArray           `db:"scope_ids"`
	Currency              *string                  `db:"currency"`
	Combinable            bool                     `db:"combinable"`
	types.BaseModel
}

func (r *discountCodeRow) toDomain() *discountcode.DiscountCode {
	return &discountcode.DiscountCode{
		ID:                    r.ID,
		Code:                  r.Code,
		Source:                r.Source,
		OrganizerID:           r.OrganizerID,
		Type:                  r.Type,
		Value:                 r.Value,
		MaxDiscountAmount:     r.MaxDiscountAmount,
		MinPurchaseAmount:     r.MinPurchaseAmount,
		MinTickets:            r.MinTickets,
		StartsAt:              r.StartsAt,
		ExpiresAt:             r.ExpiresAt,
		Status:                r.Status,
		UsageLimitTotal:       r.UsageLimitTotal,
		UsageLimitPerCustomer: r.UsageLimitPerCustomer,
		UsageCount:            r.UsageCount,
		Scope: discountcode.Scope{
			Kind: r.ScopeKind,
			IDs:  []string(r.ScopeIDs),
		},
		Currency:   r.Currency,
		Combinable: r.Combinable,
		BaseModel:  r.BaseModel,
	}
}

func discountCodeRowFromDomain(c *discountcode.DiscountCode) *discountCodeRow {
	ids := c.Scope.IDs
	if ids == nil {
		ids = []string{}
	}
	return &discountCodeRow{
		ID:                    c.ID,
		Code:                  c.Code,
		Source:                c.Source,
		OrganizerID:           c.OrganizerID,
		Type:                  c.Type,
		Value:                 c.Value,
		MaxDiscountAmount:     c.MaxDiscountAmount,
		MinPurchaseAmount:     c.MinPurchaseAmount,
		MinTickets:            c.MinTickets,
		StartsAt:              c.StartsAt,
		ExpiresAt:             c.ExpiresAt,
		Status:                c.Status,
		UsageLimitTotal:       c.UsageLimitTotal,
		UsageLimitPerCustomer: c.UsageLimitPerCustomer,
		UsageCount:            c.UsageCount,
		ScopeKind:             c.Scope.Kind,
		ScopeIDs:              pq.StringArray(ids),
		Currency:              c.Currency,
		Combinable:            c.Combinable,
		BaseModel:             c.BaseModel,
	}
}

type discountCodeRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewDiscountCodeRepository(db *postgres.DB, logger *logger.Logger) discountcode.Repository {
	return &discountCodeRepository{
		db:     db,
		logger: logger,
	}
}

func (r *discountCodeRepository) Create(ctx context.Context, c *discountcode.DiscountCode) error {
	query := `
		INSERT INTO discount_codes (` + discountCodeColumns + `
		) VALUES (
			:id, :tenant_id, :code, :source, :organizer_id, :type, :value, :max_discount_amount,
			:min_purchase_amount, :min_tickets, :starts_at, :expires_at, :status, :usage_limit_total,
			:usage_limit_per_customer, :usage_count, :scope_kind, :scope_ids, :currency, :combinable,
			:created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := r.db.NamedExecContext(ctx, query, discountCodeRowFromDomain(c)); err != nil {
		return dbError(err, "Failed to create discount code")
	}
	return nil
}

func (r *discountCodeRepository) Get(ctx context.Context, id string) (*discountcode.DiscountCode, error) {
	return r.getBy(ctx, "id", id)
}

func (r *discountCodeRepository) GetByCode(ctx context.Context, code string) (*discountcode.DiscountCode, error) {
	return r.getBy(ctx, "code", types.NormalizeDiscountCode(code))
}

func (r *discountCodeRepository) getBy(ctx context.Context, column, value string) (*discountcode.DiscountCode, error) {
	query := `SELECT ` + discountCodeColumns + ` FROM discount_codes
		WHERE ` + column + ` = :value AND tenant_id = :tenant_id`

	var row discountCodeRow
	err := r.db.NamedGetContext(ctx, &row, query, map[string]interface{}{
		"value":     value,
		"tenant_id": types.GetTenantID(ctx),
	})
	if err != nil {
		return nil, dbError(err, "Discount code not found")
	}
	return row.toDomain(), nil
}

func (r *discountCodeRepository) CountCustomerUsage(ctx context.Context, codeID, customerID string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM discount_code_redemptions
		WHERE discount_code_id = :discount_code_id
		AND customer_id = :customer_id
		AND tenant_id = :tenant_id
		AND reversed_at IS NULL`

	var count int64
	err := r.db.NamedGetContext(ctx, &count, query, map[string]interface{}{
		"discount_code_id": codeID,
		"customer_id":      customerID,
		"tenant_id":        types.GetTenantID(ctx),
	})
	if err != nil {
		return 0, dbError(err, "Failed to count discount code usage")
	}
	return count, nil
}

func (r *discountCodeRepository) ListOrderRedemptions(ctx context.Context, orderRef string) ([]*discountcode.Redemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM discount_code_redemptions
		WHERE order_ref = :order_ref
		AND order_ref <> ''
		AND tenant_id = :tenant_id
		AND reversed_at IS NULL
		ORDER BY created_at`

	var reds []*discountcode.Redemption
	err := r.db.NamedSelectContext(ctx, &reds, query, map[string]interface{}{
		"order_ref": orderRef,
		"tenant_id": types.GetTenantID(ctx),
	})
	if err != nil {
		return nil, dbError(err, "Failed to list order redemptions")
	}
	return reds, nil
}

// codeLimits is the part of a code row RecordUsage locks and checks
type codeLimits struct {
	Status                types.DiscountCodeStatus `db:"status"`
	UsageCount            int64                    `db:"usage_count"`
	UsageLimitTotal       *int64                   `db:"usage_limit_total"`
	UsageLimitPerCustomer *int64                   `db:"usage_limit_per_customer"`
}

// RecordUsage holds the code row lock for the whole check and write, so
// orders racing for the last use, or one customer racing their own limit,
// are serialized
func (r *discountCodeRepository) RecordUsage(ctx context.Context, red *discountcode.Redemption) (*discountcode.Redemption, error) {
	stored := red
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		lock := `
			SELECT status, usage_count, usage_limit_total, usage_limit_per_customer
			FROM discount_codes
			WHERE id = :id AND tenant_id = :tenant_id
			FOR UPDATE`

		var limits codeLimits
		if err := r.db.NamedGetContext(ctx, &limits, lock, map[string]interface{}{
			"id":        red.DiscountCodeID,
			"tenant_id": red.TenantID,
		}); err != nil {
			return dbError(err, "Discount code not found")
		}

		if red.OrderRef != "" {
			existing := `SELECT ` + redemptionColumns + ` FROM discount_code_redemptions
				WHERE discount_code_id = :discount_code_id
				AND order_ref = :order_ref
				AND tenant_id = :tenant_id
				AND reversed_at IS NULL
				LIMIT 1`

			var found []*discountcode.Redemption
			if err := r.db.NamedSelectContext(ctx, &found, existing, map[string]interface{}{
				"discount_code_id": red.DiscountCodeID,
				"order_ref":        red.OrderRef,
				"tenant_id":        red.TenantID,
			}); err != nil {
				return dbError(err, "Failed to look up order redemption")
			}
			if len(found) > 0 {
				stored = found[0]
				return nil
			}
		}

		if limits.Status != types.DiscountCodeStatusActive ||
			(limits.UsageLimitTotal != nil && limits.UsageCount >= *limits.UsageLimitTotal) {
			return ierr.NewError("discount code usage limit reached").
				WithHint("This discount code has been fully used").
				WithReportableDetails(map[string]any{
					"discount_code_id": red.DiscountCodeID,
				}).
				Mark(ierr.ErrExpiredOrExhausted)
		}

		if limits.UsageLimitPerCustomer != nil && red.CustomerID != "" {
			used, err := r.CountCustomerUsage(ctx, red.DiscountCodeID, red.CustomerID)
			if err != nil {
				return err
			}
			if used >= *limits.UsageLimitPerCustomer {
				return ierr.NewError("discount code customer limit reached").
					WithHint("You have already used this discount code the maximum number of times").
					WithReportableDetails(map[string]any{
						"discount_code_id": red.DiscountCodeID,
						"customer_id":      red.CustomerID,
					}).
					Mark(ierr.ErrExpiredOrExhausted)
			}
		}

		update := `
			UPDATE discount_codes
			SET
				usage_count = usage_count + 1,
				status = CASE
					WHEN usage_limit_total IS NOT NULL AND usage_count + 1 >= usage_limit_total
					THEN :exhausted
					ELSE status
				END,
				updated_at = NOW(),
				updated_by = :updated_by
			WHERE id = :id AND tenant_id = :tenant_id`

		if _, err := r.db.NamedExecContext(ctx, update, map[string]interface{}{
			"id":         red.DiscountCodeID,
			"tenant_id":  red.TenantID,
			"exhausted":  types.DiscountCodeStatusExhausted,
			"updated_by": types.GetUserID(ctx),
		}); err != nil {
			return dbError(err, "Failed to record discount code usage")
		}

		insert := `
			INSERT INTO discount_code_redemptions (` + redemptionColumns + `
			) VALUES (
				:id, :tenant_id, :discount_code_id, :customer_id, :order_ref, :reversed_at,
				:created_at, :updated_at, :created_by, :updated_by
			)`
		if _, err := r.db.NamedExecContext(ctx, insert, red); err != nil {
			return dbError(err, "Failed to store discount code redemption")
		}

		r.logger.Debugw("recorded discount code usage",
			"discount_code_id", red.DiscountCodeID,
			"redemption_id", red.ID,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *discountCodeRepository) ReverseUsage(ctx context.Context, redemptionID string) (*discountcode.Redemption, error) {
	var red discountcode.Redemption
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		reverse := `
			UPDATE discount_code_redemptions
			SET
				reversed_at = NOW(),
				updated_at = NOW(),
				updated_by = :updated_by
			WHERE id = :id
			AND tenant_id = :tenant_id
			AND reversed_at IS NULL
			RETURNING ` + redemptionColumns

		err := r.db.NamedGetContext(ctx, &red, reverse, map[string]interface{}{
			"id":         redemptionID,
			"tenant_id":  types.GetTenantID(ctx),
			"updated_by": types.GetUserID(ctx),
		})
		if err != nil {
			existing, getErr := r.GetRedemption(ctx, redemptionID)
			if getErr != nil {
				return getErr
			}
			if existing.IsReversed() {
				return ierr.NewError("redemption already reversed").
					WithHint("This discount code usage was already reversed").
					WithReportableDetails(map[string]any{
						"redemption_id": redemptionID,
					}).
					Mark(ierr.ErrInvalidOperation)
			}
			return dbError(err, "Failed to reverse discount code usage")
		}

		// an exhausted code only goes back to active when this use was what exhausted it
		decrement := `
			UPDATE discount_codes
			SET
				usage_count = usage_count - 1,
				status = CASE
					WHEN status = :exhausted AND usage_limit_total IS NOT NULL AND usage_count - 1 < usage_limit_total
					THEN :active
					ELSE status
				END,
				updated_at = NOW()
			WHERE id = :id AND tenant_id = :tenant_id AND usage_count > 0`
		if _, err := r.db.NamedExecContext(ctx, decrement, map[string]interface{}{
			"id":        red.DiscountCodeID,
			"tenant_id": red.TenantID,
			"exhausted": types.DiscountCodeStatusExhausted,
			"active":    types.DiscountCodeStatusActive,
		}); err != nil {
			return dbError(err, "Failed to release discount code usage")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &red, nil
}

func (r *discountCodeRepository) GetRedemption(ctx context.Context, redemptionID string) (*discountcode.Redemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM discount_code_redemptions
		WHERE id = :id AND tenant_id = :tenant_id`

	var red discountcode.Redemption
	err := r.db.NamedGetContext(ctx, &red, query, map[string]interface{}{
		"id":        redemptionID,
		"tenant_id": types.GetTenantID(ctx),
	})
	if err != nil {
		return nil, dbError(err, "Discount code redemption not found")
	}
	return &red, nil
}
