package service

import (
	"context"
	"time"

	"github.com/tixello/settlement/internal/api/dto"
	"github.com/tixello/settlement/internal/cache"
	"github.com/tixello/settlement/internal/domain/discountcode"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

// DiscountCodeService looks codes up and moves their usage counters. The
// codes themselves are managed by the campaign and organizer tools.
type DiscountCodeService interface {
	Create(ctx context.Context, req *dto.CreateDiscountCodeRequest) (*discountcode.DiscountCode, error)
	Get(ctx context.Context, id string) (*discountcode.DiscountCode, error)
	GetByCode(ctx context.Context, code string) (*discountcode.DiscountCode, error)
	// ValidateCode is a dry run: it reports what the code would take off
	// the cart without recording a usage
	ValidateCode(ctx context.Context, req *dto.ValidateDiscountCodeRequest) (*dto.ValidateDiscountCodeResponse, error)
	// CustomerUsage counts the customer's unreversed uses per code id
	CustomerUsage(ctx context.Context, codes []*discountcode.DiscountCode, customerID string) (map[string]int64, error)
	// RecordUsage takes one use of the code for the order. A retry of the
	// same order gets its earlier redemption back.
	RecordUsage(ctx context.Context, code *discountcode.DiscountCode, customerID, orderRef string) (*discountcode.Redemption, error)
	OrderRedemptions(ctx context.Context, orderRef string) ([]*discountcode.Redemption, error)
	ReverseUsage(ctx context.Context, codeID, redemptionID string) (*discountcode.Redemption, error)
}

type discountCodeService struct {
	ServiceParams
}

func NewDiscountCodeService(params ServiceParams) DiscountCodeService {
	return &discountCodeService{ServiceParams: params}
}

func (s *discountCodeService) Create(ctx context.Context, req *dto.CreateDiscountCodeRequest) (*discountcode.DiscountCode, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	code := req.ToDiscountCode(ctx)
	if err := code.Validate(); err != nil {
		return nil, err
	}
	if err := s.DiscountCodeRepo.Create(ctx, code); err != nil {
		return nil, err
	}

	s.Logger.Infow("created discount code",
		"discount_code_id", code.ID,
		"code", code.Code,
		"source", code.Source,
		"type", code.Type,
	)
	return code, nil
}

func (s *discountCodeService) Get(ctx context.Context, id string) (*discountcode.DiscountCode, error) {
	return s.DiscountCodeRepo.Get(ctx, id)
}

// GetByCode resolves through the id cache. The row is always read fresh
// since usage_count moves.
func (s *discountCodeService) GetByCode(ctx context.Context, code string) (*discountcode.DiscountCode, error) {
	normalized := types.NormalizeDiscountCode(code)
	key := cache.GenerateKey(cache.PrefixDiscountCode, types.GetTenantID(ctx), normalized)
	if cached, found := s.Cache.Get(ctx, key); found {
		if id, ok := cached.(string); ok {
			if c, err := s.DiscountCodeRepo.Get(ctx, id); err == nil {
				return c, nil
			}
			s.Cache.Delete(ctx, key)
		}
	}

	c, err := s.DiscountCodeRepo.GetByCode(ctx, normalized)
	if err != nil {
		return nil, err
	}
	s.Cache.Set(ctx, key, c.ID, 0)
	return c, nil
}

func (s *discountCodeService) ValidateCode(ctx context.Context, req *dto.ValidateDiscountCodeRequest) (*dto.ValidateDiscountCodeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	normalized := types.NormalizeDiscountCode(req.Code)
	resp := &dto.ValidateDiscountCodeResponse{Code: normalized}

	c, err := s.GetByCode(ctx, normalized)
	if err != nil {
		if ierr.IsNotFound(err) {
			resp.Reason = types.DiscountRejectionCodeNotFound
			resp.Message = "This discount code does not exist"
			return resp, nil
		}
		return nil, err
	}

	usage, err := s.CustomerUsage(ctx, []*discountcode.DiscountCode{c}, req.CustomerID)
	if err != nil {
		return nil, err
	}

	amount, err := s.DiscountResolver.EvaluateCode(c, &DiscountResolveRequest{
		Lines:         req.Lines,
		Codes:         []*discountcode.DiscountCode{c},
		CustomerUsage: usage,
		Now:           time.Now().UTC(),
	})
	if err != nil {
		var codeErr *DiscountCodeError
		if ierr.As(err, &codeErr) {
			resp.Reason = codeErr.Reason
			resp.Message = hintOf(err)
			return resp, nil
		}
		return nil, err
	}

	resp.Valid = true
	resp.DiscountAmount = amount
	return resp, nil
}

func (s *discountCodeService) CustomerUsage(ctx context.Context, codes []*discountcode.DiscountCode, customerID string) (map[string]int64, error) {
	usage := make(map[string]int64, len(codes))
	if customerID == "" {
		return usage, nil
	}
	for _, c := range codes {
		if c.UsageLimitPerCustomer == nil {
			continue
		}
		count, err := s.DiscountCodeRepo.CountCustomerUsage(ctx, c.ID, customerID)
		if err != nil {
			return nil, err
		}
		usage[c.ID] = count
	}
	return usage, nil
}

func (s *discountCodeService) RecordUsage(ctx context.Context, code *discountcode.DiscountCode, customerID, orderRef string) (*discountcode.Redemption, error) {
	redemption := &discountcode.Redemption{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_DISCOUNT_CODE_REDEMPTION),
		DiscountCodeID: code.ID,
		CustomerID:     customerID,
		OrderRef:       orderRef,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	stored, err := s.DiscountCodeRepo.RecordUsage(ctx, redemption)
	if err != nil {
		return nil, err
	}
	if stored.ID != redemption.ID {
		s.Logger.Infow("reusing discount code usage of order",
			"discount_code_id", code.ID,
			"redemption_id", stored.ID,
			"order_ref", orderRef,
		)
		return stored, nil
	}

	s.Logger.Infow("recorded discount code usage",
		"discount_code_id", code.ID,
		"code", code.Code,
		"redemption_id", redemption.ID,
		"order_ref", orderRef,
	)
	return stored, nil
}

func (s *discountCodeService) OrderRedemptions(ctx context.Context, orderRef string) ([]*discountcode.Redemption, error) {
	if orderRef == "" {
		return nil, nil
	}
	return s.DiscountCodeRepo.ListOrderRedemptions(ctx, orderRef)
}

func (s *discountCodeService) ReverseUsage(ctx context.Context, codeID, redemptionID string) (*discountcode.Redemption, error) {
	redemption, err := s.DiscountCodeRepo.GetRedemption(ctx, redemptionID)
	if err != nil {
		return nil, err
	}
	if redemption.DiscountCodeID != codeID {
		return nil, ierr.NewError("redemption does not belong to discount code").
			WithHint("Discount code usage not found").
			WithReportableDetails(map[string]any{
				"discount_code_id": codeID,
				"redemption_id":    redemptionID,
			}).
			Mark(ierr.ErrNotFound)
	}

	reversed, err := s.DiscountCodeRepo.ReverseUsage(ctx, redemptionID)
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("reversed discount code usage",
		"discount_code_id", codeID,
		"redemption_id", redemptionID,
		"order_ref", reversed.OrderRef,
	)
	return reversed, nil
}
