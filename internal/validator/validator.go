package validator

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
	ierr "github.com/tixello/settlement/internal/errors"
)

var (
	validate *validator.Validate
	once     sync.Once

	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// NewValidator builds the shared validator with the custom tags registered
func NewValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
			return currencyPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

func GetValidator() *validator.Validate {
	return NewValidator()
}

func ValidateRequest(req interface{}) error {
	if err := GetValidator().Struct(req); err != nil {
		details := make(map[string]any)
		var validateErrs validator.ValidationErrors
		if ierr.As(err, &validateErrs) {
			for _, err := range validateErrs {
				details[err.Field()] = err.Error()
			}
		}
		return ierr.WithError(err).
			WithHint("Request validation failed").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}
	return nil
}
