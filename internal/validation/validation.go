// Package validation holds the single robot validator shared by every store
// backend.
//
// Rules are declared as `validate` tags on model.RobotInput and checked by
// go-playground/validator; the custom "robotyear" tag evaluates the current
// calendar year at validation time, never at startup.
package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"robots-backend/internal/errs"
	"robots-backend/internal/model"
)

// MinYear is the oldest accepted construction year.
const MinYear = 1950

// Validator checks robot inputs. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// New builds a Validator using now as the clock for the year upper bound.
func New(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	v := &Validator{validate: validator.New(), now: now}

	// Report json field names ("year") instead of Go names ("Year").
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.validate.RegisterValidation("robotyear", func(fl validator.FieldLevel) bool {
		year := fl.Field().Int()
		return year >= MinYear && year <= int64(v.CurrentYear())
	})

	return v
}

// Default returns a Validator backed by the wall clock.
func Default() *Validator {
	return New(time.Now)
}

// CurrentYear is the upper bound for model.RobotInput.Year.
func (v *Validator) CurrentYear() int {
	return v.now().Year()
}

// Robot validates an already-normalized input and returns an
// *errs.ValidationError listing every violated rule, or nil.
func (v *Validator) Robot(in model.RobotInput) error {
	err := v.validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return errs.NewValidationError(errs.Violation{Message: err.Error()})
	}

	violations := make([]errs.Violation, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		violations = append(violations, errs.Violation{
			Field:   fe.Field(),
			Message: v.message(fe),
		})
	}
	return errs.NewValidationError(violations...)
}

func (v *Validator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must not exceed %s characters", fe.Param())
		}
		return fmt.Sprintf("must not exceed %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "robotyear":
		return fmt.Sprintf("must be between %d and %d", MinYear, v.CurrentYear())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s:%s", fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}

// IntegerYear converts a decoded numeric year, rejecting fractional values.
// A zero year yields the current year, the default used by imports.
func (v *Validator) IntegerYear(raw float64) (int, error) {
	if raw == 0 {
		return v.CurrentYear(), nil
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw != math.Trunc(raw) {
		return 0, errs.NewValidationError(errs.Violation{Field: "year", Message: "must be an integer"})
	}
	return int(raw), nil
}
