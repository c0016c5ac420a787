package shared

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct runs tag validation and converts failures into InvalidInputError.
func ValidateStruct(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &InvalidInputError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out.Fields[strings.ToLower(fe.Field())] = msg
	}
	return out
}
