package models

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report wire names ("organization") rather than Go names ("Organization").
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks the struct tags of v. Empty required fields are reported as a
// *MissingFieldsError; any other rule violation is returned unchanged.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	missing := &MissingFieldsError{}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if":
			missing.Fields = append(missing.Fields, fe.Field())
		default:
			return err
		}
	}
	return missing
}
