// ==============================================================================
// VALIDATOR PACKAGE - pkg/validator/validator.go
// ==============================================================================
// Struct-tag validation for request types. Field names in results follow the
// json tag so they match what the client sent.
package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{validate: validator.New()}
	v.validate.RegisterTagNameFunc(jsonName)
	v.validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	_ = v.validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return currencyCode.MatchString(fl.Field().String())
	})
	return v
}

// Validate reports every failing field in one error, sorted by field name.
func (v *Validator) Validate(i interface{}) error {
	fields := v.ValidateStructured(i)
	if fields == nil {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for n, name := range names {
		parts[n] = name + ": " + fields[name]
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, "; "))
}

// ValidateStructured returns field -> message for API responses, or nil when
// the value is valid. Input that is not a struct is reported under "request".
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	failures, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"request": err.Error()}
	}
	fields := make(map[string]string, len(failures))
	for _, e := range failures {
		fields[e.Field()] = message(e)
	}
	return fields
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be an email address"
	case "currency":
		return "must be an ISO 4217 currency code"
	case "oneof":
		return "must be one of: " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "must be at most " + e.Param() + " characters"
		}
		return "must be at most " + e.Param()
	case "min":
		if e.Kind() == reflect.String {
			return "must be at least " + e.Param() + " characters"
		}
		return "must be at least " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	default:
		return "failed " + e.Tag() + " check"
	}
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// decimalValue lets numeric tags such as gt and required see a decimal as a float.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}
