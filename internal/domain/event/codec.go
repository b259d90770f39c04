package event

import (
	"errors"
	"reflect"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report wire names rather than Go field names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// Decode parses a raw event document and normalizes its identifiers. It does
// not check mandatory fields; call Validate for that.
func Decode(raw []byte) (*Event, error) {
	var evt Event
	if err := sonic.ConfigStd.Unmarshal(raw, &evt); err != nil {
		return nil, &DeserializationError{Err: err}
	}
	evt.normalize()
	return &evt, nil
}

// Validate checks that every mandatory field is present and non-empty.
func (e *Event) Validate() error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: []string{err.Error()}}
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
	}
	return &ValidationError{Fields: fields}
}

// Parse decodes and validates raw in one step.
func Parse(raw []byte) (*Event, error) {
	evt, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return evt, nil
}
