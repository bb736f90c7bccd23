package template

import (
	"errors"
	"fmt"
)

var (
	ErrUnimplementedPolicy  = errors.New("policy is not implemented")
	ErrUnknownRecType       = errors.New("unknown record type")
	ErrUnknownField         = errors.New("unknown field")
	ErrMissingFixedTemplate = errors.New("missing fixed template")
	ErrInvalidDirective     = errors.New("invalid directive")
	ErrUnsupportedDatatype  = errors.New("unsupported datatype")
	ErrReservedFieldName    = errors.New("reserved field name")
)

// SchemaError is a hard failure caused by the template of a collection.
type SchemaError struct {
	RecType string
	Field   string
	Policy  string
	Err     error
}

func (e *SchemaError) Error() string {
	msg := e.Err.Error()
	if e.Policy != "" {
		msg = fmt.Sprintf("%s (policy=%s)", msg, e.Policy)
	}
	switch {
	case e.RecType != "" && e.Field != "":
		return fmt.Sprintf("schema error: %s.%s: %s", e.RecType, e.Field, msg)
	case e.RecType != "":
		return fmt.Sprintf("schema error: %s: %s", e.RecType, msg)
	}
	return "schema error: " + msg
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}
