package ocfl

import (
	"errors"

	"github.com/ocflkit/ocfl-go/validation"
)

// Validation accumulates fatal errors and warnings.
type Validation struct {
	fatal []error
	warn  []error
}

// AddFatal adds fatal errors to the validation
func (v *Validation) AddFatal(errs ...error) {
	v.fatal = append(v.fatal, errs...)
}

// AddWarn adds warning errors to the validation
func (v *Validation) AddWarn(errs ...error) {
	v.warn = append(v.warn, errs...)
}

// Add adds all fatal errors and warnings from v2 to v.
func (v *Validation) Add(v2 *Validation) {
	if v2 == nil {
		return
	}
	v.AddFatal(v2.fatal...)
	v.AddWarn(v2.warn...)
}

// Err returns an error wrapping all the validation's fatal errors, or nil if
// there are no fatal errors.
func (v *Validation) Err() error {
	if len(v.fatal) == 0 {
		return nil
	}
	return errors.Join(v.fatal...)
}

// Errors returns the validation's fatal errors.
func (v *Validation) Errors() []error {
	return v.fatal
}

// WarnErr returns an error wrapping all the validation's warnings, or nil if
// there are none.
func (v *Validation) WarnErr() error {
	if len(v.warn) == 0 {
		return nil
	}
	return errors.Join(v.warn...)
}

// WarnErrors returns the validation's warning errors.
func (v *Validation) WarnErrors() []error {
	return v.warn
}

// ValidationError is an error returned from validation check that includes a
// reference to a validation error code from the OCFL spec.
type ValidationError struct {
	validation.ValidationCode
	Err error
}

func (ver *ValidationError) Error() string {
	return ver.Err.Error()
}

func (ver *ValidationError) Unwrap() error {
	return ver.Err
}

// verr builds a ValidationError, wrapping err and associating the validation
// code. If code is nil, err is returned as-is.
func verr(err error, code *validation.ValidationCode) error {
	if code == nil {
		return err
	}
	return &ValidationError{
		Err:            err,
		ValidationCode: *code,
	}
}
