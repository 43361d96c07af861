package kickstart

import (
	"errors"
	"fmt"
)

// Report is the outcome of reading a kickstart.
type Report struct {
	Errors   []string
	Warnings []string
}

// IsValid reports whether the document was accepted.
func (r Report) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError records err. Errors built by errors.Join are recorded one by one.
func (r *Report) AddError(err error) {
	if err == nil {
		return
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			r.AddError(e)
		}
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

func (r *Report) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Merge appends the messages of other.
func (r *Report) Merge(other Report) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Err returns the errors as one error, nil for a valid report.
func (r Report) Err() error {
	if r.IsValid() {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, msg := range r.Errors {
		errs = append(errs, errors.New(msg))
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
