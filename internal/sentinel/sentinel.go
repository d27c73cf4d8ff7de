// Package sentinel defines a string-backed error type so that sentinel
// errors can be declared as constants.
//
// A const cannot be reassigned by importing packages, unlike a var holding
// the result of errors.New. Values compare by content, so errors.Is matches
// them through any number of %w wraps.
package sentinel

var _ error = Error("")

// Error is a constant-declarable error.
type Error string

// Error implements the error interface.
func (e Error) Error() string {
	return string(e)
}
