// Package fault defines the error taxonomy shared by the core engines.
//
// Errors carry a Kind matchable with errors.Is, so HTTP glue can map
// a whole class to a status code without knowing every concrete error:
//
//	if errors.Is(err, fault.Conflict) { ... 409 ... }
//
// Concrete errors (OutOfRange, MandatoryStepPending, ...) are typed and
// matchable with errors.As when the caller needs the detail.
package fault

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for retry and reporting policy.
type Kind int

const (
	// Validation is bad input shape. Never retried.
	Validation Kind = iota + 1
	// Conflict is a state conflict (ownership mismatch, pending
	// mandatory step, duplicate mapping). Caller may resolve and retry.
	Conflict
	// NotFound is a missing referenced entity.
	NotFound
	// Transient is a store-level lock timeout or transient I/O error.
	// Safe to retry the whole transactional unit.
	Transient
	// Delivery is a report delivery transport failure. Does not roll
	// back the computed payload or the schedule decision.
	Delivery
)

func (k Kind) Error() string {
	switch k {
	case Validation:
		return "validation error"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not found"
	case Transient:
		return "transient store error"
	case Delivery:
		return "delivery failed"
	}
	return "unknown error"
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() error   { return e.err }
func (e *kindError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.kind
}

// Wrap attaches a kind to err. Returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind, err}
}

// New builds a kinded error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &kindError{kind, errors.Errorf(format, args...)}
}

// KindOf reports the kind attached to err, or 0 if none.
func KindOf(err error) Kind {
	for _, k := range []Kind{Validation, Conflict, NotFound, Transient, Delivery} {
		if errors.Is(err, k) {
			return k
		}
	}
	return 0
}

// OutOfRangeError reports a reposition target outside [1, N].
type OutOfRangeError struct {
	Position int
	Max      int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("position %d out of range [1, %d]", e.Position, e.Max)
}
func (e *OutOfRangeError) Is(target error) bool { return target == Validation }

// InvalidFieldDefinitionError reports a field definition that fails
// type/options validation.
type InvalidFieldDefinitionError struct {
	FieldType string
	Reason    string
}

func (e *InvalidFieldDefinitionError) Error() string {
	return fmt.Sprintf("invalid %s field definition: %s", e.FieldType, e.Reason)
}
func (e *InvalidFieldDefinitionError) Is(target error) bool { return target == Validation }

// RequiredValueMissingError reports an empty value for a required field.
type RequiredValueMissingError struct {
	FieldID string
	Label   string
}

func (e *RequiredValueMissingError) Error() string {
	return fmt.Sprintf("required field %q has no value", e.Label)
}
func (e *RequiredValueMissingError) Is(target error) bool { return target == Validation }

// ValueNotInChoicesError reports a select/checkbox value outside the
// field's configured choices.
type ValueNotInChoicesError struct {
	FieldID string
	Value   string
}

func (e *ValueNotInChoicesError) Error() string {
	return fmt.Sprintf("value %q is not among the field's choices", e.Value)
}
func (e *ValueNotInChoicesError) Is(target error) bool { return target == Validation }

// MissingRequiredFieldError reports a submission lacking an answer for
// a required field.
type MissingRequiredFieldError struct {
	FieldID string
	Label   string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("missing answer for required field %q", e.Label)
}
func (e *MissingRequiredFieldError) Is(target error) bool { return target == Validation }

// FieldNotInFormError reports an answer referencing a field that does
// not belong to the submitted form.
type FieldNotInFormError struct {
	FieldID string
	FormID  string
}

func (e *FieldNotInFormError) Error() string {
	return fmt.Sprintf("field %s does not belong to form %s", e.FieldID, e.FormID)
}
func (e *FieldNotInFormError) Is(target error) bool { return target == Validation }

// FormNotAcceptingSubmissionsError reports a submission against an
// inactive form.
type FormNotAcceptingSubmissionsError struct {
	FormID string
}

func (e *FormNotAcceptingSubmissionsError) Error() string {
	return fmt.Sprintf("form %s is not accepting submissions", e.FormID)
}
func (e *FormNotAcceptingSubmissionsError) Is(target error) bool { return target == Conflict }

// MandatoryStepPendingError reports a linear-workflow completion
// blocked by an earlier mandatory step.
type MandatoryStepPendingError struct {
	StepID string
	Name   string
}

func (e *MandatoryStepPendingError) Error() string {
	return fmt.Sprintf("mandatory step %q must be completed first", e.Name)
}
func (e *MandatoryStepPendingError) Is(target error) bool { return target == Conflict }

// OwnershipMismatchError reports a step whose linked form belongs to a
// different owner than its process.
type OwnershipMismatchError struct {
	FormID    string
	ProcessID string
}

func (e *OwnershipMismatchError) Error() string {
	return fmt.Sprintf("form %s and process %s have different owners", e.FormID, e.ProcessID)
}
func (e *OwnershipMismatchError) Is(target error) bool { return target == Conflict }

// DeliveryFailedError reports a report delivery transport error. The
// computed payload travels with it so the caller can retry delivery.
type DeliveryFailedError struct {
	Channel string
	Cause   error
}

func (e *DeliveryFailedError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Cause)
}
func (e *DeliveryFailedError) Unwrap() error        { return e.Cause }
func (e *DeliveryFailedError) Is(target error) bool { return target == Delivery }
