package api

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the requested entity does not exist for the
// caller's tenant. A cross-tenant lookup is indistinguishable from a
// missing row on purpose.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NewNotFoundError creates a NotFoundError for a resource
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ForbiddenError indicates the caller is not allowed to act on an entity
// it can otherwise see (e.g. a non-owner mutating a shared dashboard).
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason == "" {
		return "access denied"
	}
	return e.Reason
}

// NewForbiddenError creates a ForbiddenError with a reason
func NewForbiddenError(reason string) *ForbiddenError {
	return &ForbiddenError{Reason: reason}
}

// IsForbidden reports whether err is a ForbiddenError
func IsForbidden(err error) bool {
	var f *ForbiddenError
	return errors.As(err, &f)
}

// ConflictError indicates a uniqueness violation (duplicate subdomain,
// duplicate email).
type ConflictError struct {
	Resource string
	Field    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with this %s already exists", e.Resource, e.Field)
}

// NewConflictError creates a ConflictError
func NewConflictError(resource, field string) *ConflictError {
	return &ConflictError{Resource: resource, Field: field}
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// ValidationError indicates malformed caller input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
