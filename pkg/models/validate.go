package models

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func instance() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// Validate runs struct-tag validation over any request DTO in this
// package (BatchRequest, ServiceInstance, NewOutboxMessage, ...).
// Wraps the first validation failure in a ValidationError-kind
// CoordinatorError so callers get the same error taxonomy as the rest
// of the coordinator.
func Validate(v any) error {
	if err := instance().Struct(v); err != nil {
		return NewCoordinatorError(ErrKindValidationError, "request validation failed", err)
	}
	return nil
}
