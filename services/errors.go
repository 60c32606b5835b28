package services

import "errors"

var (
	ErrDuplicateOrOverLimit = errors.New("receipt is a duplicate or the submission limit is reached")
	ErrRequestNotFound      = errors.New("verification request not found")
	ErrAwardNotFound        = errors.New("cashback award not found")
	ErrAlreadyCanceled      = errors.New("cashback award already canceled")
	ErrInsufficientBalance  = errors.New("customer balance is lower than the award amount")
	ErrAwardMismatch        = errors.New("award amount does not equal the sum of its items")
	ErrInvalidAward         = errors.New("invalid award")
	ErrUnknownCustomer      = errors.New("customer is not registered")
)
