package domain

import "errors"

var (
	ErrValidation          = errors.New("validation failed")
	ErrSubmission          = errors.New("submission failed")
	ErrPollTimeout         = errors.New("poll budget exhausted")
	ErrJobFailed           = errors.New("job failed")
	ErrAuthExpired         = errors.New("credential expired")
	ErrPaymentVerification = errors.New("payment verification failed")
	ErrNotFound            = errors.New("not found")
)
