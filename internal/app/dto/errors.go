package dto

import "errors"

// Request errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidPayload = errors.New("trigger payload must be a JSON object")
)
