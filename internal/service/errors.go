package service

import "errors"

var (
	// Validation errors reject the request before any side effect.
	ErrMessageTooLong = errors.New("message too long")
	ErrURLNotAllowed  = errors.New("url not allowed")
	ErrParentNotFound = errors.New("parent message not found")

	ErrMessageNotFound = errors.New("message not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrNotAuthorized   = errors.New("not authorized")

	// ErrThreadIntegrity signals a cyclic or inconsistent parent chain in
	// storage. Fatal for the request; never silently repaired.
	ErrThreadIntegrity = errors.New("thread integrity violation")
)
