package tracking

import "errors"

// Sentinel errors for the tracking service layer.
var (
	ErrNotFound        = errors.New("tracking record not found")
	ErrDuplicate       = errors.New("tracking record already exists")
	ErrNoMessageID     = errors.New("event has no message id")
	ErrMalformedEvent  = errors.New("malformed event")
	ErrContactNotFound = errors.New("contact not found")
	ErrSendFailed      = errors.New("property email send failed")
)
