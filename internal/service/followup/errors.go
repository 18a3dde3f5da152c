package followup

import "errors"

// ErrNoSender is reported per candidate when the service runs without a dispatcher.
var ErrNoSender = errors.New("follow-up dispatcher not configured")
