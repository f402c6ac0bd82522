package core

import (
	"errors"
)

// ErrTrackingNotFound is returned when a reference id has no tracking
// record. Unknown ids are an error result, never a crash.
var ErrTrackingNotFound = errors.New("tracking_id_not_found")
