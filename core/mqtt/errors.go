package mqtt

import "errors"

// ErrNotConnected is returned when the broker connection is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// ErrPublishTimeout is returned when the broker does not confirm a publish in time.
var ErrPublishTimeout = errors.New("mqtt: publish timeout")
