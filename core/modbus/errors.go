package modbus

import "errors"

var (
	// ErrConnection is returned when the stream cannot be established or
	// breaks while a transaction is in flight.
	ErrConnection = errors.New("modbus: connection error")
	// ErrTimeout is returned on short reads and writes, including deadline
	// expiry.
	ErrTimeout = errors.New("modbus: timeout")
	// ErrFraming is returned when a reply is structurally invalid.
	ErrFraming = errors.New("modbus: invalid reply")
	// ErrInvalidRequest is returned for requests that are never sent, such as
	// a read of zero registers.
	ErrInvalidRequest = errors.New("modbus: invalid request")
)
