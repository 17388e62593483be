// Package modbus implements the small Modbus TCP client used to talk to the
// battery inverters.
//
// Only two functions are supported: read holding registers (0x03) and write
// single register (0x06). One transaction is in flight at a time; the
// connection is dialed lazily and dropped after any transport or framing
// failure so the next call starts from a fresh stream. The client never
// retries on its own, the control cycle simply tries again on its next tick.
package modbus
