package modbus

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/kilianp07/marstek/core/logger"
)

// DefaultTimeout bounds every transaction when Config.Timeout is zero.
const DefaultTimeout = time.Second

// Config defines the endpoint of a Modbus TCP device.
type Config struct {
	Host    string
	Port    int
	UnitID  byte
	Timeout time.Duration
}

// Address returns host:port of the device.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RegisterIO is the register access needed by device adapters.
type RegisterIO interface {
	ReadHoldingRegisters(start, count uint16) ([]uint16, error)
	WriteSingleRegister(addr, value uint16) error
}

type dialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Client is a Modbus TCP client holding one persistent connection. It is not
// safe for concurrent use; callers serialize transactions.
type Client struct {
	addr    string
	unitID  byte
	timeout time.Duration
	dial    dialFunc
	log     logger.Logger

	conn net.Conn
	txID uint16
}

// NewTCPClient returns a client for cfg. No connection is made until the first
// transaction.
func NewTCPClient(cfg Config, log logger.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("modbus: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("modbus: invalid port %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Client{
		addr:    cfg.Address(),
		unitID:  cfg.UnitID,
		timeout: cfg.Timeout,
		dial:    net.DialTimeout,
		log:     log,
	}, nil
}

// Connected reports whether a connection is currently held.
func (c *Client) Connected() bool { return c.conn != nil }

// Close drops the connection if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ReadHoldingRegisters reads count consecutive holding registers starting at
// start.
func (c *Client) ReadHoldingRegisters(start, count uint16) ([]uint16, error) {
	if count == 0 || count > maxReadCount {
		return nil, fmt.Errorf("%w: read count %d", ErrInvalidRequest, count)
	}
	pdu, err := c.transact(ReadHoldingPDU(start, count))
	if err != nil {
		observe(FuncReadHoldingRegisters, err)
		return nil, err
	}
	regs, err := DecodeReadReply(pdu, count)
	if err != nil {
		c.fail(err)
	}
	observe(FuncReadHoldingRegisters, err)
	return regs, err
}

// WriteSingleRegister writes value to the holding register at addr.
func (c *Client) WriteSingleRegister(addr, value uint16) error {
	pdu, err := c.transact(WriteSinglePDU(addr, value))
	if err == nil {
		if err = DecodeWriteReply(pdu); err != nil {
			c.fail(err)
		}
	}
	observe(FuncWriteSingleRegister, err)
	return err
}

// transact sends one request and returns the reply PDU.
func (c *Client) transact(pdu []byte) ([]byte, error) {
	if err := c.connect(); err != nil {
		return nil, err
	}
	c.txID++
	req := EncodeRequest(c.txID, c.unitID, pdu)
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		err = fmt.Errorf("%w: set deadline: %v", ErrConnection, err)
		c.fail(err)
		return nil, err
	}
	n, err := c.conn.Write(req)
	if err != nil || n != len(req) {
		err = fmt.Errorf("%w: write incomplete (%d/%d): %v", ErrTimeout, n, len(req), err)
		c.fail(err)
		return nil, err
	}

	var hdr [HeaderLen]byte
	if err := c.readFull(hdr[:], "header"); err != nil {
		return nil, err
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		c.fail(err)
		return nil, err
	}
	reply := make([]byte, h.PDULen())
	if err := c.readFull(reply, "pdu"); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) readFull(buf []byte, what string) error {
	n, err := io.ReadFull(c.conn, buf)
	if err == nil {
		return nil
	}
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout(),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		err = fmt.Errorf("%w: %s read (%d/%d): %v", ErrTimeout, what, n, len(buf), err)
	default:
		err = fmt.Errorf("%w: %s read: %v", ErrConnection, what, err)
	}
	c.fail(err)
	return err
}

func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}
	conn, err := c.dial("tcp", c.addr, c.timeout)
	if err != nil {
		c.log.Warnf("connect failed to %s: %v", c.addr, err)
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, c.addr, err)
	}
	c.conn = conn
	return nil
}

// fail tears the connection down so the next transaction reconnects.
func (c *Client) fail(err error) {
	c.log.Warnf("%s: %v", c.addr, err)
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
