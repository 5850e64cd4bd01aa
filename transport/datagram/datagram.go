// Package datagram implements the connectionless, best-effort UDP
// transport from spec.md §4.6/§6: one batch per datagram, no acks, no
// flow control — pressure is always zero.
//
// Grounded on original_source/tensor/outputs/riemann.py's RiemannUDP.
package datagram

import (
	"net"

	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/transport/riemannpb"
)

// Client is a best-effort UDP sender satisfying output.Transport.
type Client struct {
	addr string
	conn net.Conn
}

func New(addr string) *Client {
	return &Client{addr: addr}
}

// Connect resolves and "dials" the UDP address. UDP has no handshake, so
// this always succeeds synchronously unless the address is malformed, in
// which case Ready stays false.
func (c *Client) Connect() {
	conn, err := net.Dial("udp", c.addr)
	if err != nil {
		return
	}
	c.conn = conn
}

func (c *Client) Ready() bool { return c.conn != nil }

// Pressure is always zero: UDP offers no flow control signal (spec.md §4.6).
func (c *Client) Pressure() int { return 0 }

func (c *Client) Send(events []*event.Event) error {
	if c.conn == nil {
		return nil
	}
	payload := riemannpb.EncodeMsg(events)
	_, err := c.conn.Write(payload)
	return err
}

func (c *Client) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
}
