// Package stream implements the length-prefixed, reconnecting stream
// transport used by the Riemann TCP output (spec.md §4.6, §6): a 4-byte
// big-endian length prefix followed by a protobuf Msg payload, a pressure
// counter incremented on send and decremented on ack, and exponential
// backoff reconnection with a jittered reset on success.
//
// Grounded on original_source/tensor/outputs/riemann.py (RiemannTCP's
// createClient reconnect dance); backoff timing uses the teacher's
// jpillora/backoff dependency.
package stream

import (
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/transport/riemannpb"
)

// Config configures a Client's connection and reconnect behavior.
type Config struct {
	Hosts    []string // one or more "host:port"; rotated on reconnect if Failover
	Failover bool
	TLS      bool
	CertFile string
	KeyFile  string

	MinBackoff time.Duration // default 100ms
	MaxBackoff time.Duration // default 30s
}

// Client is a reconnecting length-prefixed stream client satisfying
// output.Transport.
type Client struct {
	cfg Config

	mu       sync.Mutex
	conn     net.Conn
	ready    bool
	hostIdx  int
	pressure int32

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Client{cfg: cfg, stopCh: make(chan struct{})}
}

// Connect starts the async connect/reconnect loop. Never blocks.
func (c *Client) Connect() {
	c.wg.Add(1)
	go c.connectLoop()
}

func (c *Client) connectLoop() {
	defer c.wg.Done()
	b := &backoff.Backoff{Min: c.cfg.MinBackoff, Max: c.cfg.MaxBackoff, Jitter: true}

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		host := c.nextHost()
		conn, err := c.dial(host)
		if err != nil {
			d := b.Duration()
			log.WithFields(log.Fields{
				"host":  host,
				"error": err,
				"retry": d,
			}).Warn("stream: connect failed, retrying")
			if c.cfg.Failover {
				c.rotateHost()
			}
			select {
			case <-time.After(d):
				continue
			case <-c.stopCh:
				return
			}
		}

		b.Reset()
		c.setConn(conn)
		log.WithField("host", host).Info("stream: connected")

		c.readAcks(conn) // blocks until the connection drops

		c.setConn(nil)
		if c.cfg.Failover {
			c.rotateHost()
		}
	}
}

func (c *Client) nextHost() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cfg.Hosts) == 0 {
		return ""
	}
	return c.cfg.Hosts[c.hostIdx%len(c.cfg.Hosts)]
}

func (c *Client) rotateHost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cfg.Hosts) > 0 {
		c.hostIdx = (c.hostIdx + 1) % len(c.cfg.Hosts)
	}
}

func (c *Client) dial(host string) (net.Conn, error) {
	if c.cfg.TLS {
		cert, err := tls.LoadX509KeyPair(c.cfg.CertFile, c.cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		return tls.Dial("tcp", host, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	return net.DialTimeout("tcp", host, 10*time.Second)
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.ready = conn != nil
	if conn == nil {
		atomic.StoreInt32(&c.pressure, 0)
	}
}

// readAcks reads length-prefixed frames off conn until it closes or a
// frame is malformed; either condition triggers reconnect (spec.md §6:
// "Any deviation ... triggers reconnect").
func (c *Client) readAcks(conn net.Conn) {
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			conn.Close()
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n > 16<<20 { // guard against a corrupt/malicious length prefix
			conn.Close()
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			conn.Close()
			return
		}
		if riemannpb.DecodeAck(payload) {
			if atomic.AddInt32(&c.pressure, -1) < 0 {
				atomic.StoreInt32(&c.pressure, 0)
			}
		}
	}
}

// Ready reports whether the connection is currently up.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Pressure is the count of sends awaiting an ack.
func (c *Client) Pressure() int {
	return int(atomic.LoadInt32(&c.pressure))
}

// Send frames and writes one batch. Incremented pressure is per batch, not
// per event, matching the ack-per-frame accounting on the read side.
func (c *Client) Send(events []*event.Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	payload := riemannpb.EncodeMsg(events)
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := conn.Write(frame); err != nil {
		return err
	}
	atomic.AddInt32(&c.pressure, 1)
	return nil
}

// Stop halts the reconnect loop and closes the active connection.
func (c *Client) Stop() {
	close(c.stopCh)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

type clientError string

func (e clientError) Error() string { return string(e) }

const errNotConnected = clientError("stream: not connected")
