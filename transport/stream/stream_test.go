package stream

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calston/tensor-go/event"
)

func acceptOne(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	return conn
}

func waitForReady(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, c.Ready, time.Second, 5*time.Millisecond)
}

func TestClientConnectsAndSends(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c := New(Config{Hosts: []string{ln.Addr().String()}})
	c.Connect()
	defer c.Stop()

	conn := acceptOne(t, ln)
	defer conn.Close()
	waitForReady(t, c)

	err = c.Send([]*event.Event{{Service: "svc", Host: "h", State: "ok", Time: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Pressure())

	lenBuf := make([]byte, 4)
	_, err = conn.Read(lenBuf)
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(lenBuf)
	assert.Greater(t, n, uint32(0))
}

func TestClientSurvivesDisconnectAndReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c := New(Config{
		Hosts:      []string{ln.Addr().String()},
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	})
	c.Connect()
	defer c.Stop()

	first := acceptOne(t, ln)
	waitForReady(t, c)

	// Server drops the connection; the client must notice and go not-ready.
	first.Close()
	require.Eventually(t, func() bool { return !c.Ready() }, time.Second, 5*time.Millisecond)

	// A fresh accept proves the client's reconnect loop redialed rather
	// than giving up (S4: reconnect survives a dropped connection).
	second := acceptOne(t, ln)
	defer second.Close()
	waitForReady(t, c)
}

func TestSendWithoutConnectionErrors(t *testing.T) {
	c := New(Config{Hosts: []string{"127.0.0.1:1"}})
	err := c.Send([]*event.Event{{Service: "svc"}})
	assert.Error(t, err)
}

func TestPressureDecrementsOnAck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c := New(Config{Hosts: []string{ln.Addr().String()}})
	c.Connect()
	defer c.Stop()

	conn := acceptOne(t, ln)
	defer conn.Close()
	waitForReady(t, c)

	require.NoError(t, c.Send([]*event.Event{{Service: "svc"}}))
	assert.Equal(t, 1, c.Pressure())

	ackPayload := encodeOkAck()
	frame := make([]byte, 4+len(ackPayload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(ackPayload)))
	copy(frame[4:], ackPayload)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Pressure() == 0 }, time.Second, 5*time.Millisecond)
}

// encodeOkAck builds the minimal Riemann Msg{ok=true} wire form the real
// server would ack with: field 2, varint tag, value 1.
func encodeOkAck() []byte {
	return []byte{0x10, 0x01}
}
