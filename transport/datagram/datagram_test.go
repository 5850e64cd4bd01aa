package datagram

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/transport/riemannpb"
)

func TestSendDeliversOneDatagramPerBatch(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c := New(ln.LocalAddr().String())
	c.Connect()
	defer c.Stop()
	require.True(t, c.Ready())
	assert.Equal(t, 0, c.Pressure(), "UDP offers no flow-control signal")

	events := []*event.Event{{Service: "svc", State: "ok", Time: 1, TTL: 60}}
	require.NoError(t, c.Send(events))

	buf := make([]byte, 65536)
	ln.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := ln.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, riemannpb.EncodeMsg(events), buf[:n])
}

func TestSendWithoutConnectIsNoOp(t *testing.T) {
	c := New("127.0.0.1:1")
	err := c.Send([]*event.Event{{Service: "svc"}})
	assert.NoError(t, err)
}
