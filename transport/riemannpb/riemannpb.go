// Package riemannpb hand-encodes the Riemann wire protocol's Msg/Event
// protobuf messages using the low-level protowire primitives rather than a
// protoc-generated stub — mirroring the original implementation's own
// "ihateprotobuf" hand-rolled encoder (original_source/tensor/protocol
// mentions tensor.ihateprotobuf.proto_pb2; no generated stub was retrieved,
// confirming the original avoided codegen too).
//
// Field numbers match Riemann's public riemann.proto schema, as required
// by spec.md §6: time, state, service, host, description, tags, ttl,
// metric (sint64/double/float), attributes.
package riemannpb

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/calston/tensor-go/event"
)

const (
	fieldEventTime          = 1
	fieldEventState         = 2
	fieldEventService       = 3
	fieldEventHost          = 4
	fieldEventDescription   = 5
	fieldEventTags          = 7
	fieldEventTTL           = 8
	fieldEventAttributes    = 9
	fieldEventMetricD       = 14
	fieldEventMetricSint64  = 13
	fieldEventMetricF       = 15

	fieldAttributeKey   = 1
	fieldAttributeValue = 2

	fieldMsgOK     = 2
	fieldMsgEvents = 6
)

// EncodeEvent returns the protobuf wire bytes for one riemann Event message.
func EncodeEvent(ev *event.Event) []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldEventTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(ev.Time)))

	b = protowire.AppendTag(b, fieldEventState, protowire.BytesType)
	b = protowire.AppendString(b, ev.State)

	b = protowire.AppendTag(b, fieldEventService, protowire.BytesType)
	b = protowire.AppendString(b, ev.Service)

	b = protowire.AppendTag(b, fieldEventHost, protowire.BytesType)
	b = protowire.AppendString(b, ev.Host)

	if ev.Description != "" {
		b = protowire.AppendTag(b, fieldEventDescription, protowire.BytesType)
		b = protowire.AppendString(b, ev.Description)
	}

	for _, tag := range ev.Tags {
		b = protowire.AppendTag(b, fieldEventTags, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}

	b = protowire.AppendTag(b, fieldEventTTL, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(float32(ev.TTL)))

	if ev.HasMetric {
		// Both double and float32 representations are sent for broad
		// compatibility (spec.md §6 open question); the integral sint64
		// field is additionally populated when the value has no
		// fractional component.
		b = protowire.AppendTag(b, fieldEventMetricD, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(ev.Metric))

		b = protowire.AppendTag(b, fieldEventMetricF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(float32(ev.Metric)))

		if ev.Metric == math.Trunc(ev.Metric) {
			b = protowire.AppendTag(b, fieldEventMetricSint64, protowire.VarintType)
			b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(ev.Metric)))
		}
	}

	for k, v := range ev.Attributes {
		attr := encodeAttribute(k, v)
		b = protowire.AppendTag(b, fieldEventAttributes, protowire.BytesType)
		b = protowire.AppendBytes(b, attr)
	}

	return b
}

func encodeAttribute(k, v string) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldAttributeKey, protowire.BytesType)
	b = protowire.AppendString(b, k)
	if v != "" {
		b = protowire.AppendTag(b, fieldAttributeValue, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

// EncodeMsg wraps a batch of events into a riemann Msg payload — the value
// that gets length-prefixed and written to the stream (spec.md §6).
func EncodeMsg(events []*event.Event) []byte {
	var b []byte
	for _, ev := range events {
		evBytes := EncodeEvent(ev)
		b = protowire.AppendTag(b, fieldMsgEvents, protowire.BytesType)
		b = protowire.AppendBytes(b, evBytes)
	}
	return b
}

// DecodeAck reports whether payload is a Msg with ok=true, the ack frame's
// shape per spec.md §6.
func DecodeAck(payload []byte) bool {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return false
		}
		payload = payload[n:]
		if num == fieldMsgOK && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return false
			}
			return v != 0
		}
		n = protowire.ConsumeFieldValue(num, typ, payload)
		if n < 0 {
			return false
		}
		payload = payload[n:]
	}
	return false
}
