// Package outputs registers the three concrete output implementations
// (reconnecting Riemann TCP/TLS stream, connectionless Riemann UDP, and
// HTTP bulk indexer) against the build-time registry, translating a
// config.OutputConfig into the right transport.Config.
//
// Grounded on original_source/tensor/outputs/riemann.py (RiemannTCP,
// RiemannUDP) and outputs/elasticsearch.py (ElasticSearchLog).
package outputs

import (
	"fmt"

	"github.com/calston/tensor-go/config"
	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/output"
	"github.com/calston/tensor-go/registry"
	"github.com/calston/tensor-go/transport/datagram"
	"github.com/calston/tensor-go/transport/httpbulk"
	"github.com/calston/tensor-go/transport/stream"
)

const (
	RiemannTCPName = "tensor.outputs.riemann.RiemannTCP"
	RiemannUDPName = "tensor.outputs.riemann.RiemannUDP"
	BulkName       = "tensor.outputs.elasticsearch.ElasticSearchLog"
)

func init() {
	registry.RegisterOutput(RiemannTCPName, func(oc config.OutputConfig, _ func([]*event.Event)) (output.Transport, error) {
		if oc.Server == "" {
			return nil, fmt.Errorf("%s: missing server", RiemannTCPName)
		}
		port := oc.Port
		if port == 0 {
			port = 5555
		}
		return stream.New(stream.Config{
			Hosts:    []string{fmt.Sprintf("%s:%d", oc.Server, port)},
			Failover: oc.Failover,
			TLS:      oc.TLS,
			CertFile: oc.Cert,
			KeyFile:  oc.Key,
		}), nil
	})

	registry.RegisterOutput(RiemannUDPName, func(oc config.OutputConfig, _ func([]*event.Event)) (output.Transport, error) {
		if oc.Server == "" {
			return nil, fmt.Errorf("%s: missing server", RiemannUDPName)
		}
		port := oc.Port
		if port == 0 {
			port = 5555
		}
		return datagram.New(fmt.Sprintf("%s:%d", oc.Server, port)), nil
	})

	registry.RegisterOutput(BulkName, func(oc config.OutputConfig, requeue func([]*event.Event)) (output.Transport, error) {
		if oc.URL == "" {
			return nil, fmt.Errorf("%s: missing url", BulkName)
		}
		return httpbulk.New(httpbulk.Config{
			URL:      oc.URL,
			User:     oc.User,
			Password: oc.Password,
		}, requeue), nil
	})
}
