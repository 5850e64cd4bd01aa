// Package router fans out a source's event batch to every output
// registered under each of the source's route names, per spec.md §4.5.
//
// Grounded on original_source/tensor/service.py's routeEvent.
package router

import (
	log "github.com/sirupsen/logrus"

	"github.com/calston/tensor-go/event"
)

// Output is the subset of the output runtime's contract the router needs.
type Output interface {
	Enqueue(events []*event.Event)
}

// Router maps a route name to the set of outputs registered under it. A
// nil/empty route name is the default output set (spec.md §4.5).
type Router struct {
	outputs map[string][]Output
}

func New() *Router {
	return &Router{outputs: make(map[string][]Output)}
}

// Register adds out to the named route. name == "" is the default route.
func (r *Router) Register(name string, out Output) {
	r.outputs[name] = append(r.outputs[name], out)
}

// Route dispatches events to every output registered under each of the
// given route names. Missing route names are logged and dropped for that
// name only; other named routes in the same call still receive the batch.
// Events are never cloned — outputs must treat them as read-only
// (spec.md §4.5).
func (r *Router) Route(sourceService string, routeNames []string, events []*event.Event) {
	if len(events) == 0 {
		return
	}
	names := routeNames
	if len(names) == 0 {
		names = []string{""}
	}
	for _, name := range names {
		outs, ok := r.outputs[name]
		if !ok {
			log.WithFields(log.Fields{
				"source": sourceService,
				"route":  name,
			}).Warn("router: no outputs registered for route, dropping")
			continue
		}
		for _, out := range outs {
			out.Enqueue(events)
		}
	}
}
