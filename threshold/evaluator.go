package threshold

import (
	"fmt"
	"regexp"

	log "github.com/sirupsen/logrus"

	"github.com/calston/tensor-go/event"
)

// Rule pairs a compiled service-name regex with a compiled predicate over
// the event metric. Order of Rules within a Table is insertion order and
// is the deterministic tie-breaker spec.md §4.4 requires.
type Rule struct {
	Pattern *regexp.Regexp
	Pred    *Predicate
}

// RuleSource is the config-time representation: regex string to predicate
// string, as found under a source's `critical`/`warning` YAML keys. Table
// iteration order must match insertion order, so callers should supply
// rules via CompileTable with an explicit slice rather than a map.
type RuleSource struct {
	Regex     string
	Predicate string
}

// Table is one compiled rule table (warning or critical) for a single
// source.
type Table struct {
	rules []Rule
}

// CompileTable compiles a source's rule list. A malformed regex or
// predicate is a fatal configuration error (spec.md §7: "Rule evaluation
// failure ... fatal at startup (compile once)").
func CompileTable(rules []RuleSource) (*Table, error) {
	t := &Table{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("threshold: bad regex %q: %w", r.Regex, err)
		}
		pred, err := Compile(r.Predicate)
		if err != nil {
			return nil, fmt.Errorf("threshold: bad predicate for %q: %w", r.Regex, err)
		}
		t.rules = append(t.rules, Rule{Pattern: re, Pred: pred})
	}
	return t, nil
}

// match reports whether any rule's pattern matches service while its
// predicate holds against metric; rules are tried in insertion order.
func (t *Table) match(service string, metric float64) bool {
	if t == nil {
		return false
	}
	for _, r := range t.rules {
		if r.Pattern.MatchString(service) && r.Pred.Eval(metric) {
			return true
		}
	}
	return false
}

// Evaluator holds a source's compiled warning and critical tables and
// promotes event state in place.
type Evaluator struct {
	Warning  *Table
	Critical *Table
}

// Apply promotes ev.State from "ok" to "warning" or "critical" per
// spec.md §4.4: only "ok" events are candidates, warning is tried first,
// critical is tried second and may override warning, and any pre-existing
// non-"ok" state is preserved untouched (invariant 6, spec.md §8).
func (e *Evaluator) Apply(ev *event.Event) {
	if e == nil || ev.State != "ok" {
		return
	}
	if e.Warning.match(ev.Service, ev.Metric) {
		ev.State = "warning"
	}
	if e.Critical.match(ev.Service, ev.Metric) {
		ev.State = "critical"
	}
	if ev.State != "ok" {
		log.WithFields(log.Fields{
			"service": ev.Service,
			"metric":  ev.Metric,
			"state":   ev.State,
		}).Debug("threshold: promoted event state")
	}
}
