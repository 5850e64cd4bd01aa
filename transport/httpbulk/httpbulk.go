// Package httpbulk implements the HTTP bulk indexer transport from
// spec.md §6: PUT /_bulk with paired action/document newline-delimited
// JSON lines, optional basic auth, events re-queued on 5xx or transport
// failure.
//
// Grounded on original_source/tensor/outputs/elasticsearch.py
// (transposeEvent, bulkIndex). No ES client SDK is used: the bulk
// protocol here is two JSON lines per event, and pulling in a full client
// library would add an unused dependency surface for something net/http
// expresses directly (see DESIGN.md).
package httpbulk

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calston/tensor-go/event"
)

// Config configures the bulk indexer client.
type Config struct {
	URL           string // e.g. http://localhost:9200
	User          string
	Password      string
	IndexTemplate string // strftime-style, default "logstash-%Y.%m.%d"
	DocType       string // default "event"
	Timeout       time.Duration
}

func (c *Config) normalize() {
	if c.IndexTemplate == "" {
		c.IndexTemplate = "logstash-%Y.%m.%d"
	}
	if c.DocType == "" {
		c.DocType = "event"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Client sends bulk-indexing batches over HTTP. It has no persistent
// connection state, so Ready is true from Connect until Stop and Pressure
// is always zero. On failure Send hands the batch to requeue itself (the
// batch was already popped from the output queue) and returns an error;
// the supervisor wires requeue to the output's Enqueue, which appends the
// batch to the back of the queue.
type Client struct {
	cfg    Config
	hc     *http.Client
	ready  bool
	requeue func([]*event.Event)
}

// New constructs a Client. requeue is called with events that must be put
// back on the output's queue after a failed send (5xx or transport error),
// bounded by the output's own max_size per spec.md §4.6.
func New(cfg Config, requeue func([]*event.Event)) *Client {
	cfg.normalize()
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.Timeout},
		requeue: requeue,
	}
}

func (c *Client) Connect()       { c.ready = true }
func (c *Client) Ready() bool    { return c.ready }
func (c *Client) Pressure() int  { return 0 }
func (c *Client) Stop()          { c.ready = false }

func (c *Client) Send(events []*event.Event) error {
	body := buildBulkBody(events, c.cfg.IndexTemplate, c.cfg.DocType)

	req, err := http.NewRequest(http.MethodPut, c.cfg.URL+"/_bulk", bytes.NewReader(body))
	if err != nil {
		c.requeue(events)
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		c.requeue(events)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.requeue(events)
		return fmt.Errorf("httpbulk: server error %d", resp.StatusCode)
	}
	return nil
}

type bulkAction struct {
	Index bulkIndexMeta `json:"index"`
}

type bulkIndexMeta struct {
	Index string `json:"_index"`
	Type  string `json:"_type"`
	ID    string `json:"_id"`
}

func buildBulkBody(events []*event.Event, indexTemplate, docType string) []byte {
	var buf bytes.Buffer
	for _, ev := range events {
		idx := strftime(indexTemplate, time.Now())
		docID := uuid.New()
		id := base64.RawURLEncoding.EncodeToString(docID[:])

		action := bulkAction{Index: bulkIndexMeta{Index: idx, Type: docType, ID: id}}
		actionLine, _ := json.Marshal(action)
		buf.Write(actionLine)
		buf.WriteByte('\n')

		doc := transposeEvent(ev)
		docLine, _ := json.Marshal(doc)
		buf.Write(docLine)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// transposeEvent mirrors the original's transposeEvent: logs carry their
// structured description as the document body plus type/host/tags; metric
// events are indexed as-is.
func transposeEvent(ev *event.Event) map[string]interface{} {
	doc := map[string]interface{}{
		"type": ev.Service,
		"host": ev.Host,
		"tags": ev.Tags,
		"time": ev.Time,
		"state": ev.State,
	}
	if ev.Kind == event.KindLog {
		for k, v := range ev.LogFields {
			doc[k] = v
		}
	} else {
		doc["description"] = ev.Description
		if ev.HasMetric {
			doc["metric"] = ev.Metric
		}
	}
	return doc
}

// strftime supports the handful of directives spec.md's default index
// template needs (%Y, %m, %d); a general strftime isn't warranted for
// three directives.
func strftime(template string, t time.Time) string {
	repl := map[string]string{
		"%Y": fmt.Sprintf("%04d", t.Year()),
		"%m": fmt.Sprintf("%02d", int(t.Month())),
		"%d": fmt.Sprintf("%02d", t.Day()),
	}
	out := template
	for k, v := range repl {
		out = strings.ReplaceAll(out, k, v)
	}
	return out
}
