package httpbulk

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calston/tensor-go/event"
)

func parseDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestSendPostsNDJSONBulkBody(t *testing.T) {
	var gotBody []byte
	var gotPath, gotAuthUser, gotAuthPass string
	var gotHadAuth bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuthUser, gotAuthPass, gotHadAuth = r.BasicAuth()
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			gotBody = append(gotBody, sc.Bytes()...)
			gotBody = append(gotBody, '\n')
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, User: "admin", Password: "secret"}, nil)
	c.Connect()

	events := []*event.Event{
		{Service: "svc", Host: "h1", State: "ok", Time: 1, Metric: 5, HasMetric: true},
	}
	err := c.Send(events)
	require.NoError(t, err)

	assert.Equal(t, "/_bulk", gotPath)
	assert.True(t, gotHadAuth)
	assert.Equal(t, "admin", gotAuthUser)
	assert.Equal(t, "secret", gotAuthPass)

	lines := splitLines(gotBody)
	require.Len(t, lines, 2)

	var action map[string]map[string]string
	require.NoError(t, json.Unmarshal(lines[0], &action))
	assert.Contains(t, action, "index")
	assert.Equal(t, "event", action["index"]["_type"])

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[1], &doc))
	assert.Equal(t, "svc", doc["type"])
	assert.Equal(t, float64(5), doc["metric"])
}

func TestSendRequeuesOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var requeued []*event.Event
	c := New(Config{URL: srv.URL}, func(events []*event.Event) {
		requeued = append(requeued, events...)
	})
	c.Connect()

	events := []*event.Event{{Service: "svc", State: "ok", Time: 1}}
	err := c.Send(events)
	assert.Error(t, err)
	assert.Len(t, requeued, 1)
}

func TestLogEventTranspositionSpreadsFields(t *testing.T) {
	ev := &event.Event{
		Service:   "syslog",
		Kind:      event.KindLog,
		State:     "ok",
		LogFields: map[string]string{"message": "boom", "path": "/var/log/x"},
	}
	doc := transposeEvent(ev)
	assert.Equal(t, "boom", doc["message"])
	assert.Equal(t, "/var/log/x", doc["path"])
	_, hasDescription := doc["description"]
	assert.False(t, hasDescription, "log events don't carry a metric description field")
}

func TestStrftimeSubstitutesDirectives(t *testing.T) {
	got := strftime("logstash-%Y.%m.%d", parseDate(t, "2026-07-31"))
	assert.Equal(t, "logstash-2026.07.31", got)
}

func splitLines(b []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			if i > start {
				lines = append(lines, b[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
