// Package dockerstat polls the Docker Engine API for per-container
// resource usage, deriving a CPU percentage from two consecutive system/
// container CPU counters (persisted in a kvcache.Cache so the derivative
// survives an agent restart) and tagging IO counters for Counter64
// aggregation downstream.
//
// Grounded on original_source/tensor/sources/docker.py (ContainerStats).
package dockerstat

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/calston/tensor-go/aggregator"
	"github.com/calston/tensor-go/config"
	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/kvcache"
	"github.com/calston/tensor-go/registry"
	"github.com/calston/tensor-go/source"
)

const RegistryName = "tensor.sources.docker.ContainerStats"

const defaultCachePath = "/var/lib/tensor/dockerstats.cache"

// Source polls the Docker daemon's stats endpoint for every running
// container on each tick.
type Source struct {
	baseURL string
	hc      *http.Client
	cache   *kvcache.Cache
}

func New(cfg config.SourceConfig) (*Source, error) {
	url, _ := cfg.Extra["url"].(string)
	if url == "" {
		url = "unix:/var/run/docker.sock"
	}
	cachePath := defaultCachePath
	if v, ok := cfg.Extra["cache_path"].(string); ok && v != "" {
		cachePath = v
	}

	cache, err := kvcache.Open(cachePath, 0)
	if err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: 10 * time.Second}
	base := url
	if strings.HasPrefix(url, "unix:") {
		sockPath := strings.TrimPrefix(url, "unix:")
		hc.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockPath)
			},
		}
		base = "http://unix"
	}

	return &Source{baseURL: base, hc: hc, cache: cache}, nil
}

type container struct {
	ID    string   `json:"Id"`
	Names []string `json:"Names"`
}

type containerDetail struct {
	Config struct {
		Env []string `json:"Env"`
	} `json:"Config"`
}

type cpuStats struct {
	SystemUsage uint64 `json:"system_cpu_usage"`
	CPUUsage    struct {
		Total uint64 `json:"total_usage"`
	} `json:"cpu_usage"`
}

type blkioEntry struct {
	Op    string `json:"op"`
	Value uint64 `json:"value"`
}

type containerStats struct {
	MemoryStats struct {
		Limit uint64 `json:"limit"`
		Usage uint64 `json:"usage"`
	} `json:"memory_stats"`
	BlkioStats struct {
		IOServiceBytesRecursive []blkioEntry `json:"io_service_bytes_recursive"`
	} `json:"blkio_stats"`
	CPUStats cpuStats `json:"cpu_stats"`
}

func (s *Source) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("dockerstat: %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Source) Tick(ctx context.Context) ([]*event.Event, error) {
	var containers []container
	if err := s.getJSON(ctx, "/containers/json", &containers); err != nil {
		return nil, err
	}

	now := time.Now()
	nowUnix := float64(now.UnixNano()) / 1e9
	var events []*event.Event

	for _, c := range containers {
		name := strings.TrimPrefix(firstOr(c.Names, c.ID), "/")

		var detail containerDetail
		if err := s.getJSON(ctx, "/containers/"+c.ID+"/json", &detail); err == nil {
			for _, kv := range detail.Config.Env {
				if strings.HasPrefix(kv, "MARATHON_APP_ID=") {
					name = strings.TrimPrefix(strings.TrimPrefix(kv, "MARATHON_APP_ID="), "/")
				}
			}
		}

		var stats containerStats
		if err := s.getJSON(ctx, "/containers/"+c.ID+"/stats?stream=false", &stats); err != nil {
			continue
		}

		prefix := name
		events = append(events,
			metricEvent(prefix+".mem_limit", float64(stats.MemoryStats.Limit), nowUnix, nil),
			metricEvent(prefix+".mem_used", float64(stats.MemoryStats.Usage), nowUnix, nil),
		)
		for _, io := range stats.BlkioStats.IOServiceBytesRecursive {
			ev := metricEvent(prefix+".io_"+strings.ToLower(io.Op), float64(io.Value), nowUnix, aggregator.Counter64)
			// IO byte counters come straight off the Docker API as uint64,
			// so the exact-integer Counter64 path (aggregator.Cache.Apply)
			// can be used instead of the float64 formula's near-2^64
			// precision loss.
			ev.RawCounter = io.Value
			ev.HasRawCounter = true
			events = append(events, ev)
		}

		if pct, ok := s.cpuPercent(name, stats.CPUStats, now); ok {
			events = append(events, metricEvent(prefix+".cpu", pct, nowUnix, nil))
		}
	}

	_ = s.cache.Save()
	return events, nil
}

// cpuPercent derives container CPU usage as a percentage of system CPU
// time elapsed between this and the previous sample, matching the
// original's sysDelta/dockDelta ratio. The two counters are cached under
// separate keys since kvcache.Cache stores one float64 per key.
func (s *Source) cpuPercent(name string, cur cpuStats, now time.Time) (float64, bool) {
	sysKey, dockKey := name+".cpu.sys", name+".cpu.dock"
	prevSys, had := s.cache.Get(sysKey, now)
	prevDock, _ := s.cache.Get(dockKey, now)

	s.cache.Set(sysKey, float64(cur.SystemUsage), now)
	s.cache.Set(dockKey, float64(cur.CPUUsage.Total), now)

	if !had {
		return 0, false
	}
	sysDelta := float64(cur.SystemUsage) - prevSys
	dockDelta := float64(cur.CPUUsage.Total) - prevDock
	if sysDelta <= 0 {
		return 0, false
	}
	return (dockDelta / sysDelta) * 100, true
}

func metricEvent(service string, value, t float64, agg event.Aggregator) *event.Event {
	return &event.Event{
		State:       "ok",
		Service:     service,
		Metric:      value,
		HasMetric:   true,
		Time:        t,
		Kind:        event.KindMetric,
		Aggregation: agg,
	}
}

func firstOr(names []string, fallback string) string {
	if len(names) > 0 {
		return names[0]
	}
	return fallback
}

func (s *Source) Close() error {
	return s.cache.Save()
}

func init() {
	registry.RegisterSource(RegistryName, func(cfg config.SourceConfig) (source.Source, error) {
		return New(cfg)
	})
}
