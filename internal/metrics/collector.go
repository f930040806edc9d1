package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the Registry snapshot as patchvec_* gauges plus a
// patchvec_build_info line, for promhttp to serve alongside the HTTP
// middleware collectors.
type Collector struct {
	registry *Registry
	extra    map[string]interface{}
	build    map[string]string
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector wraps a Registry. extra feeds the snapshot; build becomes
// the build_info labels.
func NewCollector(registry *Registry, extra map[string]interface{}, build map[string]string) *Collector {
	return &Collector{registry: registry, extra: extra, build: build}
}

// Describe sends nothing: the metric set is dynamic, so the collector is
// registered unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect flattens the snapshot's numeric fields into const gauges.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.Snapshot(c.extra)
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var fv float64
		switch v := snap[k].(type) {
		case float64:
			fv = v
		case int:
			fv = float64(v)
		default:
			continue
		}
		name := "patchvec_" + sanitizeMetricName(k)
		desc := prometheus.NewDesc(name, "", nil, nil)
		m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, fv)
		if err == nil {
			ch <- m
		}
	}

	if len(c.build) > 0 {
		labelKeys := make([]string, 0, len(c.build))
		for k := range c.build {
			labelKeys = append(labelKeys, k)
		}
		sort.Strings(labelKeys)
		values := make([]string, len(labelKeys))
		for i, k := range labelKeys {
			values[i] = c.build[k]
		}
		desc := prometheus.NewDesc("patchvec_build_info", "Build information.", labelKeys, nil)
		m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, 1, values...)
		if err == nil {
			ch <- m
		}
	}
}

func sanitizeMetricName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
