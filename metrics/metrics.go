// Package metrics exposes partition database figures as Prometheus metrics.
//
// The build is a one-shot tool, so metrics are written in the node exporter
// textfile format rather than served.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/partdb/database"
	"github.com/c360studio/partdb/manifest"
)

const namespace = "partdb"

// Build results recorded by RecordBuild.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector holds the gauges describing the latest database and the build
// counter.
type Collector struct {
	registry *prometheus.Registry

	partitions *prometheus.GaugeVec
	services   *prometheus.GaugeVec
	irqs       *prometheus.GaugeVec
	slots      *prometheus.GaugeVec
	flags      *prometheus.GaugeVec
	builds     *prometheus.CounterVec
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		partitions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partitions",
			Help:      "Loaded partitions by execution model and PID range.",
		}, []string{"model", "range"}),
		services: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "services",
			Help:      "Declared services by kind.",
		}, []string{"kind"}),
		irqs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "irqs",
			Help:      "Declared IRQs by handling style.",
		}, []string{"handling"}),
		slots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stateless_slots",
			Help:      "Stateless handle slots by state.",
		}, []string{"state"}),
		flags: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_flag",
			Help:      "SPM configuration flags, 1 when set.",
		}, []string{"name"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Database builds by result.",
		}, []string{"result"}),
	}
	c.registry.MustRegister(c.partitions, c.services, c.irqs, c.slots, c.flags, c.builds)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordBuild counts a build attempt.
func (c *Collector) RecordBuild(err error) {
	if err != nil {
		c.builds.WithLabelValues(ResultFailure).Inc()
		return
	}
	c.builds.WithLabelValues(ResultSuccess).Inc()
}

// Observe replaces the gauges with the figures of db.
func (c *Collector) Observe(db *database.Database) {
	c.partitions.Reset()
	c.services.Reset()
	c.irqs.Reset()
	c.slots.Reset()
	c.flags.Reset()

	s := db.Statistics
	c.partitions.WithLabelValues(string(manifest.ModelIPC), "user").Set(float64(s.IPCPartitions))
	c.partitions.WithLabelValues(string(manifest.ModelSFN), "user").Set(float64(s.SFNPartitions))
	c.partitions.WithLabelValues(string(manifest.ModelIPC), "reserved").Set(float64(s.ReservedIPCPartitions))
	c.partitions.WithLabelValues(string(manifest.ModelSFN), "reserved").Set(float64(s.ReservedSFNPartitions))

	c.services.WithLabelValues("connection_based").Set(float64(s.ConnectionBasedServices))
	c.services.WithLabelValues("stateless").Set(float64(s.StatelessServices))

	c.irqs.WithLabelValues(string(manifest.HandlingFLIH)).Set(float64(s.FLIHs))
	c.irqs.WithLabelValues(string(manifest.HandlingSLIH)).Set(float64(s.SLIHs))

	used := db.Stateless.Used()
	c.slots.WithLabelValues("used").Set(float64(used))
	c.slots.WithLabelValues("free").Set(float64(db.Stateless.Capacity - used))

	for _, f := range db.Config {
		v := 0.0
		if f.Value == "1" {
			v = 1
		}
		c.flags.WithLabelValues(f.Name).Set(v)
	}
}

// WriteTextfile writes every metric to path in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
