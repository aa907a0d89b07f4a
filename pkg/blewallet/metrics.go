package blewallet

import (
	"github.com/prometheus/client_golang/prometheus"

	"avaneesh/blesign-go/pkg/link"
	"avaneesh/blesign-go/pkg/session"
	"avaneesh/blesign-go/pkg/transport"
)

const metricsNamespace = "blesign"

// Collector exports transport, session and bridge counters as Prometheus
// metrics. Values are read on every scrape.
type Collector struct {
	stats    *transport.Statistics
	registry *session.Registry
	bridge   *link.Bridge

	framesSent         *prometheus.Desc
	bytesSent          *prometheus.Desc
	framesAccepted     *prometheus.Desc
	notifications      *prometheus.Desc
	requests           *prometheus.Desc
	sequenceMismatches *prometheus.Desc
	rejectedPackets    *prometheus.Desc
	writeFailures      *prometheus.Desc
	sessions           *prometheus.Desc
	bridgeCommands     *prometheus.Desc
	bridgeEvents       *prometheus.Desc
	bridgeDropped      *prometheus.Desc
	bridgeRejected     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector over the manager's statistics
func NewCollector(m *Manager) *Collector {
	return newCollector(m.Statistics(), m.Registry(), nil)
}

// NewBridgeCollector creates a collector over a bridge's statistics only
func NewBridgeCollector(b *link.Bridge) *Collector {
	return newCollector(nil, nil, b)
}

func newCollector(stats *transport.Statistics, registry *session.Registry, bridge *link.Bridge) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		stats:    stats,
		registry: registry,
		bridge:   bridge,

		framesSent:         desc("transport", "frames_sent_total", "Frames written to devices."),
		bytesSent:          desc("transport", "bytes_sent_total", "Frame bytes written to devices."),
		framesAccepted:     desc("transport", "frames_accepted_total", "Frames accepted by the platform write-ack."),
		notifications:      desc("transport", "notifications_total", "Notifications received from devices."),
		requests:           desc("session", "requests_total", "Signing requests by outcome.", "outcome"),
		sequenceMismatches: desc("transport", "sequence_mismatches_total", "Packet-acks with an unexpected seq or offset."),
		rejectedPackets:    desc("transport", "rejected_packets_total", "Packet-acks with a non-zero status."),
		writeFailures:      desc("transport", "write_failures_total", "Frame writes the platform refused or failed."),
		sessions:           desc("session", "sessions", "Device sessions by state.", "state"),
		bridgeCommands:     desc("bridge", "commands_total", "Commands received from hosts."),
		bridgeEvents:       desc("bridge", "events_total", "Events forwarded to hosts."),
		bridgeDropped:      desc("bridge", "events_dropped_total", "Events with no host to receive them."),
		bridgeRejected:     desc("bridge", "commands_rejected_total", "Commands the local adapter refused."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.stats != nil {
		ch <- c.framesSent
		ch <- c.bytesSent
		ch <- c.framesAccepted
		ch <- c.notifications
		ch <- c.requests
		ch <- c.sequenceMismatches
		ch <- c.rejectedPackets
		ch <- c.writeFailures
	}
	if c.registry != nil {
		ch <- c.sessions
	}
	if c.bridge != nil {
		ch <- c.bridgeCommands
		ch <- c.bridgeEvents
		ch <- c.bridgeDropped
		ch <- c.bridgeRejected
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	if c.stats != nil {
		snap := c.stats.Snapshot()
		counter(c.framesSent, snap.FramesSent)
		counter(c.bytesSent, snap.BytesSent)
		counter(c.framesAccepted, snap.FramesAccepted)
		counter(c.notifications, snap.Notifications)
		counter(c.requests, snap.RequestsStarted, "started")
		counter(c.requests, snap.RequestsCompleted, "completed")
		counter(c.requests, snap.RequestsFailed, "failed")
		counter(c.sequenceMismatches, snap.SequenceMismatches)
		counter(c.rejectedPackets, snap.RejectedPackets)
		counter(c.writeFailures, snap.WriteFailures)
	}

	if c.registry != nil {
		states := make(map[session.State]int)
		for _, s := range c.registry.Sessions() {
			states[s.State]++
		}
		for state, n := range states {
			ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(n), state.String())
		}
	}

	if c.bridge != nil {
		stats := c.bridge.Statistics()
		counter(c.bridgeCommands, stats.Commands)
		counter(c.bridgeEvents, stats.Events)
		counter(c.bridgeDropped, stats.Dropped)
		counter(c.bridgeRejected, stats.Rejected)
	}
}
