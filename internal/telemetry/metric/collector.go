package metric

import "github.com/prometheus/client_golang/prometheus"

// Stats is a point-in-time view of server state.
type Stats struct {
	Rooms           int
	Members         int
	Entities        int
	PresenceRecords int
}

// StatsSource reports current server state on demand.
type StatsSource interface {
	Stats() Stats
}

// StatsFunc adapts a function to StatsSource.
type StatsFunc func() Stats

// Stats implements StatsSource.
func (f StatsFunc) Stats() Stats { return f() }

// StatsCollector exports gauges read from a StatsSource at scrape time, so
// nothing has to keep them in step with the room registry.
type StatsCollector struct {
	source StatsSource

	rooms    *prometheus.Desc
	members  *prometheus.Desc
	entities *prometheus.Desc
	presence *prometheus.Desc
}

// NewStatsCollector creates a collector backed by source.
func NewStatsCollector(source StatsSource) *StatsCollector {
	return &StatsCollector{
		source:   source,
		rooms:    prometheus.NewDesc(namespace+"_rooms_active", "Rooms currently open.", nil, nil),
		members:  prometheus.NewDesc(namespace+"_members_active", "Members on all rosters.", nil, nil),
		entities: prometheus.NewDesc(namespace+"_entities", "Live entities across rooms.", nil, nil),
		presence: prometheus.NewDesc(namespace+"_presence_records", "Cursor records held.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rooms
	ch <- c.members
	ch <- c.entities
	ch <- c.presence
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.rooms, prometheus.GaugeValue, float64(s.Rooms))
	ch <- prometheus.MustNewConstMetric(c.members, prometheus.GaugeValue, float64(s.Members))
	ch <- prometheus.MustNewConstMetric(c.entities, prometheus.GaugeValue, float64(s.Entities))
	ch <- prometheus.MustNewConstMetric(c.presence, prometheus.GaugeValue, float64(s.PresenceRecords))
}
