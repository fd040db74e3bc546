package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// agentCollector implements prometheus.Collector, reading the agent
// registry on each scrape.
type agentCollector struct {
	srv *Server

	agentsRegistered *prometheus.Desc
	agentInfo        *prometheus.Desc
	uptimeSeconds    *prometheus.Desc
}

func newCollector(srv *Server) *agentCollector {
	return &agentCollector{
		srv: srv,

		agentsRegistered: prometheus.NewDesc(
			"snmpagentd_agents_registered",
			"Number of registered MIB agents.",
			nil, nil,
		),
		agentInfo: prometheus.NewDesc(
			"snmpagentd_agent_info",
			"Registered MIB agents and the subtree each one owns.",
			[]string{"name", "root"}, nil,
		),
		uptimeSeconds: prometheus.NewDesc(
			"snmpagentd_uptime_seconds",
			"Seconds since the agent started.",
			nil, nil,
		),
	}
}

func (c *agentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.agentsRegistered
	ch <- c.agentInfo
	ch <- c.uptimeSeconds
}

func (c *agentCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue,
		time.Since(c.srv.startTime).Seconds())

	if c.srv.registry == nil {
		return
	}
	snap := c.srv.registry.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.agentsRegistered, prometheus.GaugeValue, float64(snap.Len()))
	for _, reg := range snap.Agents() {
		ch <- prometheus.MustNewConstMetric(c.agentInfo, prometheus.GaugeValue, 1,
			reg.Name, reg.Root.String())
	}
}
