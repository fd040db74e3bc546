// Package stats keeps the agent's protocol counters (the RFC 1213 snmp
// group plus a few agent-specific ones) and exports them to Prometheus.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter identifies one protocol counter.
type Counter int

const (
	InPkts Counter = iota
	OutPkts
	InBadVersions
	InBadCommunityNames
	InBadCommunityUses
	InASNParseErrs
	InTotalReqVars
	InTotalSetVars
	InGetRequests
	InGetNexts
	InSetRequests
	InGetBulks
	OutTooBigs
	OutNoSuchNames
	OutBadValues
	OutGenErrs
	OutGetResponses
	OutTraps
	SilentDrops
	InBadTypes
	InQueueDrops

	numCounters
)

type counterInfo struct {
	name   string // MIB object name
	metric string
	help   string
	sub    uint32 // arc under 1.3.6.1.2.1.11, 0 when not in the MIB
}

var counters = [numCounters]counterInfo{
	InPkts:              {"snmpInPkts", "in_pkts_total", "Messages delivered to the SNMP entity.", 1},
	OutPkts:             {"snmpOutPkts", "out_pkts_total", "Messages passed to the transport.", 2},
	InBadVersions:       {"snmpInBadVersions", "in_bad_versions_total", "Messages for an unsupported SNMP version.", 3},
	InBadCommunityNames: {"snmpInBadCommunityNames", "in_bad_community_names_total", "Messages with an unknown community name.", 4},
	InBadCommunityUses:  {"snmpInBadCommunityUses", "in_bad_community_uses_total", "Messages with a community not allowed for the operation.", 5},
	InASNParseErrs:      {"snmpInASNParseErrs", "in_asn_parse_errs_total", "Messages that could not be decoded.", 6},
	InTotalReqVars:      {"snmpInTotalReqVars", "in_total_req_vars_total", "Objects retrieved by Get and GetNext requests.", 13},
	InTotalSetVars:      {"snmpInTotalSetVars", "in_total_set_vars_total", "Objects altered by Set requests.", 14},
	InGetRequests:       {"snmpInGetRequests", "in_get_requests_total", "Get PDUs accepted and processed.", 15},
	InGetNexts:          {"snmpInGetNexts", "in_get_nexts_total", "GetNext PDUs accepted and processed.", 16},
	InSetRequests:       {"snmpInSetRequests", "in_set_requests_total", "Set PDUs accepted and processed.", 17},
	InGetBulks:          {"snmpInGetBulks", "in_get_bulks_total", "GetBulk PDUs accepted and processed.", 0},
	OutTooBigs:          {"snmpOutTooBigs", "out_too_bigs_total", "Responses with error status tooBig.", 20},
	OutNoSuchNames:      {"snmpOutNoSuchNames", "out_no_such_names_total", "Responses with error status noSuchName.", 21},
	OutBadValues:        {"snmpOutBadValues", "out_bad_values_total", "Responses with error status badValue.", 22},
	OutGenErrs:          {"snmpOutGenErrs", "out_gen_errs_total", "Responses with error status genErr.", 24},
	OutGetResponses:     {"snmpOutGetResponses", "out_get_responses_total", "Response PDUs generated.", 28},
	OutTraps:            {"snmpOutTraps", "out_traps_total", "Trap PDUs generated.", 29},
	SilentDrops:         {"snmpSilentDrops", "silent_drops_total", "Requests dropped because even an empty response was too big.", 31},
	InBadTypes:          {"snmpInBadTypes", "in_bad_types_total", "Messages with a PDU type the agent does not answer.", 0},
	InQueueDrops:        {"snmpInQueueDrops", "in_queue_drops_total", "Datagrams dropped because the request queue was full.", 0},
}

func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return "unknown"
	}
	return counters[c].name
}

// MIBArc returns the arc of c under the snmp group (1.3.6.1.2.1.11), or 0
// when c is not a MIB object.
func (c Counter) MIBArc() uint32 {
	if c < 0 || c >= numCounters {
		return 0
	}
	return counters[c].sub
}

// All returns every counter in declaration order.
func All() []Counter {
	out := make([]Counter, numCounters)
	for i := range out {
		out[i] = Counter(i)
	}
	return out
}

// Set is a concurrency-safe set of counters. It implements
// prometheus.Collector.
type Set struct {
	vals  [numCounters]atomic.Uint64
	descs [numCounters]*prometheus.Desc
}

// New creates a zeroed counter set.
func New() *Set {
	s := &Set{}
	for i, ci := range counters {
		s.descs[i] = prometheus.NewDesc(
			"snmpagentd_snmp_"+ci.metric,
			ci.help,
			nil, nil,
		)
	}
	return s
}

// Inc adds one to c.
func (s *Set) Inc(c Counter) {
	s.vals[c].Add(1)
}

// Add adds n to c. Negative n is ignored.
func (s *Set) Add(c Counter, n int) {
	if n > 0 {
		s.vals[c].Add(uint64(n))
	}
}

// Value returns the current value of c.
func (s *Set) Value(c Counter) uint64 {
	return s.vals[c].Load()
}

// Describe implements prometheus.Collector.
func (s *Set) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range s.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (s *Set) Collect(ch chan<- prometheus.Metric) {
	for i, d := range s.descs {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(s.vals[i].Load()))
	}
}
