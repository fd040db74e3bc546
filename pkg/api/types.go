// Package api implements the HTTP management API and Prometheus metrics
// endpoint.
package api

// Response is the standard JSON response envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse holds daemon status information.
type StatusResponse struct {
	Uptime        string `json:"uptime"`
	AgentCount    int    `json:"agent_count"`
	InPkts        uint64 `json:"in_pkts"`
	OutPkts       uint64 `json:"out_pkts"`
	ACLReloadable bool   `json:"acl_reloadable"`
}

// AgentInfo describes one registered agent.
type AgentInfo struct {
	Name string `json:"name"`
	Root string `json:"root"`
}

// CounterValue is one protocol counter.
type CounterValue struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}
