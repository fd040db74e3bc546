package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/psaab/snmpagentd/pkg/stats"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Uptime:        time.Since(s.startTime).Truncate(time.Second).String(),
		ACLReloadable: s.acl != nil,
	}
	if s.registry != nil {
		resp.AgentCount = s.registry.Snapshot().Len()
	}
	if s.stats != nil {
		resp.InPkts = s.stats.Value(stats.InPkts)
		resp.OutPkts = s.stats.Value(stats.OutPkts)
	}
	writeOK(w, resp)
}

func (s *Server) agentsHandler(w http.ResponseWriter, _ *http.Request) {
	agents := []AgentInfo{}
	if s.registry != nil {
		for _, reg := range s.registry.Snapshot().Agents() {
			agents = append(agents, AgentInfo{Name: reg.Name, Root: reg.Root.String()})
		}
	}
	writeOK(w, agents)
}

func (s *Server) statisticsHandler(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "statistics not available")
		return
	}
	all := stats.All()
	out := make([]CounterValue, 0, len(all))
	for _, c := range all {
		out = append(out, CounterValue{Name: c.String(), Value: s.stats.Value(c)})
	}
	writeOK(w, out)
}

func (s *Server) aclReloadHandler(w http.ResponseWriter, _ *http.Request) {
	if s.acl == nil {
		writeError(w, http.StatusNotFound, "no ACL file configured")
		return
	}
	if err := s.acl.Reload(); err != nil {
		slog.Warn("ACL reload via API failed", "err", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	slog.Info("ACL reloaded via API")
	writeOK(w, map[string]string{"status": "reloaded"})
}
