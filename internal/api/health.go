package api

import (
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type processHealth struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

type hostHealth struct {
	Hostname      string  `json:"hostname"`
	UptimeSeconds uint64  `json:"uptime_s"`
	MemoryUsedPct float64 `json:"memory_used_percent"`
}

type healthResponse struct {
	Status     string         `json:"status"`
	Service    string         `json:"service"`
	PID        int            `json:"pid"`
	Goroutines int            `json:"goroutines"`
	WSClients  int            `json:"ws_clients"`
	Process    *processHealth `json:"process,omitempty"`
	Host       *hostHealth    `json:"host,omitempty"`
}

// handleHealth is the liveness probe plus process and host stats. The
// stats are best-effort; a platform where gopsutil cannot read them
// still answers ok.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Service:    "textcast",
		PID:        os.Getpid(),
		Goroutines: runtime.NumGoroutine(),
	}
	if s.hub != nil {
		resp.WSClients = s.hub.ClientCount()
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		ph := &processHealth{}
		if info, err := proc.MemoryInfo(); err == nil {
			ph.RSSBytes = info.RSS
		}
		if pct, err := proc.CPUPercent(); err == nil {
			ph.CPUPercent = pct
		}
		resp.Process = ph
	}

	hh := &hostHealth{}
	populated := false
	if info, err := host.Info(); err == nil {
		hh.Hostname = info.Hostname
		hh.UptimeSeconds = info.Uptime
		populated = true
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hh.MemoryUsedPct = vm.UsedPercent
		populated = true
	}
	if populated {
		resp.Host = hh
	}

	writeJSON(w, http.StatusOK, resp)
}
