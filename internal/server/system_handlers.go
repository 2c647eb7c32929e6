package server

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/insuresim/underwriter/internal/database"
	"github.com/insuresim/underwriter/internal/scheduler"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatus is the response of GET /api/system/status.
type SystemStatus struct {
	Status        string                `json:"status"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	CPUPercent    float64               `json:"cpu_percent"`
	MemoryPercent float64               `json:"memory_percent"`
	DiskPercent   float64               `json:"disk_percent"`
	Database      *database.Stats       `json:"database,omitempty"`
	TurnRunning   bool                  `json:"turn_running"`
	WorkPending   int                   `json:"work_pending"`
	Jobs          []scheduler.EntryInfo `json:"jobs"`
}

// handleSystemStatus reports host load, database size and background state.
// GET /api/system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := s.systemStats()
	out := SystemStatus{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
		CPUPercent:    cpuPct,
		MemoryPercent: memPct,
		Jobs:          []scheduler.EntryInfo{},
	}

	if s.cfg.DB != nil {
		stats, err := s.cfg.DB.GetStats(r.Context())
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to get database stats")
			out.Status = "degraded"
		}
		out.Database = stats
		if usage, err := disk.Usage(filepath.Dir(s.cfg.DB.Path())); err == nil {
			out.DiskPercent = usage.UsedPercent
		}
	}
	if s.cfg.Orchestrator != nil {
		out.TurnRunning = s.cfg.Orchestrator.Busy()
	}
	if s.cfg.Work != nil {
		out.WorkPending = s.cfg.Work.Pending()
	}
	if s.cfg.Scheduler != nil {
		out.Jobs = s.cfg.Scheduler.Entries()
	}
	s.writeJSON(w, http.StatusOK, out)
}

// systemStats samples CPU over a short window so the call stays fast.
func (s *Server) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}
	return cpuPercent[0], memStat.UsedPercent
}
