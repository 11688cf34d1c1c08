package httpapi

import (
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/R3E-Network/signflow/internal/app/system"
	"github.com/R3E-Network/signflow/internal/httputil"
	"github.com/R3E-Network/signflow/pkg/version"
)

var startedAt = time.Now()

// maxWebhookBody bounds delivery webhook payloads.
const maxWebhookBody = 1 << 20

type systemStatus struct {
	Version    string              `json:"version"`
	StartedAt  time.Time           `json:"started_at"`
	Uptime     string              `json:"uptime"`
	Goroutines int                 `json:"goroutines"`
	Workers    []system.Descriptor `json:"workers"`
	Host       hostInfo            `json:"host"`
}

type hostInfo struct {
	Hostname      string  `json:"hostname,omitempty"`
	Platform      string  `json:"platform,omitempty"`
	UptimeSeconds uint64  `json:"uptime_seconds,omitempty"`
	CPUs          int     `json:"cpus"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryPercent float64 `json:"memory_percent"`
}

// systemStatus reports process and host health. Host metrics are best
// effort; unavailable values are left zero.
func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := systemStatus{
		Version:    version.Version,
		StartedAt:  startedAt.UTC(),
		Uptime:     time.Since(startedAt).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Workers:    h.app.Workers(),
		Host:       hostInfo{CPUs: runtime.NumCPU()},
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		status.Host.Hostname = info.Hostname
		status.Host.Platform = info.Platform
		status.Host.UptimeSeconds = info.Uptime
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		status.Host.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		status.Host.MemoryTotal = vm.Total
		status.Host.MemoryUsed = vm.Used
		status.Host.MemoryPercent = vm.UsedPercent
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// mailWebhook receives delivery status callbacks from the mail provider.
func (h *handler) mailWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		invalid(w, r, "unreadable webhook body")
		return
	}
	updated, err := h.app.Notifications.HandleDeliveryWebhook(r.Context(), r.Header.Get("X-Signature"), body)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"updated": updated})
}
