package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/product-importer/internal/core"
	"github.com/JonMunkholm/product-importer/internal/logging"
	"github.com/JonMunkholm/product-importer/internal/web/templates"
)

// dashboardImports is how many jobs the dashboard lists.
const dashboardImports = 20

// handleDashboard renders the HTML overview. Stats are optional; a failed
// stats query only hides the summary line.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobs, err := s.service.ListImports(ctx, dashboardImports)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	data := templates.DashboardData{Imports: jobs, GeneratedAt: time.Now()}
	if stats, err := s.service.ProductStats(ctx); err == nil {
		data.Stats = &stats
	} else {
		logging.FromContext(ctx).Warn("dashboard stats unavailable", "error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Dashboard(data).Render(ctx, w); err != nil {
		logging.FromContext(ctx).Error("dashboard render failed", "error", err)
	}
}

type healthResponse struct {
	Status   string                   `json:"status"`
	Database string                   `json:"database"`
	Uploads  core.UploadLimiterStatus `json:"uploads"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Database: "ok", Uploads: s.service.Limiter().Status()}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		logging.FromContext(ctx).Error("health check failed", "error", err)
		resp.Status, resp.Database = "unhealthy", "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
