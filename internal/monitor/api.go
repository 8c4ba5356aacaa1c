package monitor

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/tagpose/internal/apriltag"
	"github.com/banshee-data/tagpose/internal/httputil"
	"github.com/banshee-data/tagpose/internal/publish"
	"github.com/banshee-data/tagpose/internal/security"
	"github.com/banshee-data/tagpose/internal/source"
	"github.com/banshee-data/tagpose/internal/tagdb"
	"github.com/banshee-data/tagpose/internal/version"
)

// statusResponse aggregates the counters of every running component.
// Builder and Writer are omitted when the run has no UDP listener or no
// event log.
type statusResponse struct {
	Service    string                 `json:"service"`
	Version    string                 `json:"version"`
	UptimeSecs float64                `json:"uptime_seconds"`
	Source     string                 `json:"source,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	Family     string                 `json:"family"`
	Params     apriltag.Params        `json:"params"`
	Pipeline   apriltag.PipelineStats `json:"pipeline"`
	Publisher  publish.PublisherStats `json:"publisher"`
	Builder    *source.BuilderStats   `json:"builder,omitempty"`
	Writer     *tagdb.WriterStats     `json:"writer,omitempty"`
}

// handleAPIStatus reports the aggregate counters as JSON.
func (ws *WebServer) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		httputil.MethodNotAllowed(w)
		return
	}

	resp := statusResponse{
		Service:    "tagpose",
		Version:    version.Version,
		UptimeSecs: time.Since(ws.started).Seconds(),
		Source:     ws.sourceDesc,
		SessionID:  ws.sessionID,
		Family:     ws.pipeline.Registry().Family(),
		Params:     ws.pipeline.Params(),
		Pipeline:   ws.pipeline.Stats(),
		Publisher:  ws.publisher.Stats(),
	}
	if ws.builder != nil {
		bs := ws.builder.BuilderStats()
		resp.Builder = &bs
	}
	if ws.writer != nil {
		wst := ws.writer.Stats()
		resp.Writer = &wst
	}

	httputil.WriteJSONOK(w, resp)
}

// handleTagParams serves and mutates the live-tunable parameter set.
// GET returns the current values; POST applies a partial update as one
// batch and echoes the resulting full set. Unknown JSON fields in the
// body are ignored.
func (ws *WebServer) handleTagParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, ws.pipeline.Params())
	case http.MethodPost:
		var update apriltag.ParamUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid tuning body: %v", err))
			return
		}
		applied := ws.pipeline.ApplyUpdate(update)
		log.Printf("[Monitor] tuning update applied: %+v", applied)
		httputil.WriteJSONOK(w, applied)
	default:
		w.Header().Set("Allow", "GET, POST")
		httputil.MethodNotAllowed(w)
	}
}

// handleRecentDetections returns the newest accepted detections from the
// in-memory ring.
// Query params:
//
//	limit (optional, default 50, max 1000)
func (ws *WebServer) handleRecentDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
		if limit <= 0 || limit > 1000 {
			limit = 50
		}
	}

	httputil.WriteJSONOK(w, ws.recent.RecentDetections(limit))
}

// handleGeneratePlots renders the per-tag plots collected so far into the
// run's plot directory.
func (ws *WebServer) handleGeneratePlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.plotter == nil {
		httputil.NotFound(w, "plot output not enabled")
		return
	}

	count, err := ws.plotter.GeneratePlots()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("generate plots: %v", err))
		return
	}

	log.Printf("[Monitor] generated plots for %d tags in %s", count, ws.plotter.GetOutputDir())
	httputil.WriteJSONOK(w, map[string]any{
		"tags_plotted": count,
		"output_dir":   ws.plotter.GetOutputDir(),
	})
}

// handlePlotFile lists and serves the rendered plot PNGs of the current
// run. Requested names are confined to the plot directory.
func (ws *WebServer) handlePlotFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.plotter == nil || ws.plotter.GetOutputDir() == "" {
		httputil.NotFound(w, "plot output not enabled")
		return
	}
	dir := ws.plotter.GetOutputDir()

	name := strings.TrimPrefix(r.URL.Path, "/debug/plots/")
	if name == "" {
		ws.listPlots(w, dir)
		return
	}

	target := filepath.Join(dir, name)
	if err := security.ValidatePathWithinDirectory(target, dir); err != nil {
		httputil.BadRequest(w, "invalid plot path")
		return
	}
	http.ServeFile(w, r, target)
}

func (ws *WebServer) listPlots(w http.ResponseWriter, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("read plot directory: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<html><body><h1>Tag Plots</h1><ul>")
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		fmt.Fprintf(w, `<li><a href="/debug/plots/%s">%s</a></li>`, e.Name(), e.Name())
	}
	fmt.Fprint(w, "</ul></body></html>")
}
