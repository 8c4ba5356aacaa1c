// Package monitor serves the HTTP interface for a running detector: health
// and status pages, the live tuning API, recent detections, and debug
// charts rendered server-side with go-echarts.
package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/tagpose/internal/apriltag"
	"github.com/banshee-data/tagpose/internal/publish"
	"github.com/banshee-data/tagpose/internal/source"
	"github.com/banshee-data/tagpose/internal/tagdb"
	"github.com/banshee-data/tagpose/internal/version"
)

//go:embed status.html
var StatusHTML embed.FS

// BuilderStatser reports frame assembly counters. The UDP source
// implements it; replay and sim sources own their builders internally and
// report nothing here.
type BuilderStatser interface {
	BuilderStats() source.BuilderStats
}

// WebServer handles the HTTP interface for monitoring a detection run.
// It provides endpoints for health checks, real-time status, live
// parameter tuning and chart-based debugging.
type WebServer struct {
	address    string
	pipeline   *apriltag.Pipeline
	publisher  *publish.Publisher
	recent     *RecentBuffer
	builder    BuilderStatser
	writer     *tagdb.Writer
	db         *tagdb.DB
	plotter    *TagPlotter
	sessionID  string
	sourceDesc string
	server     *http.Server
	started    time.Time
}

// WebServerConfig contains configuration options for the web server.
// Builder, Writer, DB and Plotter are optional; the matching endpoints
// degrade gracefully when they are absent.
type WebServerConfig struct {
	Address    string
	Pipeline   *apriltag.Pipeline
	Publisher  *publish.Publisher
	Recent     *RecentBuffer
	Builder    BuilderStatser
	Writer     *tagdb.Writer
	DB         *tagdb.DB
	Plotter    *TagPlotter
	SessionID  string
	SourceDesc string
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:    config.Address,
		pipeline:   config.Pipeline,
		publisher:  config.Publisher,
		recent:     config.Recent,
		builder:    config.Builder,
		writer:     config.Writer,
		db:         config.DB,
		plotter:    config.Plotter,
		sessionID:  config.SessionID,
		sourceDesc: config.SourceDesc,
		started:    time.Now(),
	}

	if ws.recent == nil {
		ws.recent = NewRecentBuffer(0)
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (ws *WebServer) Start(ctx context.Context) error {
	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	// Create a shutdown context with a shorter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/status", ws.handleAPIStatus)
	mux.HandleFunc("/api/tags/params", ws.handleTagParams)
	mux.HandleFunc("/api/detections/recent", ws.handleRecentDetections)
	mux.HandleFunc("/debug/charts/centers", ws.handleCentersChart)
	mux.HandleFunc("/debug/charts/margin", ws.handleMarginChart)
	mux.HandleFunc("/debug/plots/generate", ws.handleGeneratePlots)
	mux.HandleFunc("/debug/plots/", ws.handlePlotFile)
	if ws.db != nil {
		ws.db.AttachAdminRoutes(mux)
	}

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "tagpose", "version": "%s", "uptime": "%s", "timestamp": "%s"}`,
		version.Version, time.Since(ws.started).Round(time.Second), time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	// Load and parse the HTML template from embedded filesystem
	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	sessionStatus := "disabled"
	if ws.sessionID != "" {
		sessionStatus = ws.sessionID
	}

	// Template data
	data := struct {
		HTTPAddress string
		Source      string
		Session     string
		Family      string
		Version     string
		Uptime      string
		Params      apriltag.Params
		Pipeline    apriltag.PipelineStats
		Publisher   publish.PublisherStats
		Buffered    int
	}{
		HTTPAddress: ws.address,
		Source:      ws.sourceDesc,
		Session:     sessionStatus,
		Family:      ws.pipeline.Registry().Family(),
		Version:     version.Version,
		Uptime:      time.Since(ws.started).Round(time.Second).String(),
		Params:      ws.pipeline.Params(),
		Pipeline:    ws.pipeline.Stats(),
		Publisher:   ws.publisher.Stats(),
		Buffered:    ws.recent.Len(),
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}
