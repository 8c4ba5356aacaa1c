package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/tagpose/internal/apriltag"
	"github.com/banshee-data/tagpose/internal/camera"
	"github.com/banshee-data/tagpose/internal/config"
	"github.com/banshee-data/tagpose/internal/monitor"
	"github.com/banshee-data/tagpose/internal/overlay"
	"github.com/banshee-data/tagpose/internal/publish"
	"github.com/banshee-data/tagpose/internal/source"
	"github.com/banshee-data/tagpose/internal/tagdb"
	"github.com/banshee-data/tagpose/internal/version"
)

var (
	configPath     = flag.String("config", "", "Path to a JSON config file (optional)")
	listen         = flag.String("listen", "", "HTTP monitor listen address (overrides config)")
	udpAddr        = flag.String("udp", "", "UDP frame listen address (overrides config)")
	dbFile         = flag.String("db", "", "SQLite event log path (overrides config; empty disables logging)")
	replayFile     = flag.String("replay", "", "Replay frames from a pcap capture instead of listening")
	replayRealtime = flag.Bool("replay-realtime", false, "Pace replay on recorded packet timestamps")
	simMode        = flag.Bool("sim", false, "Generate synthetic frames with no network at all")
	scriptFile     = flag.String("script", "", "Detection script JSON for the scripted detector backend")
	sessionNotes   = flag.String("notes", "", "Free-form notes recorded with the event log session")
	debugLog       = flag.Bool("debug", false, "Enable verbose debug logging (overrides config)")
)

// loadDetectorConfig selects the scripted detector's fixture: a detection
// script when a path is given, the built-in synthetic scene otherwise.
func loadDetectorConfig(family, scriptPath string) (apriltag.ScriptedDetectorConfig, error) {
	cfg := apriltag.ScriptedDetectorConfig{Family: family}

	if scriptPath != "" {
		data, err := os.ReadFile(scriptPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to read detection script: %w", err)
		}
		script, err := apriltag.ParseScript(data)
		if err != nil {
			return cfg, err
		}
		cfg.Script = script
		return cfg, nil
	}

	cfg.Scene = apriltag.DefaultSyntheticScene()
	return cfg, nil
}

// Main
func main() {
	flag.Parse()

	if *simMode && *replayFile != "" {
		log.Fatal("-sim and -replay are mutually exclusive")
	}

	// Load config file if given; flags override file values below.
	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("Loaded config from %s", *configPath)
	}

	monitorAddr := cfg.GetMonitorAddr()
	if *listen != "" {
		monitorAddr = *listen
	}
	frameAddr := cfg.GetListenAddr()
	if *udpAddr != "" {
		frameAddr = *udpAddr
	}
	eventLogPath := cfg.GetEventLogPath()
	if *dbFile != "" {
		eventLogPath = *dbFile
	}

	if *debugLog || cfg.GetDebug() {
		apriltag.SetDebugLogger(os.Stderr)
		source.SetDebugLogger(os.Stderr)
		publish.SetDebugLogger(os.Stderr)
		log.Println("Debug logging enabled")
	}

	log.Printf("tagpose %s (%s) built %s", version.Version, version.GitSHA, version.BuildTime)

	// Tag registry: which ids to track, their frame names and sizes, and
	// the initial live flags. Length mismatches abort startup.
	registry, err := apriltag.NewTagRegistry(apriltag.RegistryConfig{
		Family:          cfg.GetFamily(),
		DefaultEdgeSize: cfg.GetDefaultTagSize(),
		TagIDs:          cfg.TagIDs,
		TagFrames:       cfg.TagFrames,
		TagSizes:        cfg.TagSizes,
		MaxHamming:      cfg.GetMaxHamming(),
		Profile:         cfg.GetProfile(),
		ZUp:             cfg.GetZUp(),
		Enabled:         cfg.GetEnabled(),
	})
	if err != nil {
		log.Fatalf("Invalid tag configuration: %v", err)
	}

	// Detector backend
	detCfg, err := loadDetectorConfig(cfg.GetFamily(), *scriptFile)
	if err != nil {
		log.Fatalf("Failed to configure detector: %v", err)
	}
	if detCfg.Script != nil {
		log.Printf("Scripted detector backend: script %s (%d frames)", *scriptFile, len(detCfg.Script.Frames))
	} else {
		log.Printf("Scripted detector backend: synthetic scene (%d tags)", len(detCfg.Scene))
	}
	detector, err := apriltag.NewScriptedDetector(detCfg)
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}

	pipeline := apriltag.NewPipeline(apriltag.PipelineConfig{
		Registry: registry,
		Detector: detector,
		Params: apriltag.DetectorParams{
			Threads:     cfg.GetThreads(),
			Decimate:    cfg.GetDecimate(),
			Blur:        cfg.GetBlur(),
			RefineEdges: cfg.GetRefineEdges(),
			Sharpening:  cfg.GetSharpening(),
			Debug:       cfg.GetDebug(),
		},
	})
	defer pipeline.Close()

	publisher := publish.NewPublisher(publish.Config{})
	if err := publisher.Start(); err != nil {
		log.Fatalf("Failed to start publisher: %v", err)
	}

	// Event log (optional)
	var (
		db        *tagdb.DB
		writer    *tagdb.Writer
		sessionID string
	)
	if eventLogPath != "" {
		db, err = tagdb.NewDB(eventLogPath)
		if err != nil {
			log.Fatalf("Failed to open event log: %v", err)
		}
		defer db.Close()

		sessionID, err = db.BeginSession(cfg.GetFamily(), *sessionNotes)
		if err != nil {
			log.Fatalf("Failed to begin event log session: %v", err)
		}
		writer = tagdb.NewWriter(db, sessionID)
		log.Printf("Event log %s, session %s", eventLogPath, sessionID)
	} else {
		log.Println("Event logging disabled (use -db or event_log_path to enable)")
	}

	// Frame source
	var (
		src        source.Source
		sourceDesc string
		builder    monitor.BuilderStatser
	)
	switch {
	case *simMode:
		src = source.NewSimSource(source.SimConfig{})
		sourceDesc = "sim"
	case *replayFile != "":
		src = source.NewReplaySource(source.ReplayConfig{
			Path:     *replayFile,
			Realtime: *replayRealtime,
		})
		sourceDesc = fmt.Sprintf("replay %s", *replayFile)
	default:
		udp := source.NewUDPSource(source.UDPConfig{Addr: frameAddr})
		src = udp
		builder = udp
		sourceDesc = fmt.Sprintf("udp %s", frameAddr)
	}
	log.Printf("Frame source: %s", sourceDesc)

	recent := monitor.NewRecentBuffer(256)

	// Create a wait group for the frame source, fan-out consumers and the
	// HTTP monitor routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Frame source routine: each assembled frame runs one detection cycle
	// and its results enter the publisher fan-out. A finite source (replay,
	// bounded sim) ending stops the whole process.
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := src.Run(ctx, func(frame *camera.Frame) {
			res, err := pipeline.ProcessFrame(frame)
			if err != nil {
				log.Printf("frame %d: %v", frame.Seq, err)
				return
			}
			if res != nil {
				publisher.Publish(res)
			}
		})
		if err != nil && err != context.Canceled {
			log.Printf("frame source error: %v", err)
		}
		log.Print("frame source routine terminated")
		stop()
	}()

	// Recent-detections ring feeding the monitor endpoints
	wg.Add(1)
	go func() {
		defer wg.Done()
		results, cancel := publisher.Subscribe("recent")
		defer cancel()
		recent.Run(ctx, results)
		log.Print("recent buffer routine terminated")
	}()

	// Event log writer routine
	if writer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, cancel := publisher.Subscribe("tagdb")
			defer cancel()
			writer.Run(ctx, results)
			log.Print("event log routine terminated")
		}()
	}

	// Overlay writer routine (annotated debug frames)
	if dir := cfg.GetOverlayDir(); dir != "" {
		ov, err := overlay.NewWriter(overlay.Config{
			OutputDir: dir,
			MaxFrames: cfg.GetOverlayMaxFrames(),
		})
		if err != nil {
			log.Fatalf("Failed to create overlay writer: %v", err)
		}
		log.Printf("Writing annotated frames to %s (cap %d)", dir, cfg.GetOverlayMaxFrames())

		wg.Add(1)
		go func() {
			defer wg.Done()
			results, cancel := publisher.Subscribe("overlay")
			defer cancel()
			ov.Run(ctx, results)
			log.Print("overlay routine terminated")
		}()
	}

	// Per-tag series plotter routine; plots are rendered on demand through
	// the monitor API and again after shutdown
	var plotter *monitor.TagPlotter
	if base := cfg.GetPlotDir(); base != "" {
		plotter = monitor.NewTagPlotter()
		outDir := monitor.MakePlotOutputDir(base, *replayFile)
		if err := plotter.Start(outDir); err != nil {
			log.Fatalf("Failed to start plotter: %v", err)
		}
		log.Printf("Collecting tag plots in %s", outDir)

		wg.Add(1)
		go func() {
			defer wg.Done()
			results, cancel := publisher.Subscribe("plotter")
			defer cancel()
			plotter.Run(ctx, results)
			log.Print("plotter routine terminated")
		}()
	}

	// HTTP monitor routine
	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address:    monitorAddr,
		Pipeline:   pipeline,
		Publisher:  publisher,
		Recent:     recent,
		Builder:    builder,
		Writer:     writer,
		DB:         db,
		Plotter:    plotter,
		SessionID:  sessionID,
		SourceDesc: sourceDesc,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("web server error: %v", err)
		}
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	publisher.Stop()
	if plotter != nil {
		plotter.Stop()
		if count, err := plotter.GeneratePlots(); err != nil {
			log.Printf("plot generation failed: %v", err)
		} else if count > 0 {
			log.Printf("Wrote plots for %d tags to %s", count, plotter.GetOutputDir())
		}
	}

	log.Printf("Graceful shutdown complete")
}
