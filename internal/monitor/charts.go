package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/tagpose/internal/httputil"
)

// echartsAssetsPrefix is where rendered chart pages load the echarts
// runtime from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleCentersChart renders a scatter plot (HTML) of recent detection
// centers in pixel space using go-echarts, colored by tag id. This is a
// debugging-only endpoint (no auth) to eyeball detection geometry without
// a frontend.
// Query params:
//   - max_points (optional; default 4000) to reduce payload size
func (ws *WebServer) handleCentersChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		httputil.MethodNotAllowed(w)
		return
	}

	maxPoints := 4000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	results := ws.recent.Results()

	type centerPoint struct {
		x, y float64
		id   int
	}
	var pts []centerPoint
	for _, res := range results {
		for _, det := range res.Detections {
			pts = append(pts, centerPoint{det.Center.X, det.Center.Y, det.ID})
		}
	}
	if len(pts) == 0 {
		httputil.NotFound(w, "no recent detections available")
		return
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(pts) > maxPoints {
		stride = int(math.Ceil(float64(len(pts)) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, len(pts)/stride+1)
	maxAbs := 0.0
	maxID := float64(0)
	for i := 0; i < len(pts); i += stride {
		p := pts[i]
		if p.x > maxAbs {
			maxAbs = p.x
		}
		if p.y > maxAbs {
			maxAbs = p.y
		}
		if float64(p.id) > maxID {
			maxID = float64(p.id)
		}
		data = append(data, opts.ScatterData{Value: []interface{}{p.x, p.y, p.id}})
	}

	// Add a small padding so points at the edges are visible
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	if maxID == 0 {
		maxID = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tag Centers", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Detection Centers", Subtitle: fmt.Sprintf("frames=%d points=%d stride=%d", len(results), len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: pad, Name: "u (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: pad, Name: "v (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxID),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)

	scatter.AddSeries("centers", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleMarginChart renders a line chart (HTML) of decision margin over
// the buffered frames, one series per tag id. Frames where a tag was not
// seen render as gaps.
func (ws *WebServer) handleMarginChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		httputil.MethodNotAllowed(w)
		return
	}

	results := ws.recent.Results()

	tagIDs := make(map[int]struct{})
	for _, res := range results {
		for _, det := range res.Detections {
			tagIDs[det.ID] = struct{}{}
		}
	}
	if len(tagIDs) == 0 {
		httputil.NotFound(w, "no recent detections available")
		return
	}

	ids := make([]int, 0, len(tagIDs))
	for id := range tagIDs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	seqs := make([]string, 0, len(results))
	series := make(map[int][]opts.LineData, len(ids))
	for _, res := range results {
		seqs = append(seqs, strconv.FormatUint(uint64(res.Seq), 10))
		margins := make(map[int]float64, len(res.Detections))
		for _, det := range res.Detections {
			margins[det.ID] = det.DecisionMargin
		}
		for _, id := range ids {
			if m, ok := margins[id]; ok {
				series[id] = append(series[id], opts.LineData{Value: m})
			} else {
				// "-" is the echarts convention for a gap
				series[id] = append(series[id], opts.LineData{Value: "-"})
			}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Decision Margin", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Decision Margin by Frame", Subtitle: fmt.Sprintf("frames=%d tags=%d", len(seqs), len(ids))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "margin", NameLocation: "middle", NameGap: 30}),
	)

	line.SetXAxis(seqs)
	for _, id := range ids {
		line.AddSeries(fmt.Sprintf("tag %d", id), series[id])
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
