package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/banshee-data/tagpose/internal/apriltag"
	"github.com/banshee-data/tagpose/internal/httputil"
	"github.com/banshee-data/tagpose/internal/monitor"
	"github.com/banshee-data/tagpose/internal/publish"
	"github.com/banshee-data/tagpose/internal/source"
	"github.com/banshee-data/tagpose/internal/tagdb"
)

// apiClient talks to the tagpose monitor API. The HTTP layer is injected
// so subcommand logic can be tested against httputil.MockHTTPClient.
type apiClient struct {
	base string
	http httputil.HTTPClient
}

// statusReport mirrors the /api/status response body.
type statusReport struct {
	Service    string                 `json:"service"`
	Version    string                 `json:"version"`
	UptimeSecs float64                `json:"uptime_seconds"`
	Source     string                 `json:"source"`
	SessionID  string                 `json:"session_id"`
	Family     string                 `json:"family"`
	Params     apriltag.Params        `json:"params"`
	Pipeline   apriltag.PipelineStats `json:"pipeline"`
	Publisher  publish.PublisherStats `json:"publisher"`
	Builder    *source.BuilderStats   `json:"builder"`
	Writer     *tagdb.WriterStats     `json:"writer"`
}

func newClient(base string, hc httputil.HTTPClient) *apiClient {
	base = strings.TrimSuffix(base, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{base: base, http: hc}
}

// readError extracts the {"error": ...} body of a failed API call.
func readError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *apiClient) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *apiClient) postJSON(path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *apiClient) fetchStatus() (statusReport, error) {
	var st statusReport
	err := c.getJSON("/api/status", &st)
	return st, err
}

func (c *apiClient) fetchParams() (apriltag.Params, error) {
	var p apriltag.Params
	err := c.getJSON("/api/tags/params", &p)
	return p, err
}

func (c *apiClient) applyParams(update apriltag.ParamUpdate) (apriltag.Params, error) {
	var p apriltag.Params
	err := c.postJSON("/api/tags/params", update, &p)
	return p, err
}

func (c *apiClient) fetchRecent(limit int) ([]monitor.RecentDetection, error) {
	var dets []monitor.RecentDetection
	err := c.getJSON(fmt.Sprintf("/api/detections/recent?limit=%d", limit), &dets)
	return dets, err
}

func (c *apiClient) fetchHealth() (string, error) {
	resp, err := c.http.Get(c.base + "/health")
	if err != nil {
		return "", fmt.Errorf("request /health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read /health response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

func printStatus(w io.Writer, st statusReport) {
	session := st.SessionID
	if session == "" {
		session = "disabled"
	}

	fmt.Fprintf(w, "%s %s (family %s)\n", st.Service, st.Version, st.Family)
	fmt.Fprintf(w, "  source:    %s\n", st.Source)
	fmt.Fprintf(w, "  session:   %s\n", session)
	fmt.Fprintf(w, "  uptime:    %.0fs\n", st.UptimeSecs)
	fmt.Fprintf(w, "  pipeline:  frames=%d accepted=%d raw=%d errors=%d last=%.1fms\n",
		st.Pipeline.FramesIn, st.Pipeline.AcceptedDetections, st.Pipeline.RawDetections,
		st.Pipeline.FramesFailed, st.Pipeline.LastDetectMillis)
	fmt.Fprintf(w, "  publisher: published=%d dropped=%d subscribers=%d\n",
		st.Publisher.Published, st.Publisher.DroppedIntake+st.Publisher.DroppedSlow,
		st.Publisher.Subscribers)
	if st.Builder != nil {
		fmt.Fprintf(w, "  builder:   packets=%d frames=%d incomplete=%d pending=%d\n",
			st.Builder.Packets, st.Builder.FramesCompleted,
			st.Builder.FramesIncomplete, st.Builder.PendingFrames)
	}
	if st.Writer != nil {
		fmt.Fprintf(w, "  event log: frames=%d rows=%d errors=%d\n",
			st.Writer.FramesIn, st.Writer.RowsWritten, st.Writer.WriteErrors)
	}
}

func printParams(w io.Writer, p apriltag.Params) {
	// One key=value line per settable parameter, in table order.
	body, err := json.Marshal(p)
	if err != nil {
		fmt.Fprintf(w, "%+v\n", p)
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		fmt.Fprintf(w, "%+v\n", p)
		return
	}

	for _, sp := range settableParams {
		if v, ok := fields[sp.key]; ok {
			fmt.Fprintf(w, "%s=%v\n", sp.key, v)
			delete(fields, sp.key)
		}
	}

	// Anything the daemon reports beyond the settable table still prints.
	rest := make([]string, 0, len(fields))
	for k := range fields {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(w, "%s=%v\n", k, fields[k])
	}
}

func printRecent(w io.Writer, dets []monitor.RecentDetection) {
	if len(dets) == 0 {
		fmt.Fprintln(w, "no recent detections")
		return
	}

	for _, rd := range dets {
		det := rd.Detection
		line := fmt.Sprintf("frame %6d  %s  tag %s:%-3d  margin=%5.1f  centre=(%.1f, %.1f)",
			rd.FrameSeq, rd.CapturedAt.Format("15:04:05.000"),
			det.Family, det.ID, det.DecisionMargin, det.Center.X, det.Center.Y)
		if rd.Transform != nil {
			t := rd.Transform.Translation
			line += fmt.Sprintf("  pose=(%.3f, %.3f, %.3f)", t.X, t.Y, t.Z)
		}
		fmt.Fprintln(w, line)
	}
}
