package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/banshee-data/tagpose/internal/httputil"
)

func TestNewClientNormalizesBase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8080", "http://localhost:8080"},
		{"http://localhost:8080/", "http://localhost:8080"},
		{"localhost:8080", "http://localhost:8080"},
		{"tagpose-7:9080", "http://tagpose-7:9080"},
	}
	for _, tt := range tests {
		c := newClient(tt.in, httputil.NewMockHTTPClient())
		if c.base != tt.want {
			t.Errorf("newClient(%q).base = %q, want %q", tt.in, c.base, tt.want)
		}
	}
}

func TestFetchParams(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"max_hamming":1,"profile":false,"z_up":true,"enabled":true,
		"threads":4,"decimate":1.5,"blur":0.0,"refine_edges":true,"sharpening":0.25,"debug":false}`)

	params, err := newClient("localhost:8080", mock).fetchParams()
	if err != nil {
		t.Fatalf("fetchParams: %v", err)
	}

	if params.MaxHamming != 1 || !params.ZUp || params.Threads != 4 || params.Decimate != 1.5 {
		t.Errorf("unexpected params: %+v", params)
	}

	req := mock.GetRequest(0)
	if req == nil {
		t.Fatal("no request recorded")
	}
	if got := req.URL.String(); got != "http://localhost:8080/api/tags/params" {
		t.Errorf("request URL = %q", got)
	}
}

func TestApplyParams(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"max_hamming":0,"decimate":1.0,"threads":4,"enabled":true}`)

	update, err := parseAssignments([]string{"decimate=1.0", "threads=4"})
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}

	applied, err := newClient("http://localhost:8080", mock).applyParams(update)
	if err != nil {
		t.Fatalf("applyParams: %v", err)
	}
	if applied.Decimate != 1.0 || applied.Threads != 4 {
		t.Errorf("unexpected applied params: %+v", applied)
	}

	req := mock.GetRequest(0)
	if req == nil {
		t.Fatal("no request recorded")
	}
	if req.Method != "POST" {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	var sent map[string]any
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("unmarshal request body: %v", err)
	}
	if sent["decimate"] != 1.0 {
		t.Errorf("sent decimate = %v, want 1", sent["decimate"])
	}
	if sent["threads"] != 4.0 {
		t.Errorf("sent threads = %v, want 4", sent["threads"])
	}
	if v, ok := sent["enabled"]; ok {
		t.Errorf("untouched field enabled should be omitted, got %v", v)
	}
}

func TestFetchStatus(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{
		"service": "tagpose",
		"version": "dev",
		"uptime_seconds": 42.5,
		"source": "udp :7720",
		"session_id": "0198b2c4",
		"family": "tag36h11",
		"params": {"decimate": 2.0, "threads": 1},
		"pipeline": {"frames_in": 120, "detections_accepted": 88, "last_detect_ms": 3.2},
		"publisher": {"published": 120, "dropped_intake": 0, "subscribers": 3, "running": true},
		"builder": {"packets": 4400, "frames_completed": 120, "frames_incomplete": 1},
		"writer": {"frames_in": 120, "rows_written": 88}
	}`)

	st, err := newClient("localhost:8080", mock).fetchStatus()
	if err != nil {
		t.Fatalf("fetchStatus: %v", err)
	}

	if st.Service != "tagpose" || st.Family != "tag36h11" {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.Pipeline.FramesIn != 120 || st.Pipeline.AcceptedDetections != 88 {
		t.Errorf("unexpected pipeline stats: %+v", st.Pipeline)
	}
	if st.Builder == nil || st.Builder.FramesCompleted != 120 {
		t.Errorf("unexpected builder stats: %+v", st.Builder)
	}
	if st.Writer == nil || st.Writer.RowsWritten != 88 {
		t.Errorf("unexpected writer stats: %+v", st.Writer)
	}
}

func TestFetchRecent(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `[
		{
			"frame_seq": 17,
			"captured_at": "2026-02-11T10:30:00.125Z",
			"detection": {
				"family": "tag36h11", "id": 3, "hamming": 0, "decision_margin": 54.2,
				"centre": {"x": 320.5, "y": 240.1},
				"corners": [{"x":300,"y":220},{"x":340,"y":220},{"x":340,"y":260},{"x":300,"y":260}],
				"homography": [1,0,0,0,1,0,0,0,1]
			},
			"transform": {
				"parent_frame": "camera", "child_frame": "tag36h11:3",
				"captured_at": "2026-02-11T10:30:00.125Z",
				"translation": {"X": 0.1, "Y": -0.05, "Z": 1.8},
				"rotation": {"Real": 1, "Imag": 0, "Jmag": 0, "Kmag": 0}
			}
		}
	]`)

	dets, err := newClient("localhost:8080", mock).fetchRecent(5)
	if err != nil {
		t.Fatalf("fetchRecent: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	if dets[0].Detection.ID != 3 || dets[0].Detection.Center.X != 320.5 {
		t.Errorf("unexpected detection: %+v", dets[0].Detection)
	}
	if dets[0].Transform == nil || dets[0].Transform.Translation.Z != 1.8 {
		t.Errorf("unexpected transform: %+v", dets[0].Transform)
	}

	req := mock.GetRequest(0)
	if req == nil {
		t.Fatal("no request recorded")
	}
	if got := req.URL.Query().Get("limit"); got != "5" {
		t.Errorf("limit query = %q, want 5", got)
	}
}

func TestFetchHealth(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"status": "ok", "service": "tagpose"}`+"\n")

	body, err := newClient("localhost:8080", mock).fetchHealth()
	if err != nil {
		t.Fatalf("fetchHealth: %v", err)
	}
	if !strings.Contains(body, `"status": "ok"`) {
		t.Errorf("unexpected health body: %q", body)
	}
}

func TestAPIErrorBody(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(400, `{"error":"invalid tuning body: threads must be positive"}`)

	_, err := newClient("localhost:8080", mock).fetchParams()
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "daemon returned 400") {
		t.Errorf("error %q missing status code", err)
	}
	if !strings.Contains(err.Error(), "threads must be positive") {
		t.Errorf("error %q missing daemon message", err)
	}
}

func TestAPIErrorPlainBody(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(500, "internal failure")

	_, err := newClient("localhost:8080", mock).fetchParams()
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "internal failure") {
		t.Errorf("error %q missing body text", err)
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, statusReport{
		Service: "tagpose", Version: "dev", Family: "tag36h11",
		Source: "udp :7720", UptimeSecs: 42,
	})

	out := buf.String()
	if !strings.Contains(out, "tagpose dev (family tag36h11)") {
		t.Errorf("missing header line:\n%s", out)
	}
	if !strings.Contains(out, "session:   disabled") {
		t.Errorf("empty session should print disabled:\n%s", out)
	}
	if strings.Contains(out, "builder:") || strings.Contains(out, "event log:") {
		t.Errorf("nil builder/writer should not print:\n%s", out)
	}
}

func TestPrintParamsOrder(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"max_hamming":1,"profile":false,"z_up":false,"enabled":true,
		"threads":4,"decimate":1.5,"blur":0.0,"refine_edges":true,"sharpening":0.25,"debug":false}`)
	params, err := newClient("localhost:8080", mock).fetchParams()
	if err != nil {
		t.Fatalf("fetchParams: %v", err)
	}

	var buf bytes.Buffer
	printParams(&buf, params)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(settableParams) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(settableParams), buf.String())
	}
	for i, sp := range settableParams {
		if !strings.HasPrefix(lines[i], sp.key+"=") {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], sp.key+"=")
		}
	}
	if lines[5] != "decimate=1.5" {
		t.Errorf("decimate line = %q", lines[5])
	}
}

func TestPrintRecentEmpty(t *testing.T) {
	var buf bytes.Buffer
	printRecent(&buf, nil)
	if !strings.Contains(buf.String(), "no recent detections") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
