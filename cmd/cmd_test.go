package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/proctor/internal/annotate"
	"github.com/andresmejia3/proctor/internal/config"
	"github.com/andresmejia3/proctor/internal/events"
	"github.com/andresmejia3/proctor/internal/frame"
	"github.com/andresmejia3/proctor/internal/report"
	"github.com/andresmejia3/proctor/internal/session"
	"github.com/andresmejia3/proctor/internal/store"
	"github.com/andresmejia3/proctor/internal/tracker"
)

// quietStderr discards everything written to os.Stderr until the returned func is called.
func quietStderr(t *testing.T) func() {
	t.Helper()
	oldStderr := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stderr = w
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := r.Read(buf); err != nil {
				break
			}
		}
		close(done)
	}()
	return func() {
		w.Close()
		<-done
		os.Stderr = oldStderr
		r.Close()
	}
}

func TestFmtTime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{3661 * time.Second, "01:01:01"},
		{1500 * time.Millisecond, "00:00:01"},
	}

	for _, tt := range tests {
		if got := fmtTime(tt.d); got != tt.want {
			t.Errorf("fmtTime(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestValidateMonitorFlags(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "interview.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		opts    MonitorOptions
		want    time.Duration
		wantErr bool
	}{
		{
			name: "Valid options",
			opts: MonitorOptions{Input: tmpFile.Name(), Candidate: "Ada Lovelace", Duration: "45m"},
			want: 45 * time.Minute,
		},
		{
			name: "Zero duration runs until the input ends",
			opts: MonitorOptions{Input: tmpFile.Name(), Candidate: "Al", Duration: "0"},
		},
		{
			name: "Device specifier with forced format",
			opts: MonitorOptions{Input: "0:none", Format: "avfoundation", Candidate: "Grace", Duration: "0"},
		},
		{
			name:    "Candidate too short",
			opts:    MonitorOptions{Input: tmpFile.Name(), Candidate: " A ", Duration: "0"},
			wantErr: true,
		},
		{
			name:    "Missing input",
			opts:    MonitorOptions{Candidate: "Grace", Duration: "0"},
			wantErr: true,
		},
		{
			name:    "Input file does not exist",
			opts:    MonitorOptions{Input: "nonexistent.mp4", Candidate: "Grace", Duration: "0"},
			wantErr: true,
		},
		{
			name:    "Input is directory",
			opts:    MonitorOptions{Input: tmpDir, Candidate: "Grace", Duration: "0"},
			wantErr: true,
		},
		{
			name:    "Invalid duration",
			opts:    MonitorOptions{Input: tmpFile.Name(), Candidate: "Grace", Duration: "soon"},
			wantErr: true,
		},
		{
			name:    "Negative duration",
			opts:    MonitorOptions{Input: tmpFile.Name(), Candidate: "Grace", Duration: "-1m"},
			wantErr: true,
		},
		{
			name:    "Negative fps",
			opts:    MonitorOptions{Input: tmpFile.Name(), Candidate: "Grace", Duration: "0", FPS: -2},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restore := quietStderr(t)
			got, err := validateMonitorFlags(&tt.opts)
			restore()

			if (err != nil) != tt.wantErr {
				t.Errorf("validateMonitorFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("validateMonitorFlags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchPrefix(t *testing.T) {
	sessions := []store.Session{
		{ID: "3f2a9c10-0000-4000-8000-000000000001"},
		{ID: "3f2b0000-0000-4000-8000-000000000002"},
		{ID: "a1000000-0000-4000-8000-000000000003"},
	}

	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{"a1", sessions[2].ID, nil},
		{"3f2a", sessions[0].ID, nil},
		{sessions[1].ID, sessions[1].ID, nil},
		{"3f2", "", errAmbiguous},
		{"ff", "", store.ErrNotFound},
	}
	for _, tt := range tests {
		got, err := matchPrefix(sessions, tt.ref)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("matchPrefix(%q) error = %v, want %v", tt.ref, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("matchPrefix(%q) = %q, %v; want %q", tt.ref, got, err, tt.want)
		}
	}

	if shortID("abc") != "abc" || shortID(sessions[0].ID) != "3f2a9c10" {
		t.Error("shortID truncates to eight characters")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Drop everything?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestExportFormats(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	meta := report.Session{ID: "s1", Candidate: "Ada", StartedAt: start, EndedAt: start.Add(30 * time.Minute)}
	evs := []events.Event{
		{Time: start, Type: events.Info, Message: "Interview session started"},
		{Time: start.Add(time.Minute), Type: events.Suspicious, Message: "Multiple faces detected - Suspicious activity"},
	}
	sum := report.Summarize(meta, evs, start.Add(31*time.Minute))

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := export(&buf, "csv", meta, sum, evs); err != nil {
			t.Fatal(err)
		}
		got, err := report.ReadCSV(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[1].Type != events.Suspicious {
			t.Errorf("csv round trip = %+v", got)
		}
	})

	t.Run("report", func(t *testing.T) {
		var buf bytes.Buffer
		if err := export(&buf, "report", meta, sum, evs); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "Integrity Score,95/100") {
			t.Errorf("report missing score:\n%s", buf.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := export(&buf, "json", meta, sum, evs); err != nil {
			t.Fatal(err)
		}
		var doc struct {
			Summary report.Summary `json:"summary"`
		}
		if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
			t.Fatal(err)
		}
		if doc.Summary.Candidate != "Ada" || doc.Summary.SuspiciousEvents != 1 {
			t.Errorf("json summary = %+v", doc.Summary)
		}
	})

	if err := export(&bytes.Buffer{}, "xml", meta, sum, evs); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestRunAnalyze(t *testing.T) {
	Cfg = config.Default()
	defer func() { Cfg = nil }()

	f := frame.New(64, 48)
	for i := 0; i < len(f.Pix); i += 4 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3] = 128, 128, 128, 255
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "still.png")
	if err := annotate.WritePNG(in, f.Image()); err != nil {
		t.Fatal(err)
	}

	restore := quietStderr(t)
	var out bytes.Buffer
	snap := filepath.Join(dir, "annotated.png")
	err := runAnalyze(in, AnalyzeOptions{OutPath: snap, Redact: "blur", Strength: 4, JSON: true}, &out)
	restore()
	if err != nil {
		t.Fatalf("runAnalyze failed: %v", err)
	}

	for _, key := range []string{`"width"`, `"lookingAway"`, `"faces"`} {
		if !strings.Contains(out.String(), key) {
			t.Errorf("JSON output lacks %s:\n%s", key, out.String())
		}
	}

	var a analysis
	if err := json.Unmarshal(out.Bytes(), &a); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out.String())
	}
	if a.Width != 64 || a.Height != 48 || len(a.Faces) != 0 {
		t.Errorf("unexpected analysis %+v", a)
	}
	if _, err := os.Stat(snap); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}

	restore = quietStderr(t)
	err = runAnalyze(in, AnalyzeOptions{Redact: "smudge"}, &out)
	restore()
	if err == nil {
		t.Error("expected an error for an unknown redaction style")
	}

	restore = quietStderr(t)
	err = runAnalyze(filepath.Join(dir, "missing.png"), AnalyzeOptions{}, &out)
	restore()
	if err == nil {
		t.Error("expected an error for a missing image")
	}
}

func TestPrintAnalysis(t *testing.T) {
	var out bytes.Buffer
	printAnalysis(&out, analysis{Width: 10, Height: 10})
	if !strings.Contains(out.String(), "No face detected") || !strings.Contains(out.String(), "No unauthorized objects") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestResolveRealtime(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "interview.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	tests := []struct {
		name       string
		opts       MonitorOptions
		configured bool
		want       bool
	}{
		{"Recorded file paced by default", MonitorOptions{Input: tmpFile.Name()}, false, true},
		{"Fast decoding on request", MonitorOptions{Input: tmpFile.Name(), Fast: true}, false, false},
		{"Explicit flag wins over fast", MonitorOptions{Input: tmpFile.Name(), Fast: true, Realtime: true}, false, true},
		{"Config enables pacing", MonitorOptions{Input: "0:none", Format: "avfoundation"}, true, true},
		{"Device with forced format", MonitorOptions{Input: "0:none", Format: "avfoundation"}, false, false},
		{"Directory is not a recording", MonitorOptions{Input: t.TempDir()}, false, false},
		{"Missing path", MonitorOptions{Input: "nonexistent.mp4"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveRealtime(tt.opts, tt.configured); got != tt.want {
				t.Errorf("resolveRealtime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDescribeCycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)
	timers := tracker.Timers{
		LastFaceSeen:         now.Add(-12 * time.Second),
		LastLookingAwayReset: now.Add(-3 * time.Second),
	}

	got := describeCycle(session.Cycle{Kind: "face", Score: 90}, timers, now)
	if !strings.Contains(got, "no face for 12s") || !strings.Contains(got, "score: 90%") {
		t.Errorf("absent candidate: %q", got)
	}

	timers.LookingAwayPending = true
	got = describeCycle(session.Cycle{Kind: "face", Faces: 1, Score: 100}, timers, now)
	if !strings.Contains(got, "looking away for 3s") {
		t.Errorf("looking away: %q", got)
	}

	timers.LookingAwayPending = false
	got = describeCycle(session.Cycle{Kind: "face", Faces: 1, Score: 100}, timers, now)
	if strings.Contains(got, "no face") || strings.Contains(got, "looking away") {
		t.Errorf("attentive candidate: %q", got)
	}
}
