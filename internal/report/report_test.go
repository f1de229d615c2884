package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/proctor/internal/events"
)

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 125000000, time.UTC)

func sample() []events.Event {
	return []events.Event{
		{Time: t0, Type: events.Info, Message: "Interview session started"},
		{Time: t0.Add(12 * time.Second), Type: events.Warning, Message: "No face detected for more than 10 seconds"},
		{Time: t0.Add(15 * time.Second), Type: events.Suspicious, Message: "Unauthorized object detected: phone (95.0%)"},
		{Time: t0.Add(20 * time.Second), Type: events.Warning, Message: "Candidate looking away from camera for more than 5 seconds"},
		{Time: t0.Add(21 * time.Second), Type: events.Error, Message: `Face detection error: "pixel read", retrying`},
	}
}

func sameEvents(t *testing.T, got, want []events.Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Time.Equal(want[i].Time) || got[i].Type != want[i].Type || got[i].Message != want[i].Message {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sample()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), EventsHeader+"\n") {
		t.Fatalf("missing header:\n%s", buf.String())
	}

	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	sameEvents(t, got, sample())
}

func TestCSVRunningScore(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sample()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")[1:]
	want := []string{`"100"`, `"95"`, `"90"`, `"85"`, `"85"`}
	for i, line := range lines {
		if !strings.HasSuffix(line, ","+want[i]) {
			t.Errorf("row %d = %s, want score %s", i, line, want[i])
		}
	}
}

func TestReportRoundTrip(t *testing.T) {
	sess := Session{Candidate: "  Grace Hopper ", StartedAt: t0, EndedAt: t0.Add(3*time.Minute + 40*time.Second)}
	sum := Summarize(sess, sample(), t0.Add(time.Hour))

	var buf bytes.Buffer
	if err := WriteReport(&buf, sum, sample()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Interview Proctoring Report\n\n",
		`"Candidate Name","Grace Hopper"`,
		"Duration (minutes),3\n",
		"Total Events,5\n",
		"Focus Lost Events,2\n",
		"Suspicious Events,1\n",
		"Integrity Score,85/100\n",
		"Detailed Event Log\n" + DetailHeader + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	got, err := ReadCSV(strings.NewReader(out))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	sameEvents(t, got, sample())
}

func TestSummarize(t *testing.T) {
	sum := Summarize(Session{}, nil, t0)
	if sum.Candidate != UnknownCandidate {
		t.Errorf("candidate = %q, want %q", sum.Candidate, UnknownCandidate)
	}
	if sum.IntegrityScore != 100 || sum.Band != "high" || sum.DurationMinutes != 0 {
		t.Errorf("unexpected empty summary %+v", sum)
	}

	var many []events.Event
	for range 9 {
		many = append(many, events.Event{Time: t0, Type: events.Suspicious, Message: "Multiple faces detected - Suspicious activity"})
	}
	sum = Summarize(Session{Candidate: "Al"}, many, t0)
	if sum.IntegrityScore != 55 || sum.Band != "low" || sum.SuspiciousEvents != 9 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no header", "just,some,text\n"},
		{"bad timestamp", EventsHeader + "\n\"yesterday\",\"x\",\"info\",\"100\"\n"},
		{"bad type", EventsHeader + "\n\"2026-03-14T09:30:00Z\",\"x\",\"alarm\",\"100\"\n"},
		{"short row", EventsHeader + "\n\"2026-03-14T09:30:00Z\",\"x\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if _, err := ReadCSV(strings.NewReader("")); !errors.Is(err, ErrNoHeader) {
		t.Errorf("empty input = %v, want ErrNoHeader", err)
	}
}

func TestWriteJSON(t *testing.T) {
	sess := Session{ID: "abc", Candidate: "Grace Hopper", StartedAt: t0, EndedAt: t0.Add(time.Minute)}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sess, Summarize(sess, sample(), t0), sample()); err != nil {
		t.Fatal(err)
	}

	var doc JSON
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.Summary.IntegrityScore != 85 || len(doc.Events) != 5 || doc.Session.ID != "abc" {
		t.Errorf("unexpected document %+v", doc)
	}
	if !strings.Contains(buf.String(), `"event": "Interview session started"`) {
		t.Errorf("events must serialise their message under \"event\":\n%s", buf.String())
	}
}
