// Package report renders a session's event log as CSV or JSON and parses the CSV back.
package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/proctor/internal/events"
	"github.com/andresmejia3/proctor/internal/score"
)

// Headers of the two CSV layouts.
const (
	EventsHeader = "Timestamp,Event,Type,Integrity_Score"
	DetailHeader = "Timestamp,Event Type,Event Description"
)

// UnknownCandidate replaces a blank name in summaries.
const UnknownCandidate = "Unknown Candidate"

// TimeLayout is used for every timestamp written to a report.
const TimeLayout = time.RFC3339Nano

// Session is the metadata needed to summarise a run.
type Session struct {
	ID        string    `json:"id,omitempty"`
	Candidate string    `json:"candidate"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// Summary holds the aggregate numbers printed above the detailed log.
type Summary struct {
	Candidate        string    `json:"candidateName"`
	DurationMinutes  int       `json:"duration"`
	TotalEvents      int       `json:"totalEvents"`
	FocusLostCount   int       `json:"focusLostCount"`
	SuspiciousEvents int       `json:"suspiciousEventCount"`
	IntegrityScore   int       `json:"integrityScore"`
	Band             string    `json:"band"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// Summarize computes the report summary. The score is replayed from the events.
func Summarize(s Session, evs []events.Event, now time.Time) Summary {
	name := strings.TrimSpace(s.Candidate)
	if name == "" {
		name = UnknownCandidate
	}
	sum := Summary{
		Candidate:   name,
		TotalEvents: len(evs),
		GeneratedAt: now,
	}
	if !s.StartedAt.IsZero() {
		end := s.EndedAt
		if end.IsZero() {
			end = now
		}
		sum.DurationMinutes = int(end.Sub(s.StartedAt) / time.Minute)
	}
	for _, e := range evs {
		if FocusLost(e) {
			sum.FocusLostCount++
		}
		if e.Type == events.Suspicious {
			sum.SuspiciousEvents++
		}
	}
	sum.IntegrityScore = score.Replay(evs)
	sum.Band = score.Band(sum.IntegrityScore)
	return sum
}

// FocusLost reports whether an event describes the candidate leaving the frame or looking away.
func FocusLost(e events.Event) bool {
	return strings.Contains(e.Message, "looking away") || strings.Contains(e.Message, "No face detected")
}

// WriteCSV writes one quoted row per event with the score in effect after that event.
func WriteCSV(w io.Writer, evs []events.Event) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(EventsHeader + "\n")

	s := score.New()
	for _, e := range evs {
		s.OnEvent(e.Type)
		writeRow(bw, e.Time.Format(TimeLayout), e.Message, string(e.Type), strconv.Itoa(s.Current()))
	}
	return bw.Flush()
}

// WriteReport writes the summary preamble followed by the detailed event log.
func WriteReport(w io.Writer, sum Summary, evs []events.Event) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Interview Proctoring Report\n\n")
	writeRow(bw, "Candidate Name", sum.Candidate)
	fmt.Fprintf(bw, "Duration (minutes),%d\n", sum.DurationMinutes)
	fmt.Fprintf(bw, "Total Events,%d\n", sum.TotalEvents)
	fmt.Fprintf(bw, "Focus Lost Events,%d\n", sum.FocusLostCount)
	fmt.Fprintf(bw, "Suspicious Events,%d\n", sum.SuspiciousEvents)
	fmt.Fprintf(bw, "Integrity Score,%d/100\n", sum.IntegrityScore)
	fmt.Fprintf(bw, "Report Generated,%s\n\n", sum.GeneratedAt.Format(TimeLayout))

	bw.WriteString("Detailed Event Log\n")
	bw.WriteString(DetailHeader + "\n")
	for _, e := range evs {
		writeRow(bw, e.Time.Format(TimeLayout), string(e.Type), e.Message)
	}
	return bw.Flush()
}

func writeRow(w *bufio.Writer, fields ...string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(f, `"`, `""`))
		w.WriteByte('"')
	}
	w.WriteByte('\n')
}

// JSON is the document written by WriteJSON.
type JSON struct {
	Session Session        `json:"session"`
	Summary Summary        `json:"summary"`
	Events  []events.Event `json:"events"`
}

// WriteJSON writes the summary and events as an indented JSON document.
func WriteJSON(w io.Writer, s Session, sum Summary, evs []events.Event) error {
	if evs == nil {
		evs = []events.Event{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(JSON{Session: s, Summary: sum, Events: evs})
}

// ErrNoHeader is returned when neither CSV header is present.
var ErrNoHeader = errors.New("no event header found")

// ReadCSV parses either layout back into events. Preamble lines before the header are skipped.
func ReadCSV(r io.Reader) ([]events.Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var (
		detail bool
		found  bool
		out    []events.Event
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if !found {
			switch strings.Join(rec, ",") {
			case EventsHeader:
				found = true
			case DetailHeader:
				found, detail = true, true
			}
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 fields, got %d", line, len(rec))
		}

		ts, err := time.Parse(TimeLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad timestamp: %w", line, err)
		}
		msg, typ := rec[1], rec[2]
		if detail {
			msg, typ = rec[2], rec[1]
		}
		t, err := events.ParseType(typ)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, events.Event{Time: ts, Type: t, Message: msg})
	}
	if !found {
		return nil, ErrNoHeader
	}
	return out, nil
}
