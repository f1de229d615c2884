package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/proctor/internal/capture"
	"github.com/andresmejia3/proctor/internal/events"
	"github.com/andresmejia3/proctor/internal/publish"
	"github.com/andresmejia3/proctor/internal/report"
	"github.com/andresmejia3/proctor/internal/session"
	"github.com/andresmejia3/proctor/internal/store"
	"github.com/andresmejia3/proctor/internal/tracker"
	"github.com/andresmejia3/proctor/internal/utils"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// MonitorOptions holds the flags of the monitor command.
type MonitorOptions struct {
	Input      string
	Candidate  string
	Duration   string
	CSVPath    string
	ReportPath string
	JSONPath   string
	Format     string
	Width      int
	Height     int
	FPS        float64
	Realtime   bool
	Fast       bool
	MQTT       bool
	NoProgress bool
}

var monitorOpts MonitorOptions

var monitorCmd = &cobra.Command{
	Use:         "monitor",
	Short:       "Proctor a live camera or a recorded interview",
	Long:        "Runs face checks every second and object checks every three seconds on the newest decoded frame, recording events and the integrity score until the input ends, --duration elapses or Ctrl+C.",
	Annotations: map[string]string{annotationDB: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runMonitor(cmd.Context(), monitorOpts)
	},
}

func init() {
	f := monitorCmd.Flags()
	f.StringVarP(&monitorOpts.Input, "input", "i", "", "Video file or capture device (e.g. /dev/video0)")
	f.StringVarP(&monitorOpts.Candidate, "candidate", "c", "", "Candidate name (at least 2 characters)")
	f.StringVarP(&monitorOpts.Duration, "duration", "d", "0", "Stop after this long (e.g. '45m'); 0 runs until the input ends or Ctrl+C")
	f.StringVar(&monitorOpts.CSVPath, "csv", "", "Write the event log CSV to this path")
	f.StringVar(&monitorOpts.ReportPath, "report", "", "Write the summary report CSV to this path")
	f.StringVar(&monitorOpts.JSONPath, "json", "", "Write the JSON report to this path")
	f.StringVarP(&monitorOpts.Format, "format", "f", "", "Force an ffmpeg input format (v4l2, avfoundation, dshow)")
	f.IntVar(&monitorOpts.Width, "width", 0, "Decode width (required for devices unless set in config)")
	f.IntVar(&monitorOpts.Height, "height", 0, "Decode height (required for devices unless set in config)")
	f.Float64Var(&monitorOpts.FPS, "fps", 0, "Decode frame rate (default from config)")
	f.BoolVar(&monitorOpts.Realtime, "realtime", false, "Read the input at native speed (the default for video files)")
	f.BoolVar(&monitorOpts.Fast, "fast", false, "Decode video files as fast as possible, sampling only what the check cadence catches")
	f.BoolVar(&monitorOpts.MQTT, "mqtt", false, "Publish events to the configured MQTT broker")
	f.BoolVar(&monitorOpts.NoProgress, "no-progress", false, "Disable the progress spinner")
	f.BoolVar(&noDB, "no-db", false, "Do not record the session in PostgreSQL")

	monitorCmd.MarkFlagRequired("input")
	monitorCmd.MarkFlagRequired("candidate")
	rootCmd.AddCommand(monitorCmd)
}

func validateMonitorFlags(opts *MonitorOptions) (time.Duration, error) {
	if err := session.ValidateCandidate(opts.Candidate); err != nil {
		utils.ShowError("Invalid candidate name", err, nil)
		return 0, err
	}
	if strings.TrimSpace(opts.Input) == "" {
		err := errors.New("an input file or device is required")
		utils.ShowError("Missing input", err, nil)
		return 0, err
	}
	// Forced demuxers take device specifiers that are not paths, e.g. avfoundation's "0:none".
	if opts.Format == "" {
		if err := checkInputPath(opts.Input); err != nil {
			return 0, err
		}
	}
	d, err := time.ParseDuration(opts.Duration)
	if err != nil || d < 0 {
		if err == nil {
			err = fmt.Errorf("must not be negative, got %s", opts.Duration)
		}
		utils.ShowError("Invalid duration format (use '30m', '1h30m')", err, nil)
		return 0, err
	}
	if opts.Width < 0 || opts.Height < 0 || opts.FPS < 0 {
		err := fmt.Errorf("width, height and fps must not be negative")
		utils.ShowError("Invalid capture settings", err, nil)
		return 0, err
	}
	return d, nil
}

func checkInputPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input does not exist", err, nil)
		} else {
			utils.ShowError("Unable to access input", err, nil)
		}
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("%s is a directory", path)
		utils.ShowError("Input path is a directory, expected a video file or device", err, nil)
		return err
	}
	return nil
}

// runMonitor wires capture, session, sinks and outputs for one run.
func runMonitor(ctx context.Context, opts MonitorOptions) error {
	limit, err := validateMonitorFlags(&opts)
	if err != nil {
		return err
	}
	logger := Logger

	decoder := Cfg.Capture.Decoder()
	if opts.Format != "" {
		decoder.Format = opts.Format
	}
	if opts.Width > 0 {
		decoder.Width = opts.Width
	}
	if opts.Height > 0 {
		decoder.Height = opts.Height
	}
	if opts.FPS > 0 {
		decoder.FPS = opts.FPS
	}
	decoder.Realtime = resolveRealtime(opts, decoder.Realtime)

	sourceID, err := utils.GenerateSourceID(opts.Input)
	if err != nil {
		utils.ShowError("Failed to fingerprint input", err, nil)
		return err
	}

	if opts.Format == "" {
		probeInput(ctx, opts.Input)
	}

	src, err := capture.OpenFFmpeg(ctx, capture.Options{Input: opts.Input, DecoderOptions: decoder, Logger: logger})
	if err != nil {
		utils.ShowError("Failed to open capture", err, nil)
		return err
	}
	defer src.Close()

	sessionID := uuid.NewString()
	candidate := strings.TrimSpace(opts.Candidate)
	fmt.Fprintf(os.Stderr, "📼 Session %s for %s (source %s)\n", sessionID[:8], candidate, sourceID[:12])

	var (
		sinks []events.Sink
		pub   *publish.Publisher
	)
	if DB != nil {
		err := DB.CreateSession(ctx, store.Session{
			ID:        sessionID,
			Candidate: candidate,
			Source:    opts.Input,
			SourceID:  sourceID,
			StartedAt: time.Now(),
		})
		if err != nil {
			utils.ShowError("Failed to register session", err, nil)
			return err
		}
		// Background: the final events are written after Ctrl+C cancels ctx.
		sinks = append(sinks, store.NewSink(context.Background(), DB, sessionID))
	}

	if opts.MQTT || Cfg.MQTT.Enabled {
		p, err := connectPublisher(ctx, sessionID)
		if err != nil {
			logger.Warn("event publishing disabled", "error", err)
		} else {
			defer p.Close()
			pub = p
			sinks = append(sinks, p)
		}
	}

	var bar *progressbar.ProgressBar
	if !opts.NoProgress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("🎥 Proctoring"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
	}

	var sess *session.Session
	sess, err = session.New(session.Options{
		ID:             sessionID,
		Candidate:      candidate,
		Source:         src,
		FaceInterval:   Cfg.Session.FaceInterval,
		ObjectInterval: Cfg.Session.ObjectInterval,
		Tracker:        Cfg.Session.Config,
		Thresholds:     Cfg.Objects,
		Sinks:          sinks,
		Logger:         logger,
		OnCycle: func(c session.Cycle) {
			if bar == nil {
				return
			}
			if c.Kind == "face" {
				bar.Describe(describeCycle(c, sess.Timers(), time.Now()))
			}
			bar.Add(1)
		},
	})
	if err != nil {
		utils.ShowError("Failed to start session", err, nil)
		return err
	}

	runCtx := ctx
	if limit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	go func() {
		select {
		case <-src.Done():
			sess.Stop()
		case <-runCtx.Done():
		}
	}()

	if err := sess.Run(runCtx); err != nil {
		utils.ShowError("Session failed", err, nil)
		return err
	}
	if bar != nil {
		bar.Finish()
	}

	// Background: the sinks still have to drain after Ctrl+C cancels ctx.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	if err := sess.Close(drainCtx); err != nil {
		logger.Warn("not every event reached the history sinks", "error", err, "undelivered", sess.Undelivered())
	}
	cancelDrain()

	if st := src.Stats(); st.Frames == 0 && src.Err() != nil {
		utils.ShowError("Capture produced no frames", src.Err(), src.Stderr())
	}

	evs := sess.Events()
	meta := report.Session{ID: sessionID, Candidate: candidate, StartedAt: sess.StartedAt(), EndedAt: sess.EndedAt()}
	sum := report.Summarize(meta, evs, time.Now())

	if DB != nil {
		if err := DB.EndSession(context.Background(), sessionID, sess.EndedAt(), sess.Score()); err != nil {
			logger.Error("failed to record session end", "error", err)
		}
	}

	if err := writeOutputs(opts, meta, sum, evs); err != nil {
		utils.ShowError("Failed to write report", err, nil)
		return err
	}

	printSummary(sum)
	if pub != nil {
		printPublishStats(pub.Stats())
	}
	return nil
}

// drainTimeout bounds how long a finished session waits for slow sinks.
const drainTimeout = 15 * time.Second

// resolveRealtime decides whether ffmpeg paces decoding at native speed.
// Recorded files are paced unless --fast is given, so the debounce windows follow the recording's timeline.
func resolveRealtime(opts MonitorOptions, configured bool) bool {
	if opts.Realtime || configured {
		return true
	}
	if opts.Fast || opts.Format != "" {
		return false
	}
	info, err := os.Stat(opts.Input)
	return err == nil && info.Mode().IsRegular()
}

func describeCycle(c session.Cycle, t tracker.Timers, now time.Time) string {
	desc := fmt.Sprintf("🎥 Proctoring | faces: %d | score: %d%%", c.Faces, c.Score)
	switch {
	case c.Faces == 0:
		desc += fmt.Sprintf(" | no face for %s", now.Sub(t.LastFaceSeen).Round(time.Second))
	case t.LookingAwayPending:
		desc += fmt.Sprintf(" | looking away for %s", now.Sub(t.LastLookingAwayReset).Round(time.Second))
	}
	return desc
}

// probeInput logs what ffprobe reports about a recorded input. Devices usually report nothing.
func probeInput(ctx context.Context, input string) {
	fps, err := utils.GetVideoFPS(ctx, input)
	if err != nil {
		Logger.Debug("input probe failed", "input", input, "error", err)
		return
	}
	secs := utils.GetDuration(ctx, input)
	Logger.Info("input probed", "input", input, "fps", fps, "duration", time.Duration(secs*float64(time.Second)).Round(time.Second))
}

func connectPublisher(ctx context.Context, sessionID string) (*publish.Publisher, error) {
	m := Cfg.MQTT
	pub, err := publish.NewPublisher(publish.Options{
		Broker:         m.Broker,
		ClientID:       m.ClientID + "-" + sessionID[:8],
		TopicPrefix:    m.TopicPrefix,
		QoS:            m.QoS,
		Encoding:       publish.Encoding(m.Encoding),
		ConnectTimeout: m.ConnectTimeout,
		SessionID:      sessionID,
		Logger:         Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := pub.Connect(ctx); err != nil {
		return nil, err
	}
	return pub, nil
}

// writeOutputs writes every requested export.
func writeOutputs(opts MonitorOptions, meta report.Session, sum report.Summary, evs []events.Event) error {
	outputs := []struct {
		path   string
		format string
	}{
		{opts.CSVPath, "csv"},
		{opts.ReportPath, "report"},
		{opts.JSONPath, "json"},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		f, err := os.Create(o.path)
		if err != nil {
			return err
		}
		if err := export(f, o.format, meta, sum, evs); err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", o.path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "💾 Wrote %s\n", o.path)
	}
	return nil
}

func printPublishStats(st publish.Stats) {
	var total uint64
	for _, n := range st.Published {
		total += n
	}
	fmt.Fprintf(os.Stderr, "   MQTT published:    %d (%d errors)\n", total, st.Errors)
}

func printSummary(sum report.Summary) {
	fmt.Fprintf(os.Stderr, "\n🏁 Session complete for %s\n", sum.Candidate)
	fmt.Fprintf(os.Stderr, "   Duration:          %d min\n", sum.DurationMinutes)
	fmt.Fprintf(os.Stderr, "   Events:            %d\n", sum.TotalEvents)
	fmt.Fprintf(os.Stderr, "   Focus lost:        %d\n", sum.FocusLostCount)
	fmt.Fprintf(os.Stderr, "   Suspicious:        %d\n", sum.SuspiciousEvents)
	fmt.Fprintf(os.Stderr, "   Integrity score:   %d/100 (%s)\n", sum.IntegrityScore, sum.Band)
}
