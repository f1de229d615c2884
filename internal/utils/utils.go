package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Error Display ---

// ShowError prints the formatted error box used by every command.
// If stderr output was captured from a child process it is dumped below the details.
func ShowError(context string, err error, captured *bytes.Buffer) {
	writeError(os.Stderr, context, err, captured)
}

func writeError(w io.Writer, context string, err error, captured *bytes.Buffer) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 PROCTOR ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}
	if captured != nil && captured.Len() > 0 {
		fmt.Fprintf(w, "\nFFMPEG LOGS:\n%s\n", captured.String())
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// --- 2. Video Probing ---

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

func probe(ctx context.Context, path string, entries string) (*ffprobeOutput, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream="+entries, "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	return &res, nil
}

// GetVideoDimensions returns the width and height of the first video stream.
func GetVideoDimensions(ctx context.Context, path string) (int, int, error) {
	res, err := probe(ctx, path, "width,height")
	if err != nil {
		return 0, 0, err
	}
	w, h := res.Streams[0].Width, res.Streams[0].Height
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	return w, h, nil
}

// GetVideoFPS returns the average frame rate of the first video stream.
func GetVideoFPS(ctx context.Context, path string) (float64, error) {
	res, err := probe(ctx, path, "avg_frame_rate")
	if err != nil {
		return 0, err
	}
	return ParseFrameRate(res.Streams[0].AvgFrameRate)
}

// ParseFrameRate parses ffprobe rates such as "30000/1001" or "25".
func ParseFrameRate(s string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	return n / d, nil
}

// GetDuration returns the container duration in seconds, or 0 when unknown.
func GetDuration(ctx context.Context, path string) float64 {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0
	}
	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path).Output()
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return d
}

// --- 3. Video Decoding ---

// DecoderOptions configure the raw RGBA decoder.
type DecoderOptions struct {
	FFmpeg string
	// Format forces an input demuxer, e.g. "v4l2" or "avfoundation" for live devices.
	Format   string
	Width    int
	Height   int
	FPS      float64
	Realtime bool
}

// DecoderArgs builds the ffmpeg argument list that writes raw RGBA frames to stdout.
func DecoderArgs(input string, opts DecoderOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if opts.Realtime {
		args = append(args, "-re")
	}
	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}
	args = append(args, "-i", input)

	var filters []string
	if opts.FPS > 0 {
		filters = append(filters, "fps="+strconv.FormatFloat(opts.FPS, 'f', -1, 64))
	}
	if opts.Width > 0 && opts.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	return append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// NewFFmpegRawDecoder prepares (but does not start) an ffmpeg process decoding input to raw RGBA on stdout.
func NewFFmpegRawDecoder(ctx context.Context, input string, opts DecoderOptions) *exec.Cmd {
	bin := opts.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	return exec.CommandContext(ctx, bin, DecoderArgs(input, opts)...)
}

// GenerateSourceID creates a deterministic hash for an input file
// based on its path, size, and modification time. Devices and demuxer
// specifiers that are not files (e.g. avfoundation's "0:none") hash their text only.
func GenerateSourceID(path string) (string, error) {
	input := path
	info, err := os.Stat(path)
	switch {
	case err == nil && info.Mode().IsRegular():
		input = fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", err
	}
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
