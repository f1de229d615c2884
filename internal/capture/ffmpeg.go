package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/andresmejia3/proctor/internal/frame"
	"github.com/andresmejia3/proctor/internal/utils"
)

// Options describe an ffmpeg-backed capture.
type Options struct {
	Input string
	utils.DecoderOptions
	Logger *slog.Logger
}

// FFmpegSource decodes a file or device with ffmpeg and keeps the latest frame.
type FFmpegSource struct {
	slot
	width, height int

	cmd    *exec.Cmd
	stderr bytes.Buffer
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// OpenFFmpeg starts the decoder. The caller must Close the source on every exit path.
func OpenFFmpeg(ctx context.Context, opts Options) (*FFmpegSource, error) {
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		var err error
		w, h, err = utils.GetVideoDimensions(ctx, opts.Input)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot determine frame size (pass --width/--height for devices): %v", ErrUnavailable, err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &FFmpegSource{
		width:  w,
		height: h,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
	s.cmd = utils.NewFFmpegRawDecoder(ctx, opts.Input, opts.DecoderOptions)
	s.cmd.Stderr = &s.stderr

	out, err := s.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrUnavailable, err)
	}

	go func() {
		defer close(s.done)
		s.consume(out)
		if err := s.cmd.Wait(); err != nil && ctx.Err() == nil {
			s.fail(fmt.Errorf("%w: ffmpeg exited: %v", ErrUnavailable, err))
		}
	}()
	logger.Info("capture started", "input", opts.Input, "width", w, "height", h)
	return s, nil
}

// consume reads fixed-size RGBA frames until the stream ends.
func (s *FFmpegSource) consume(r io.Reader) {
	size := s.width * s.height * 4
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.fail(fmt.Errorf("%w: stream ended", ErrUnavailable))
			} else {
				s.fail(fmt.Errorf("%w: %v", ErrUnavailable, err))
			}
			return
		}
		s.publish(frame.Frame{Width: s.width, Height: s.height, Pix: buf})
	}
}

// Frame implements Source.
func (s *FFmpegSource) Frame() frame.Frame {
	return s.get()
}

// Err returns why the source stopped producing frames, or nil while it is healthy.
func (s *FFmpegSource) Err() error {
	return s.failure()
}

// Done is closed once the decoder has exited.
func (s *FFmpegSource) Done() <-chan struct{} {
	return s.done
}

// Stats reports decode counters.
func (s *FFmpegSource) Stats() Stats {
	return s.stats()
}

// Stderr returns whatever ffmpeg logged.
func (s *FFmpegSource) Stderr() *bytes.Buffer {
	return &s.stderr
}

// Close stops the decoder and waits for it to exit.
func (s *FFmpegSource) Close() error {
	s.once.Do(func() {
		s.cancel()
		if s.cmd != nil && s.cmd.Process != nil {
			<-s.done
		}
		st := s.stats()
		s.logger.Info("capture released", "frames", st.Frames, "drops", st.Drops)
	})
	return nil
}
