package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// WhisperSampleRate is the only sample rate whisper.cpp accepts.
const WhisperSampleRate = 16000

type Converter interface {
	ConvertToWAV(ctx context.Context, src, dst string) error
}

// FFmpegConverter transcodes any input ffmpeg understands to 16-bit mono PCM.
type FFmpegConverter struct {
	Executable string
	SampleRate int
	Logger     *zap.Logger
}

func NewFFmpegConverter(executable string, sampleRate int, logger *zap.Logger) *FFmpegConverter {
	if strings.TrimSpace(executable) == "" {
		executable = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = WhisperSampleRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegConverter{Executable: executable, SampleRate: sampleRate, Logger: logger}
}

func (c *FFmpegConverter) Available() bool {
	_, err := exec.LookPath(c.Executable)
	return err == nil
}

func (c *FFmpegConverter) ConvertToWAV(ctx context.Context, src, dst string) error {
	if src == "" || dst == "" {
		return errors.New("source and destination paths are required")
	}

	args := buildFFmpegArgs(src, dst, c.SampleRate)
	cmd := exec.CommandContext(ctx, c.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.Logger.Debug("running ffmpeg", zap.String("ffmpeg", c.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		_ = os.Remove(dst)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg conversion interrupted: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg conversion failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	info, err := InspectWAV(dst)
	if err != nil {
		return fmt.Errorf("ffmpeg produced an unreadable wav: %w", err)
	}
	if !info.IsPCM16() || int(info.SampleRate) != c.SampleRate {
		return fmt.Errorf("%w: ffmpeg wrote format=%d bits=%d rate=%d, want 16-bit PCM at %d Hz",
			ErrUnsupportedWAV, info.AudioFormat, info.BitsPerSample, info.SampleRate, c.SampleRate)
	}

	return nil
}

func buildFFmpegArgs(src, dst string, sampleRate int) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		dst,
	}
}
