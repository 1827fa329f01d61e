package transcription

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/fmueller/whisperapi/internal/whisper"
)

func wavBytes(samples []int16) []byte {
	data := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		data = binary.LittleEndian.AppendUint16(data, uint16(s))
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16000))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(32000))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func toneWAV() []byte {
	samples := make([]int16, 1600)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 12000
		} else {
			samples[i] = -12000
		}
	}
	return wavBytes(samples)
}

type fakeProvisioner struct {
	path string
	err  error

	mu    sync.Mutex
	asked []string
}

func (f *fakeProvisioner) Ensure(_ context.Context, model whisper.Model) (string, error) {
	f.mu.Lock()
	f.asked = append(f.asked, model.Name)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

// copyConverter stands in for ffmpeg by copying the upload verbatim.
type copyConverter struct {
	err error
}

func (c copyConverter) ConvertToWAV(_ context.Context, src, dst string) error {
	if c.err != nil {
		return c.err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

type fakeEngine struct {
	output string
	err    error
	wait   bool

	mu       sync.Mutex
	requests []whisper.TranscriptionRequest
	deadline bool
}

func (e *fakeEngine) Transcribe(ctx context.Context, req whisper.TranscriptionRequest) (string, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	_, e.deadline = ctx.Deadline()
	e.mu.Unlock()

	if e.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if e.err != nil {
		return "", e.err
	}
	out := req.Format.OutputPath(req.AudioPath)
	if err := os.WriteFile(out, []byte(e.output), 0o600); err != nil {
		return "", err
	}
	return out, nil
}

func (e *fakeEngine) calls() []whisper.TranscriptionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]whisper.TranscriptionRequest(nil), e.requests...)
}

type stageRecord struct {
	stage  string
	failed bool
}

type recordingObserver struct {
	mu     sync.Mutex
	stages []stageRecord
}

func (o *recordingObserver) ObserveStage(stage string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stageRecord{stage: stage, failed: err != nil})
}

var errBoom = errors.New("boom")
