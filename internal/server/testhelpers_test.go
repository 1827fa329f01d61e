package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fmueller/whisperapi/internal/metrics"
	"github.com/fmueller/whisperapi/internal/transcription"
	"github.com/fmueller/whisperapi/internal/whisper"
	"github.com/stretchr/testify/require"
)

func toneWAV() []byte {
	data := make([]byte, 0, 3200)
	for i := 0; i < 1600; i++ {
		v := int16(9000)
		if i%2 == 1 {
			v = -9000
		}
		data = binary.LittleEndian.AppendUint16(data, uint16(v))
	}

	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(data)))
	out = append(out, "WAVEfmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint32(out, 16000)
	out = binary.LittleEndian.AppendUint32(out, 32000)
	out = binary.LittleEndian.AppendUint16(out, 2)
	out = binary.LittleEndian.AppendUint16(out, 16)
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}

type stubProvisioner struct{ err error }

func (p stubProvisioner) Ensure(context.Context, whisper.Model) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "/models/ggml-tiny.bin", nil
}

type copyConverter struct{}

func (copyConverter) ConvertToWAV(_ context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

type scriptedEngine struct {
	text     string
	segments string
	err      error
}

func (e scriptedEngine) Transcribe(_ context.Context, req whisper.TranscriptionRequest) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	body := e.text
	if req.Format == whisper.FormatJSON {
		body = e.segments
	}
	out := req.Format.OutputPath(req.AudioPath)
	return out, os.WriteFile(out, []byte(body), 0o600)
}

type fixture struct {
	audioDir string
	modelDir string
	metrics  *metrics.Metrics
	server   *Server
}

type fixtureOptions struct {
	provisionErr error
	engine       scriptedEngine
	limiter      Limiter
	transcriber  Transcriber
	maxUpload    int64
	fieldMemory  int64
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	root := t.TempDir()
	f := &fixture{
		audioDir: filepath.Join(root, "audio"),
		modelDir: filepath.Join(root, "models"),
		metrics:  metrics.New(),
	}

	transcriber := opts.transcriber
	if transcriber == nil {
		engine := opts.engine
		if engine.text == "" && engine.segments == "" && engine.err == nil {
			engine.text = "  hello world\n"
			engine.segments = `{"transcription": [
				{"offsets": {"from": 0, "to": 1250}, "text": " Hello"},
				{"offsets": {"from": 1250, "to": 2000}, "text": " world"}
			]}`
		}
		svc, err := transcription.NewService(
			transcription.Options{AudioDir: f.audioDir, DefaultModel: "tiny"},
			stubProvisioner{err: opts.provisionErr},
			copyConverter{},
			engine,
			f.metrics,
			nil,
		)
		require.NoError(t, err)
		transcriber = svc
	}

	f.server = New(Options{
		ModelDir:        f.modelDir,
		MaxUploadBytes:  opts.maxUpload,
		MultipartMemory: opts.fieldMemory,
		Version:         "1.2.3",
	}, transcriber, opts.limiter, f.metrics, nil)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

type formFile struct {
	name string
	data []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, file *formFile) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", file.name)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func wavUpload() *formFile {
	return &formFile{name: "clip.wav", data: toneWAV()}
}

type resultTranscriber struct {
	result    transcription.Result
	panicWith any
}

func (r resultTranscriber) Transcribe(context.Context, transcription.Request) transcription.Result {
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	return r.result
}

var errBoom = errors.New("boom")

// capturingTranscriber reads the upload the way the service would and
// records what the handler passed in.
type capturingTranscriber struct {
	req  transcription.Request
	body []byte
}

func (c *capturingTranscriber) Transcribe(_ context.Context, req transcription.Request) transcription.Result {
	c.req = req
	if req.Upload != nil {
		data, err := io.ReadAll(req.Upload)
		if err != nil {
			return transcription.Fail(transcription.KindUnknown.String(), err.Error())
		}
		c.body = data
	}
	return transcription.Succeed("ok")
}
