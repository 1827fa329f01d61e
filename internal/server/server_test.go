package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fmueller/whisperapi/internal/ratelimit"
	"github.com/fmueller/whisperapi/internal/transcription"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	require.NotEmpty(t, body["error"])
	return body["error"]
}

func TestTranscribeReturnsText(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	for _, path := range []string{"/transcribe", "/"} {
		rec := f.do(multipartRequest(t, path, map[string]string{
			"lang": "en", "model": "tiny", "translate": "false", "timeStamps": "false",
		}, wavUpload()))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.JSONEq(t, `{"success":true,"result":"hello world"}`, rec.Body.String())
	}

	entries, err := os.ReadDir(f.audioDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTranscribeReturnsTimestampSegments(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	rec := f.do(multipartRequest(t, "/transcribe", map[string]string{
		"lang": "English", "timeStamps": "true",
	}, wavUpload()))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"success":true,"result":[
		{"start":"00:00:00.000","end":"00:00:01.250","text":"Hello"},
		{"start":"00:00:01.250","end":"00:00:02.000","text":"world"}
	]}`, rec.Body.String())
}

func TestTranscribeFailureStatuses(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		opts   fixtureOptions
		fields map[string]string
		file   *formFile
		status int
	}{
		"invalid language": {
			fields: map[string]string{"lang": "xx-not-a-language", "model": "tiny"},
			file:   wavUpload(),
			status: http.StatusBadRequest,
		},
		"invalid model": {
			fields: map[string]string{"lang": "en", "model": "not-a-real-model"},
			file:   wavUpload(),
			status: http.StatusUnprocessableEntity,
		},
		"no file": {
			fields: map[string]string{"lang": "en", "model": "tiny"},
			status: http.StatusNotFound,
		},
		"not audio": {
			fields: map[string]string{"lang": "en"},
			file:   &formFile{name: "notes.txt", data: []byte("these are meeting notes, not audio\n")},
			status: http.StatusUnsupportedMediaType,
		},
		"engine failure": {
			opts:   fixtureOptions{engine: scriptedEngine{err: errBoom}},
			fields: map[string]string{"lang": "en"},
			file:   wavUpload(),
			status: http.StatusUnprocessableEntity,
		},
		"provision failure": {
			opts:   fixtureOptions{provisionErr: errBoom},
			fields: map[string]string{"lang": "en"},
			file:   wavUpload(),
			status: http.StatusInternalServerError,
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tc.opts)
			rec := f.do(multipartRequest(t, "/transcribe", tc.fields, tc.file))

			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			msg := decodeError(t, rec)
			require.NotContains(t, msg, "boom")
		})
	}
}

func TestTranscribeWithoutMultipartBodyIsNoFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader("lang=en&model=tiny"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	decodeError(t, rec)
}

func TestTranscribeRejectsOversizedUpload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{maxUpload: 1024})
	rec := f.do(multipartRequest(t, "/transcribe", map[string]string{"lang": "en"}, wavUpload()))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, decodeError(t, rec), "1024 bytes")
}

func orderedMultipart(t *testing.T, build func(mw *multipart.Writer)) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	build(mw)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func writeFile(t *testing.T, mw *multipart.Writer, field, name string, data []byte) {
	t.Helper()
	part, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
}

func TestTranscribeStreamsFilePartToTranscriber(t *testing.T) {
	t.Parallel()

	capture := &capturingTranscriber{}
	f := newFixture(t, fixtureOptions{transcriber: capture, fieldMemory: 64})
	upload := toneWAV()

	rec := f.do(orderedMultipart(t, func(mw *multipart.Writer) {
		require.NoError(t, mw.WriteField("lang", "de"))
		require.NoError(t, mw.WriteField("timeStamps", "true"))
		writeFile(t, mw, "attachment", "ignored.bin", []byte("skip me"))
		writeFile(t, mw, "file", "clip.wav", upload)
		require.NoError(t, mw.WriteField("model", "small"))
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.IsType(t, uploadReader{}, capture.req.Upload)
	require.Equal(t, "clip.wav", capture.req.FileName)
	require.Equal(t, "de", capture.req.Language)
	require.True(t, capture.req.Timestamps)
	require.Empty(t, capture.req.Model)
	require.Equal(t, upload, capture.body)
}

func TestTranscribeReadsFieldsFromQuery(t *testing.T) {
	t.Parallel()

	capture := &capturingTranscriber{}
	f := newFixture(t, fixtureOptions{transcriber: capture})
	req := multipartRequest(t, "/transcribe?lang=fr&translate=1", map[string]string{"lang": "en"}, wavUpload())

	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "en", capture.req.Language)
	require.True(t, capture.req.Translate)
}

func TestTranscribeRejectsOversizedFormField(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{fieldMemory: 16})
	rec := f.do(multipartRequest(t, "/transcribe", map[string]string{
		"lang": strings.Repeat("x", 64),
	}, wavUpload()))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "The upload could not be read.", decodeError(t, rec))
	entries, err := os.ReadDir(f.audioDir)
	if err == nil {
		require.Empty(t, entries)
	}
}

func newBucket(t *testing.T, limit, queue int) *ratelimit.TokenBucket {
	t.Helper()
	b, err := ratelimit.New(ratelimit.Options{
		TokenLimit:          limit,
		TokensPerPeriod:     1,
		ReplenishmentPeriod: time.Hour,
		QueueLimit:          queue,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestRateLimitRejectsWhenExhausted(t *testing.T) {
	t.Parallel()

	bucket := newBucket(t, 1, 0)
	f := newFixture(t, fixtureOptions{limiter: bucket})

	rec := f.do(multipartRequest(t, "/transcribe", map[string]string{"lang": "en"}, wavUpload()))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(multipartRequest(t, "/transcribe", map[string]string{"lang": "en"}, wavUpload()))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	decodeError(t, rec)
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.AdmissionRejected), 0)

	bucket.TryReplenish()
	rec = f.do(multipartRequest(t, "/transcribe", map[string]string{"lang": "en"}, wavUpload()))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFailedRequestRefundsOneToken(t *testing.T) {
	t.Parallel()

	bucket := newBucket(t, 2, 0)
	f := newFixture(t, fixtureOptions{limiter: bucket})

	rec := f.do(multipartRequest(t, "/transcribe", map[string]string{"lang": "klingon"}, wavUpload()))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 2, bucket.Available())

	rec = f.do(multipartRequest(t, "/transcribe", map[string]string{"lang": "en"}, wavUpload()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, bucket.Available())
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.TokensRefunded), 0)
}

func TestPanicIsMappedToInternalError(t *testing.T) {
	t.Parallel()

	bucket := newBucket(t, 1, 0)
	f := newFixture(t, fixtureOptions{limiter: bucket, transcriber: resultTranscriber{panicWith: "engine exploded"}})

	rec := f.do(multipartRequest(t, "/transcribe", map[string]string{"lang": "en"}, wavUpload()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, msgInternal, decodeError(t, rec))
	require.Equal(t, 1, bucket.Available())
	require.InDelta(t, 0, testutil.ToFloat64(f.metrics.InFlight), 0)
}

func TestAbortedHandlerStillReleasesItsToken(t *testing.T) {
	t.Parallel()

	bucket := newBucket(t, 1, 0)
	f := newFixture(t, fixtureOptions{limiter: bucket, transcriber: resultTranscriber{panicWith: http.ErrAbortHandler}})

	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		f.do(multipartRequest(t, "/transcribe", map[string]string{"lang": "en"}, wavUpload()))
	})
	require.Equal(t, 1, bucket.Available())
	require.InDelta(t, 0, testutil.ToFloat64(f.metrics.InFlight), 0)
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.TokensRefunded), 0)
}

func TestUnclassifiedFailureUsesGenericMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{transcriber: resultTranscriber{
		result: transcription.Fail("SomethingNew", ""),
	}})

	rec := f.do(multipartRequest(t, "/transcribe", nil, wavUpload()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotEmpty(t, decodeError(t, rec))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[transcription.Kind]int{
		transcription.KindInvalidFileType: http.StatusUnsupportedMediaType,
		transcription.KindInvalidLanguage: http.StatusBadRequest,
		transcription.KindInvalidModel:    http.StatusUnprocessableEntity,
		transcription.KindNoFile:          http.StatusNotFound,
		transcription.KindFileProcessing:  http.StatusUnprocessableEntity,
		transcription.KindUnknown:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		status, msg := StatusFor(&transcription.Error{Kind: kind, Message: "m"})
		require.Equal(t, want, status, kind.String())
		require.Equal(t, "m", msg)
	}

	status, msg := StatusFor(errBoom)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, msgInternal, msg)
}

func TestLandingPage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "POST /transcribe")
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "1.2.3", body.Version)
	require.NotEmpty(t, body.Platform)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := f.do(req)

	require.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestModelsReportsInstalledState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	require.NoError(t, os.MkdirAll(f.modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.modelDir, "ggml-tiny.bin"), []byte("w"), 0o644))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var models []modelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	require.Len(t, models, 5)

	installed := map[string]bool{}
	for _, m := range models {
		installed[m.Name] = m.Installed
		require.Len(t, m.SHA256, 64)
	}
	require.True(t, installed["tiny"])
	require.False(t, installed["base"])
}

func TestLanguages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/languages", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var langs []struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &langs))
	require.NotEmpty(t, langs)
	require.Contains(t, rec.Body.String(), `"code":"en"`)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	f.do(multipartRequest(t, "/transcribe", map[string]string{"lang": "en"}, wavUpload()))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `whisperapi_http_requests_total{method="POST",route="/transcribe",status_code="200"} 1`)
	require.Contains(t, body, `whisperapi_stage_duration_seconds_count{outcome="ok",stage="transcribe"} 1`)
	require.Contains(t, body, `whisperapi_transcriptions_total{error_code="none"} 1`)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	decodeError(t, rec)

	rec = f.do(httptest.NewRequest(http.MethodDelete, "/transcribe", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	decodeError(t, rec)
}

func TestServeShutsDownWhenContextEnds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
