package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fmueller/whisperapi/internal/language"
	"github.com/fmueller/whisperapi/internal/platform"
	"github.com/fmueller/whisperapi/internal/transcription"
	"github.com/fmueller/whisperapi/internal/whisper"
)

const landingPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>whisperapi</title>
<style>
body { font-family: sans-serif; max-width: 42rem; margin: 3rem auto; line-height: 1.5; }
code { background: #f2f2f2; padding: 0 .25rem; }
</style>
</head>
<body>
<h1>whisperapi</h1>
<p>Speech to text with whisper.cpp.</p>
<p><code>POST /transcribe</code> with multipart fields <code>file</code>, <code>lang</code>,
<code>model</code>, <code>translate</code> and <code>timeStamps</code>.</p>
<p>See <a href="/models">/models</a> and <a href="/languages">/languages</a>.</p>
</body>
</html>
`

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	req, err := parseTranscriptionRequest(r, s.opts.MultipartMemory)
	if err != nil {
		return err
	}

	result := s.transcriber.Transcribe(r.Context(), req)
	s.metrics.ObserveResult(result.ErrorCode)
	if err := result.Err(); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, result)
	return nil
}

// parseTranscriptionRequest reads form fields up to the "file" part and
// hands that part over unread, so the upload streams straight to disk.
// Fields sent after the file are not seen. A request without a file yields
// a Request with a nil Upload.
func parseTranscriptionRequest(r *http.Request, fieldMemory int64) (transcription.Request, error) {
	mr, err := r.MultipartReader()
	if errors.Is(err, http.ErrNotMultipart) {
		if err := r.ParseForm(); err != nil {
			return transcription.Request{}, requestError(err)
		}
		return requestFromForm(r.Form), nil
	}
	if err != nil {
		return transcription.Request{}, requestError(err)
	}

	fields := url.Values{}
	remaining := fieldMemory
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return requestFromForm(withQuery(fields, r)), nil
		}
		if err != nil {
			return transcription.Request{}, requestError(err)
		}

		if part.FileName() != "" {
			if part.FormName() != "file" {
				continue
			}
			req := requestFromForm(withQuery(fields, r))
			req.Upload = uploadReader{part}
			req.FileName = part.FileName()
			return req, nil
		}

		value, err := io.ReadAll(io.LimitReader(part, remaining+1))
		if err != nil {
			return transcription.Request{}, requestError(err)
		}
		remaining -= int64(len(value))
		if remaining < 0 {
			return transcription.Request{}, requestError(multipart.ErrMessageTooLarge)
		}
		fields.Add(part.FormName(), string(value))
	}
}

// withQuery appends URL query values after the body fields, the same
// precedence r.FormValue gives.
func withQuery(fields url.Values, r *http.Request) url.Values {
	for key, values := range r.URL.Query() {
		fields[key] = append(fields[key], values...)
	}
	return fields
}

func requestFromForm(form url.Values) transcription.Request {
	return transcription.Request{
		Language:   form.Get("lang"),
		Model:      form.Get("model"),
		Translate:  formBool(form, "translate"),
		Timestamps: formBool(form, "timeStamps", "timestamps"),
	}
}

// uploadReader classifies body read failures while the file part is being
// persisted.
type uploadReader struct {
	part *multipart.Part
}

func (u uploadReader) Read(p []byte) (int, error) {
	n, err := u.part.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, requestError(err)
	}
	return n, err
}

func requestError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &transcription.Error{
			Kind:    transcription.KindFileProcessing,
			Message: fmt.Sprintf("The upload exceeds the limit of %d bytes.", tooLarge.Limit),
			Err:     err,
		}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return &transcription.Error{
			Kind:    transcription.KindFileProcessing,
			Message: "The upload could not be read.",
			Err:     err,
		}
	}
	return &transcription.Error{
		Kind:    transcription.KindFileProcessing,
		Message: "The request form could not be parsed.",
		Err:     err,
	}
}

// formBool reads the first present key. Unparsable values are false.
func formBool(form url.Values, keys ...string) bool {
	for _, key := range keys {
		raw := strings.TrimSpace(form.Get(key))
		if raw == "" {
			continue
		}
		if raw == "on" {
			return true
		}
		v, err := strconv.ParseBool(raw)
		return err == nil && v
	}
	return false
}

func (s *Server) handleLanding(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, landingPage)
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  s.opts.Version,
		Platform: platform.CurrentRuntime().String(),
	})
}

type modelResponse struct {
	Name      string `json:"name"`
	FileName  string `json:"file"`
	SHA256    string `json:"sha256"`
	Installed bool   `json:"installed"`
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	names := whisper.ModelNames()
	models := make([]modelResponse, 0, len(names))
	for _, name := range names {
		model, err := whisper.ParseModel(name)
		if err != nil {
			continue
		}
		entry := modelResponse{Name: model.Name, FileName: model.FileName, SHA256: model.SHA256}
		if s.opts.ModelDir != "" {
			if resolved, err := whisper.ResolveModel(name, s.opts.ModelDir); err == nil {
				entry.Installed = !resolved.NeedsDownload
			}
		}
		models = append(models, entry)
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, language.Catalog())
}
