package whisper

import "context"

type TranscriptionRequest struct {
	AudioPath string
	ModelPath string
	Language  string
	Translate bool
	Format    OutputFormat
}

// Engine runs one transcription and returns the path of the file it wrote.
type Engine interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}
