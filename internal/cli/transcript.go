package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fmueller/whisperapi/internal/whisper"
)

const (
	blankAudioToken = "[BLANK_AUDIO]"

	outputText = "text"
	outputJSON = "json"
)

func isBlankTranscript(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return true
	}

	return strings.EqualFold(trimmed, blankAudioToken)
}

func noSpeechHint(audioPath string) string {
	return fmt.Sprintf("No speech detected in %s. Check that the file contains audible speech and the language is right.", audioPath)
}

func validateOutputFormat(format string) error {
	switch format {
	case outputText, outputJSON:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q; use text or json", format)
	}
}

// writeTranscript prints a text or segment payload. Segments render as one
// "[start --> end] text" line each in text mode.
func writeTranscript(w io.Writer, payload any, format string) error {
	if format == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	switch v := payload.(type) {
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case []whisper.Segment:
		for _, seg := range v {
			if _, err := fmt.Fprintf(w, "[%s --> %s] %s\n", whisper.FormatTimestamp(seg.Start), whisper.FormatTimestamp(seg.End), seg.Text); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unexpected transcript payload %T", payload)
	}
}
