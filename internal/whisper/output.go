package whisper

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedOutput = errors.New("malformed whisper output")

type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

type segmentJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Text  string `json:"text"`
}

// MarshalJSON renders offsets as "HH:MM:SS.mmm".
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{
		Start: FormatTimestamp(s.Start),
		End:   FormatTimestamp(s.End),
		Text:  s.Text,
	})
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	start, err := parseTimestamp(raw.Start)
	if err != nil {
		return err
	}
	end, err := parseTimestamp(raw.End)
	if err != nil {
		return err
	}

	*s = Segment{Start: start, End: end, Text: raw.Text}
	return nil
}

func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}

// ReadText returns the plain-text output with surrounding whitespace removed.
func ReadText(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}
	return strings.TrimSpace(string(content)), nil
}

func ReadSegments(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	defer f.Close()

	return ParseSegments(f)
}

// cliOutput is the part of whisper-cli's "-oj" document that carries the
// segments. Offsets are milliseconds from the start of the audio.
type cliOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// ParseSegments decodes whisper-cli JSON output into segments, keeping the
// engine's order.
func ParseSegments(r io.Reader) ([]Segment, error) {
	var out cliOutput
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	segments := make([]Segment, 0, len(out.Transcription))
	for i, entry := range out.Transcription {
		seg := Segment{
			Start: time.Duration(entry.Offsets.From) * time.Millisecond,
			End:   time.Duration(entry.Offsets.To) * time.Millisecond,
			Text:  strings.TrimSpace(entry.Text),
		}
		if seg.Start < 0 || seg.End < seg.Start {
			return nil, fmt.Errorf("%w: segment %d ends before it starts (%s --> %s)",
				ErrMalformedOutput, i, FormatTimestamp(seg.Start), FormatTimestamp(seg.End))
		}
		segments = append(segments, seg)
	}

	return segments, nil
}

// parseTimestamp reads the "HH:MM:SS.mmm" form written by FormatTimestamp.
func parseTimestamp(raw string) (time.Duration, error) {
	clock, frac, _ := strings.Cut(strings.TrimSpace(raw), ".")

	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", raw)
	}

	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", raw)
		}
		total += time.Duration(n) * units[i]
	}

	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		ms, err := strconv.Atoi(frac)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", raw)
		}
		total += time.Duration(ms) * time.Millisecond
	}

	return total, nil
}
