package transcription

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/fmueller/whisperapi/internal/whisper"
	"github.com/google/uuid"
)

const maxExtLen = 16

// Storage hands out per-request file paths under one directory.
type Storage struct {
	Dir string
}

// Workspace holds the three temporary paths of one request. Cleanup must be
// deferred as soon as Allocate returns.
type Workspace struct {
	ID         string
	SourcePath string
	WAVPath    string
	OutputPath string

	once sync.Once
	err  error
}

func (s Storage) Allocate(fileName string, format whisper.OutputFormat) (*Workspace, error) {
	if strings.TrimSpace(s.Dir) == "" {
		return nil, errors.New("audio directory is required")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}

	id := uuid.NewString()
	wavPath := filepath.Join(s.Dir, id+".wav")
	return &Workspace{
		ID:         id,
		SourcePath: filepath.Join(s.Dir, id+"-upload"+sanitizeExt(fileName)),
		WAVPath:    wavPath,
		OutputPath: format.OutputPath(wavPath),
	}, nil
}

// Persist streams the upload into SourcePath. The file must not exist yet.
func (w *Workspace) Persist(r io.Reader) (int64, error) {
	f, err := os.OpenFile(w.SourcePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		return n, fmt.Errorf("write upload file: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close upload file: %w", closeErr)
	}
	return n, nil
}

// Cleanup removes every temporary file. Files that were never created are
// not an error. Repeated calls return the first result.
func (w *Workspace) Cleanup() error {
	w.once.Do(func() {
		var errs []error
		for _, path := range []string{w.SourcePath, w.WAVPath, w.OutputPath} {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		w.err = errors.Join(errs...)
	})
	return w.err
}

func sanitizeExt(fileName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(fileName)))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return ""
		}
	}
	return ext
}
