package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const executableEnv = "WHISPERAPI_WHISPER_PATH"

type CLIEngine struct {
	Executable string
	Threads    int
	Logger     *zap.Logger
}

// NewCLIEngine locates whisper-cli. An explicit path wins, then the
// WHISPERAPI_WHISPER_PATH environment variable, then a copy bundled next to
// the running binary, then $PATH.
func NewCLIEngine(executable string, logger *zap.Logger) (*CLIEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, override := range []string{executable, os.Getenv(executableEnv)} {
		override = strings.TrimSpace(override)
		if override == "" {
			continue
		}
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("whisper engine %s is not executable: %w", override, err)
		}
		return &CLIEngine{Executable: override, Logger: logger}, nil
	}

	if self, err := os.Executable(); err == nil {
		if bundled, err := ResolveBundledEnginePath(self); err == nil {
			return &CLIEngine{Executable: bundled, Logger: logger}, nil
		}
	}

	onPath, err := exec.LookPath(engineBinaryName())
	if err != nil {
		return nil, fmt.Errorf("whisper engine not found: set %s, pass --whisper-path, or install %s on PATH", executableEnv, engineBinaryName())
	}
	return &CLIEngine{Executable: onPath, Logger: logger}, nil
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("bundled whisper engine not found near %s, expected at ../libexec/whisper/%s", selfExecutable, engineBinaryName())
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, engineName),
	}
}

func (e *CLIEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return "", errors.New("audio path is required")
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		return "", errors.New("model path is required")
	}
	if req.Format == "" {
		req.Format = FormatText
	}

	if err := ensureExecutable(e.Executable); err != nil {
		return "", fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	args := e.buildArgs(req)
	cmd := exec.CommandContext(ctx, e.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	e.log().Debug("running whisper engine", zap.String("engine", e.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("whisper transcribe interrupted: %w", ctxErr)
		}
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return "", fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", e.Executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return "", fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
				"the CPU may lack required instruction set extensions; " +
				"point --whisper-path at a whisper-cli built for this CPU")
		}
		return "", fmt.Errorf("whisper transcribe failed: %w (%s)", err, errText)
	}

	outPath := req.Format.OutputPath(req.AudioPath)
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("whisper engine finished but output %s is missing: %w", outPath, err)
	}

	return outPath, nil
}

func (e *CLIEngine) buildArgs(req TranscriptionRequest) []string {
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = "auto"
	}

	args := []string{"-m", req.ModelPath, "-f", req.AudioPath, "-l", lang}
	if req.Translate {
		args = append(args, "-tr")
	}
	if e.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.Threads))
	}
	return append(args, "-of", req.AudioPath, string(req.Format))
}

func (e *CLIEngine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
