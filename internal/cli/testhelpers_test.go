package cli

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeFFmpegScript copies the -i input to the last argument.
const fakeFFmpegScript = `#!/bin/sh
src=""
prev=""
for arg; do
  if [ "$prev" = "-i" ]; then src="$arg"; fi
  prev="$arg"
done
cp "$src" "$prev"
`

// fakeWhisperScript writes "<-of value>.<ext>" like whisper-cli does.
const fakeWhisperScript = `#!/bin/sh
out=""
ext=""
while [ $# -gt 0 ]; do
  case "$1" in
    -of) out="$2"; shift ;;
    -otxt) ext=txt ;;
    -oj) ext=json ;;
  esac
  shift
done
if [ "$ext" = "json" ]; then
  printf '{"transcription": [{"offsets": {"from": 0, "to": 1500}, "text": " hello world"}]}\n' > "$out.json"
else
  printf ' hello world\n' > "$out.txt"
fi
`

// runCommand executes the root command against an empty config file so the
// user's own config never leaks into a test.
func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	return runApp(t, &appState{}, args)
}

func runApp(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, nil, 0o644))

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// toolchain is a fake ffmpeg and whisper-cli plus a model directory holding
// an installed tiny model.
type toolchain struct {
	ffmpeg   string
	whisper  string
	modelDir string
	audioDir string
}

func newToolchain(t *testing.T) toolchain {
	t.Helper()

	dir := t.TempDir()
	tc := toolchain{
		ffmpeg:   writeScript(t, dir, "ffmpeg", fakeFFmpegScript),
		whisper:  writeScript(t, dir, "whisper-cli", fakeWhisperScript),
		modelDir: filepath.Join(dir, "models"),
		audioDir: filepath.Join(dir, "audio"),
	}
	require.NoError(t, os.MkdirAll(tc.modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tc.modelDir, "ggml-tiny.bin"), []byte("weights"), 0o644))
	return tc
}

func (tc toolchain) args(extra ...string) []string {
	return append([]string{
		"--no-progress",
		"--ffmpeg-path", tc.ffmpeg,
		"--whisper-path", tc.whisper,
		"--model-dir", tc.modelDir,
		"--audio-dir", tc.audioDir,
		"--auto-download=false",
	}, extra...)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func writeWAV(t *testing.T, samples []int16) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAVForTest(samples, 16000, 1), 0o644))
	return path
}

func toneSamples(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		if i%32 < 16 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	return samples
}

func makePCM16WAVForTest(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}
