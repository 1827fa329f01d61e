package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const DefaultModel = "base"

var ErrUnknownModel = errors.New("unknown model")

type Model struct {
	Name     string `json:"name"`
	FileName string `json:"file"`
	URL      string `json:"-"`
	SHA256   string `json:"sha256"`
}

type ResolvedModel struct {
	Model
	Path          string
	NeedsDownload bool
}

var registry = map[string]Model{
	"tiny": {
		Name:     "tiny",
		FileName: "ggml-tiny.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
		SHA256:   "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21",
	},
	"base": {
		Name:     "base",
		FileName: "ggml-base.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
		SHA256:   "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe",
	},
	"small": {
		Name:     "small",
		FileName: "ggml-small.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
		SHA256:   "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b",
	},
	"medium": {
		Name:     "medium",
		FileName: "ggml-medium.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin",
		SHA256:   "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208",
	},
	"large-v3": {
		Name:     "large-v3",
		FileName: "ggml-large-v3.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin",
		SHA256:   "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2",
	},
}

func ModelNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseModel looks up a model tier by name, ignoring case and surrounding
// whitespace.
func ParseModel(name string) (Model, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	model, ok := registry[key]
	if !ok {
		return Model{}, fmt.Errorf("%w %q (known models: %s)", ErrUnknownModel, name, strings.Join(ModelNames(), ", "))
	}
	return model, nil
}

func (m Model) Path(modelDir string) string {
	return filepath.Join(modelDir, m.FileName)
}

func ResolveModel(name, modelDir string) (ResolvedModel, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultModel
	}

	model, err := ParseModel(name)
	if err != nil {
		return ResolvedModel{}, err
	}

	if strings.TrimSpace(modelDir) == "" {
		return ResolvedModel{}, errors.New("model directory must not be empty")
	}

	modelPath := model.Path(modelDir)
	_, statErr := os.Stat(modelPath)
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return ResolvedModel{}, fmt.Errorf("stat model path: %w", statErr)
	}

	return ResolvedModel{
		Model:         model,
		Path:          modelPath,
		NeedsDownload: errors.Is(statErr, os.ErrNotExist),
	}, nil
}

// OutputFormat is the whisper-cli flag selecting the output file type.
type OutputFormat string

const (
	FormatText OutputFormat = "-otxt"
	FormatJSON OutputFormat = "-oj"
)

func OutputFormatFor(timestamps bool) OutputFormat {
	if timestamps {
		return FormatJSON
	}
	return FormatText
}

// Extension is the file suffix whisper-cli appends for the format.
func (f OutputFormat) Extension() string {
	if f == FormatJSON {
		return "json"
	}
	return "txt"
}

// OutputPath is where whisper-cli writes its result when run with
// "-of <audioPath>".
func (f OutputFormat) OutputPath(audioPath string) string {
	return audioPath + "." + f.Extension()
}
