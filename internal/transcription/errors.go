package transcription

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The set is closed; the HTTP layer
// switches over it to pick a status code.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidFileType
	KindInvalidLanguage
	KindInvalidModel
	KindNoFile
	KindFileProcessing
)

func (k Kind) String() string {
	switch k {
	case KindInvalidFileType:
		return "InvalidFileType"
	case KindInvalidLanguage:
		return "InvalidLanguage"
	case KindInvalidModel:
		return "InvalidModel"
	case KindNoFile:
		return "NoFile"
	case KindFileProcessing:
		return "FileProcessing"
	default:
		return "Unknown"
	}
}

// ParseKind maps an error code back to its Kind. Unrecognised codes are
// KindUnknown.
func ParseKind(code string) Kind {
	for _, k := range []Kind{KindInvalidFileType, KindInvalidLanguage, KindInvalidModel, KindNoFile, KindFileProcessing} {
		if k.String() == code {
			return k
		}
	}
	return KindUnknown
}

const (
	msgInvalidFileType = "The uploaded file is not a supported audio or video format."
	msgInvalidLanguage = "The language is not supported. Use a two-letter code, an English language name, or \"auto\"."
	msgInvalidModel    = "The model is not supported. Use one of tiny, base, small, medium or large-v3."
	msgNoFile          = "No file was uploaded. Attach the audio as the multipart field \"file\"."
	msgFileProcessing  = "The file could not be processed."
	msgUnknown         = "An unexpected error occurred."
)

func defaultMessage(kind Kind) string {
	switch kind {
	case KindInvalidFileType:
		return msgInvalidFileType
	case KindInvalidLanguage:
		return msgInvalidLanguage
	case KindInvalidModel:
		return msgInvalidModel
	case KindNoFile:
		return msgNoFile
	case KindFileProcessing:
		return msgFileProcessing
	default:
		return msgUnknown
	}
}

// Error is a classified pipeline failure. Message is safe to show to
// clients; Err carries the internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: defaultMessage(kind), Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	return KindUnknown
}
