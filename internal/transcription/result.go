package transcription

// Result is the terminal value of one pipeline run. Payload is a string for
// plain text or a []whisper.Segment when timestamps were requested.
type Result struct {
	Success      bool   `json:"success"`
	Payload      any    `json:"result"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	cause error
}

func Succeed(payload any) Result {
	return Result{Success: true, Payload: payload}
}

func Fail(code, message string) Result {
	return Result{ErrorCode: code, ErrorMessage: message}
}

func failWith(e *Error) Result {
	r := Fail(e.Kind.String(), e.Message)
	r.cause = e
	return r
}

// Err returns nil for a successful result and a typed *Error otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if terr, ok := r.cause.(*Error); ok {
		return terr
	}
	kind := ParseKind(r.ErrorCode)
	msg := r.ErrorMessage
	if msg == "" {
		msg = defaultMessage(kind)
	}
	return &Error{Kind: kind, Message: msg}
}
