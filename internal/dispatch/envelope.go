package dispatch

// Error codes carried by the response envelope. Validation and auth failures
// are resolved entirely inside the dispatcher; upstream failures are
// classified but their message passes through.
const (
	CodeUnknownTool            = "UnknownTool"
	CodeValidationError        = "ValidationError"
	CodeAuthRequired           = "AuthRequired"
	CodeAuthExpired            = "AuthExpired"
	CodeInvalidState           = "InvalidState"
	CodeUpstreamClientError    = "UpstreamClientError"
	CodeUpstreamTransientError = "UpstreamTransientError"
	CodeUpstreamUnavailable    = "UpstreamUnavailable"
)

// Envelope is the uniform response for every dispatched call. No failure
// leaves the dispatcher unstructured.
type Envelope struct {
	Status       string `json:"status"` // "success" or "error"
	Data         any    `json:"data,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

func success(data any) Envelope {
	return Envelope{Status: "success", Data: data}
}

func failure(code, msg string) Envelope {
	return Envelope{Status: "error", ErrorCode: code, Error: msg}
}

// OK reports whether the envelope carries a success.
func (e Envelope) OK() bool { return e.Status == "success" }
