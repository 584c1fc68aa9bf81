package transport

// Envelope wraps import, health and error responses. Document reads and write results are
// returned bare so clients see the paging envelope and CRUD result directly.
type Envelope struct {
	Status    string      `json:"status"`
	Code      string      `json:"code,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Meta      interface{} `json:"meta,omitempty"`
}

func NewSuccess(data interface{}) Envelope {
	return Envelope{
		Status: "success",
		Data:   data,
	}
}

// NewError keeps message verbatim so the original cause stays visible to the caller.
func NewError(code, message string, meta interface{}) Envelope {
	return Envelope{
		Status: "error",
		Code:   code,
		Error:  message,
		Meta:   meta,
	}
}

// WithRequestID lets clients quote the id that appears in the server logs.
func (e Envelope) WithRequestID(id string) Envelope {
	e.RequestID = id
	return e
}
