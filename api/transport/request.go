package transport

// ImportRequest is the optional body of an import trigger.
type ImportRequest struct {
	// ID imports a single upstream record instead of the whole feed.
	ID string `json:"id"`
	// Full ignores the delta checkpoint.
	Full bool `json:"full"`
}
