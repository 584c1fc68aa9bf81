package monitor

import "time"

// Status is the last probe result, served by /health.
type Status struct {
	PostgreSQL bool      `json:"postgresql"`
	Redis      bool      `json:"redis"`
	Buffer     bool      `json:"buffer"`
	BufferSize int       `json:"buffer_size"`
	LastCheck  time.Time `json:"last_check"`
}

// Degraded names the stores that failed their last probe.
func (s Status) Degraded() []string {
	var out []string
	if !s.PostgreSQL {
		out = append(out, "postgresql")
	}
	if !s.Redis {
		out = append(out, "redis")
	}
	if !s.Buffer {
		out = append(out, "buffer")
	}
	return out
}
