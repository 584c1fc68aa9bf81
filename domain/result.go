package domain

import "sort"

// Operation names the write intent of an upsert.
type Operation string

const (
	OperationCreate          Operation = "CREATE"
	OperationUpdate          Operation = "UPDATE"
	OperationCreateAndUpdate Operation = "CREATE_AND_UPDATE"
	OperationDelete          Operation = "DELETE"
)

// WriteState is the outcome of a single upsert decision.
type WriteState string

const (
	StateNew       WriteState = "new"
	StateUnchanged WriteState = "unchanged"
	StateChanged   WriteState = "changed"
	StateError     WriteState = "error"
)

// CRUDResult reports a single write.
type CRUDResult struct {
	ID                 string     `json:"id"`
	Operation          Operation  `json:"operation"`
	State              WriteState `json:"state"`
	Created            int        `json:"created"`
	Updated            int        `json:"updated"`
	Deleted            int        `json:"deleted"`
	Error              int        `json:"error"`
	ObjectChanged      int        `json:"objectchanged"`
	ObjectImageChanged int        `json:"objectimagechanged"`
	Changes            []string   `json:"changes,omitempty"`
	PushChannels       []string   `json:"pushchannels,omitempty"`
	ErrorReason        string     `json:"errorreason,omitempty"`
}

// BatchCRUDResult reports a batch write; ValidationErrors is keyed by "[index]".
type BatchCRUDResult struct {
	Created          int                 `json:"Created"`
	Updated          int                 `json:"Updated"`
	Unchanged        int                 `json:"Unchanged"`
	Errors           int                 `json:"Errors"`
	TotalProcessed   int                 `json:"TotalProcessed"`
	Success          bool                `json:"Success"`
	ValidationErrors map[string][]string `json:"ValidationErrors,omitempty"`
	Results          []CRUDResult        `json:"Results,omitempty"`
}

// UpdateDetail is the per-unit counter set aggregated by the importer.
type UpdateDetail struct {
	Created            int      `json:"created"`
	Updated            int      `json:"updated"`
	Deleted            int      `json:"deleted"`
	Error              int      `json:"error"`
	ObjectCompared     int      `json:"objectcompared"`
	ObjectChanged      int      `json:"objectchanged"`
	ObjectImageChanged int      `json:"objectimagechanged"`
	PushChannels       []string `json:"pushchannels,omitempty"`
}

// Detail converts a write result into importer counters.
func (r CRUDResult) Detail() UpdateDetail {
	compared := 0
	if r.State == StateChanged || r.State == StateUnchanged {
		compared = 1
	}
	return UpdateDetail{
		Created:            r.Created,
		Updated:            r.Updated,
		Deleted:            r.Deleted,
		Error:              r.Error,
		ObjectCompared:     compared,
		ObjectChanged:      r.ObjectChanged,
		ObjectImageChanged: r.ObjectImageChanged,
		PushChannels:       r.PushChannels,
	}
}

// MergeUpdateDetails sums counters and unions push channels.
func MergeUpdateDetails(details ...UpdateDetail) UpdateDetail {
	var out UpdateDetail
	channels := make(map[string]struct{})
	for _, d := range details {
		out.Created += d.Created
		out.Updated += d.Updated
		out.Deleted += d.Deleted
		out.Error += d.Error
		out.ObjectCompared += d.ObjectCompared
		out.ObjectChanged += d.ObjectChanged
		out.ObjectImageChanged += d.ObjectImageChanged
		for _, c := range d.PushChannels {
			channels[c] = struct{}{}
		}
	}
	if len(channels) > 0 {
		out.PushChannels = make([]string, 0, len(channels))
		for c := range channels {
			out.PushChannels = append(out.PushChannels, c)
		}
		sort.Strings(out.PushChannels)
	}
	return out
}
