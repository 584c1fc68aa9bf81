package domain

import "time"

// RawData is the append-only provenance row written with every successful document write.
type RawData struct {
	ID              int64     `json:"id,omitempty"`
	Type            string    `json:"type"`
	Datasource      string    `json:"datasource"`
	SourceInterface string    `json:"sourceinterface"`
	SourceID        string    `json:"sourceid"`
	SourceURL       string    `json:"sourceurl,omitempty"`
	ImportDate      time.Time `json:"importdate"`
	License         string    `json:"license"`
	RawFormat       string    `json:"rawformat"`
	Raw             []byte    `json:"raw"`
}

// RawChange records what changed on an update and who changed it.
type RawChange struct {
	ID         int64     `json:"id,omitempty"`
	Type       string    `json:"type"`
	Datasource string    `json:"datasource"`
	SourceID   string    `json:"sourceid"`
	EditSource string    `json:"editsource"`
	EditedBy   string    `json:"editedby"`
	Date       time.Time `json:"date"`
	License    string    `json:"license"`
	Changes    []string  `json:"changes"`
}

// LicenseKind returns "closed" or "open" for an audit row.
func LicenseKind(info *LicenseInfo) string {
	if info != nil && info.ClosedData {
		return "closed"
	}
	return "open"
}

// ImportLog is the structured outcome of one unit of import work.
type ImportLog struct {
	SourceID        string `json:"sourceid"`
	SourceInterface string `json:"sourceinterface"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
}
