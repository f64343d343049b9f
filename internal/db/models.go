package db

// SourceInfo describes one source file with a saved annotation log
type SourceInfo struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	SavedAt     int64  `json:"saved_at"`
	Records     int    `json:"records"`
}
