package models

// ConnectionQuality is a coarse rating of the path to the backend,
// derived from how many probe attempts were needed
type ConnectionQuality string

const (
	QualityGood ConnectionQuality = "good"
	QualityPoor ConnectionQuality = "poor"
	QualityNone ConnectionQuality = "none"
)

// UploadOutcome is the per-photo result of an upload attempt. It is never
// persisted; the orchestrator consumes it to build the record's final
// photo URL list or to flag the record as errored.
type UploadOutcome struct {
	Success  bool
	URL      string
	Error    string
	Attempts int
}

// UploadSuccess creates a successful outcome
func UploadSuccess(url string, attempts int) UploadOutcome {
	return UploadOutcome{Success: true, URL: url, Attempts: attempts}
}

// UploadFailure creates a failed outcome
func UploadFailure(errMsg string, attempts int) UploadOutcome {
	return UploadOutcome{Success: false, Error: errMsg, Attempts: attempts}
}

// BatchUploadResult summarizes a multi-photo upload. URLs holds only the
// successful uploads in input order with failed slots omitted, so callers
// must map failures through FailedIndexes rather than by position.
type BatchUploadResult struct {
	Success        bool
	URLs           []string
	FailedIndexes  []int
	Errors         []string
	PartialSuccess bool
}

// SyncResult is the per-invocation summary returned by every orchestrator
// entry point. Entry points never return Go errors; all outcomes land here.
type SyncResult struct {
	Success           bool              `json:"success"`
	Synced            int               `json:"synced"`
	Failed            int               `json:"failed"`
	Errors            []string          `json:"errors"`
	PartialSuccess    bool              `json:"partialSuccess"`
	ConnectionQuality ConnectionQuality `json:"connectionQuality"`
}

// EmptySyncResult is the idempotent no-op result for a run with nothing to do
func EmptySyncResult(quality ConnectionQuality) SyncResult {
	return SyncResult{Success: true, Errors: []string{}, ConnectionQuality: quality}
}

// FailedSyncResult creates a result for a run that could not start
func FailedSyncResult(errMsg string, quality ConnectionQuality) SyncResult {
	return SyncResult{Success: false, Errors: []string{errMsg}, ConnectionQuality: quality}
}
