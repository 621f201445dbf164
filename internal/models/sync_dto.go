package models

import "time"

// BulkSyncRequest is the one-shot submission of all processed records
type BulkSyncRequest struct {
	PendingInspections []InspectionRecord `json:"pendingInspections"`
	VistoriadorID      string             `json:"vistoriadorId"`
	EmpresaID          string             `json:"empresaId"`
}

// BulkSyncItemResult maps a server acknowledgement back to the
// client-assigned local identifier
type BulkSyncItemResult struct {
	LocalID  string     `json:"localId"`
	CloudID  string     `json:"cloudId"`
	Status   string     `json:"status"`
	SyncedAt *time.Time `json:"syncedAt,omitempty"`
}

// BulkSyncItemError is a per-record server-side rejection
type BulkSyncItemError struct {
	InspectionID string `json:"inspectionId"`
	Error        string `json:"error"`
}

// BulkSyncResponse is the server's reply to a bulk submission. Reconciliation
// depends on the per-item Results and Errors lists, not the aggregate counts.
type BulkSyncResponse struct {
	Synced  int                  `json:"synced"`
	Failed  int                  `json:"failed"`
	Results []BulkSyncItemResult `json:"results"`
	Errors  []BulkSyncItemError  `json:"errors"`
}

// HealthResponse is the health probe payload; the probe succeeds only on
// a 2xx response whose Status equals "ok"
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StorageUploadResult is returned by the photo storage endpoint after a
// successful upload. URL is treated as an opaque download reference.
type StorageUploadResult struct {
	URL        string    `json:"url"`
	StoredPath string    `json:"storedPath,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// ErrorResponse is returned by the backend on errors
type ErrorResponse struct {
	Error string `json:"error"`
}
