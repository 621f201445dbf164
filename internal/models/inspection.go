package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// InspectionKind classifies the purpose of a field inspection
type InspectionKind string

const (
	KindMoveIn      InspectionKind = "move_in"
	KindMoveOut     InspectionKind = "move_out"
	KindMaintenance InspectionKind = "maintenance"
)

// Valid returns true if the kind is one of the known values
func (k InspectionKind) Valid() bool {
	switch k {
	case KindMoveIn, KindMoveOut, KindMaintenance:
		return true
	}
	return false
}

// Condition rates a single checklist item
type Condition string

const (
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
	ConditionDamaged Condition = "damaged"
)

// Valid returns true if the condition is one of the known values
func (c Condition) Valid() bool {
	switch c {
	case ConditionGood, ConditionFair, ConditionDamaged:
		return true
	}
	return false
}

// RecordStatus is the sync lifecycle state of a pending inspection
type RecordStatus string

const (
	StatusPending RecordStatus = "pending"
	StatusSynced  RecordStatus = "synced"
	StatusError   RecordStatus = "error"
)

// Valid returns true if the status is one of the known values
func (s RecordStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSynced, StatusError:
		return true
	}
	return false
}

// CanTransitionTo returns true if this status can transition to the target status.
// Synced is terminal; errored records go back to pending only through an
// explicit retry.
func (s RecordStatus) CanTransitionTo(target RecordStatus) bool {
	switch s {
	case StatusPending:
		return target == StatusSynced || target == StatusError
	case StatusError:
		return target == StatusPending
	case StatusSynced:
		return false
	default:
		return false
	}
}

// PhotoReference points at an on-device image captured during an inspection.
// LocalURI is either an absolute file path or an inline data URI. After a
// successful upload the orchestrator replaces LocalURI with the remote
// download URL.
type PhotoReference struct {
	LocalURI string `json:"localUri"`
	Comment  string `json:"comment,omitempty"`
}

// InspectionRecord is a unit of field work pending submission to the server.
// The ID is assigned locally and stays stable until the server acknowledges
// the record and issues its own identifier.
type InspectionRecord struct {
	ID            string               `json:"id"`
	EmpresaID     string               `json:"empresaId"`
	ImovelID      string               `json:"imovelId"`
	VistoriadorID string               `json:"vistoriadorId"`
	Kind          InspectionKind       `json:"kind"`
	Photos        []PhotoReference     `json:"photos,omitempty"`
	Checklist     map[string]Condition `json:"checklist,omitempty"`
	Notes         string               `json:"notes,omitempty"`
	Status        RecordStatus         `json:"status"`
	ErrorMessage  string               `json:"errorMessage,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// NewInspectionRecord creates a pending record with a fresh local identifier
func NewInspectionRecord(empresaID, imovelID, vistoriadorID string, kind InspectionKind) *InspectionRecord {
	return &InspectionRecord{
		ID:            uuid.New().String(),
		EmpresaID:     empresaID,
		ImovelID:      imovelID,
		VistoriadorID: vistoriadorID,
		Kind:          kind,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// Validate checks that the record is well-formed enough to submit
func (r *InspectionRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(r.EmpresaID) == "" {
		return ErrMissingEmpresa
	}
	if strings.TrimSpace(r.ImovelID) == "" {
		return ErrMissingImovel
	}
	if strings.TrimSpace(r.VistoriadorID) == "" {
		return ErrMissingVistoriador
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	for _, p := range r.Photos {
		if strings.TrimSpace(p.LocalURI) == "" {
			return ErrEmptyPhotoRef
		}
	}
	for _, c := range r.Checklist {
		if !c.Valid() {
			return ErrInvalidCondition
		}
	}
	return nil
}

// PhotoURIs returns the local references of all photos in capture order
func (r *InspectionRecord) PhotoURIs() []string {
	uris := make([]string, len(r.Photos))
	for i, p := range r.Photos {
		uris[i] = p.LocalURI
	}
	return uris
}
