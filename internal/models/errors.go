package models

// RecordError is a validation or lifecycle error on an inspection record
type RecordError struct {
	Message string
}

func (e RecordError) Error() string {
	return e.Message
}

var (
	ErrMissingID          = RecordError{"record id cannot be empty"}
	ErrMissingEmpresa     = RecordError{"empresa reference cannot be empty"}
	ErrMissingImovel      = RecordError{"imovel reference cannot be empty"}
	ErrMissingVistoriador = RecordError{"vistoriador reference cannot be empty"}
	ErrInvalidKind        = RecordError{"inspection kind is not recognized"}
	ErrInvalidCondition   = RecordError{"checklist condition is not recognized"}
	ErrEmptyPhotoRef      = RecordError{"photo reference cannot be empty"}
	ErrRecordNotFound     = RecordError{"record not found"}
	ErrBadTransition      = RecordError{"status transition not allowed"}
)
