package domain

// PersistenceStatus classifies the result of one store write.
type PersistenceStatus string

const (
	PersistSuccess        PersistenceStatus = "success"
	PersistConflict       PersistenceStatus = "conflict"
	PersistTransportError PersistenceStatus = "transport_error"
	PersistSchemaRejected PersistenceStatus = "schema_rejected"
)

// PersistenceOutcome is the writer's verdict on one attempt. Body carries the
// raw store response for diagnosis and never reaches the end user.
type PersistenceOutcome struct {
	Status     PersistenceStatus `json:"status"`
	StoredID   string            `json:"stored_id,omitempty"`
	DedupeKey  string            `json:"dedupe_key"`
	HTTPStatus int               `json:"http_status,omitempty"`
	Body       string            `json:"body,omitempty"`
	Err        string            `json:"error,omitempty"`
	Record     Record            `json:"-"`
}

// Applied reports whether the record is durably stored after this outcome.
func (o PersistenceOutcome) Applied() bool {
	return o.Status == PersistSuccess || o.Status == PersistConflict
}
