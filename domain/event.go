package domain

import "encoding/json"

// Change operations mirrored from the store's change-capture log.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent is the bus envelope for one committed store write. At least
// one image is present: only-new is a create, only-old a delete, both an
// update. Oversized envelopes are archived and replaced by the Uri form.
type ChangeEvent struct {
	Topic    string          `json:"topic"`
	OldImage json.RawMessage `json:"oldImage,omitempty"`
	NewImage json.RawMessage `json:"newImage,omitempty"`
	Uri      string          `json:"uri,omitempty"`
}

func (e ChangeEvent) IsPointer() bool { return e.Uri != "" }

func (e ChangeEvent) Operation() string {
	switch {
	case len(e.OldImage) == 0:
		return OpCreate
	case len(e.NewImage) == 0:
		return OpDelete
	default:
		return OpUpdate
	}
}

// Topic layout: registry.<category>.<operation>.
func TopicFor(category Category, operation string) string {
	return "registry." + string(category) + "." + operation
}

// IndexPointer confirms a durably applied projection and names where it went.
type IndexPointer struct {
	Index        string `json:"index"`
	Identifier   string `json:"identifier"`
	ModifiedDate string `json:"modifiedDate"`
}
