// Package prototype defines the document model of the editing engine and a
// client for the storage service that persists documents and their version
// history.
package prototype

import (
	"encoding/json"
	"time"
)

// Prototype is one editable document. Data holds the canvas content; the
// engine treats it as opaque and never looks inside.
type Prototype struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Version   int64           `json:"version"`
	Pages     []Page          `json:"pages,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Page is navigation metadata for one canvas page.
type Page struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SaveReceipt acknowledges a persisted revision.
type SaveReceipt struct {
	Version int64     `json:"version"`
	SavedAt time.Time `json:"saved_at"`
}

// VersionInfo describes one stored revision of a prototype.
type VersionInfo struct {
	Version int64     `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Label   string    `json:"label,omitempty"`
}
