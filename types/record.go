package types

import (
	"encoding/json"
	"fmt"
)

// Record is the ZNRecord-shaped JSON document stored in every node payload.
type Record struct {
	ID           string                       `json:"id"`
	SimpleFields map[string]string            `json:"simpleFields"`
	ListFields   map[string][]string          `json:"listFields"`
	MapFields    map[string]map[string]string `json:"mapFields"`
}

// NewRecord returns a Record with all field maps initialized.
func NewRecord(id string) Record {
	return Record{
		ID:           id,
		SimpleFields: map[string]string{},
		ListFields:   map[string][]string{},
		MapFields:    map[string]map[string]string{},
	}
}

// Marshal encodes the record as indented JSON.
func (r Record) Marshal() ([]byte, error) {
	r.ensureMaps()

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %s: %w", r.ID, err)
	}

	return data, nil
}

// ParseRecord decodes a record payload. Missing field maps are initialized.
func ParseRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	r.ensureMaps()

	return r, nil
}

func (r *Record) ensureMaps() {
	if r.SimpleFields == nil {
		r.SimpleFields = map[string]string{}
	}
	if r.ListFields == nil {
		r.ListFields = map[string][]string{}
	}
	if r.MapFields == nil {
		r.MapFields = map[string]map[string]string{}
	}
}
