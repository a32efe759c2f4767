package domain

import (
	"encoding/json"
	"time"
)

// Snapshot is the passivated form of an instance.
type Snapshot struct {
	Key         string          `json:"key"`
	ComponentID string          `json:"component_id"`
	State       json.RawMessage `json:"state"`
	// Resources lists the factory ids of the instance's extended resources.
	Resources    []string  `json:"resources,omitempty"`
	PassivatedAt time.Time `json:"passivated_at"`
}

// Clone returns a deep copy, so stores can isolate their data from callers.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.State != nil {
		out.State = append(json.RawMessage(nil), s.State...)
	}
	if s.Resources != nil {
		out.Resources = append([]string(nil), s.Resources...)
	}
	return &out
}
