package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/ports"
)

// Mask replaces the values of masked fields.
const Mask = "***"

type piiMiddleware struct {
	next     ports.PassivationStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a read-side middleware that masks the values of
// bean state fields whose names match the patterns. It is meant for tools
// that inspect snapshots; snapshots loaded through it cannot be activated.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.PassivationStore) ports.PassivationStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Save(ctx context.Context, key string, snap *domain.Snapshot) error {
	return m.next.Save(ctx, key, snap)
}

func (m *piiMiddleware) Load(ctx context.Context, key string) (*domain.Snapshot, error) {
	snap, err := m.next.Load(ctx, key)
	if err != nil || len(snap.State) == 0 {
		return snap, err
	}

	var state any
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot state: %w", err)
	}
	maskValue(state, m.patterns)

	masked, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode masked state: %w", err)
	}
	out := snap.Clone()
	out.State = masked
	return out, nil
}

func (m *piiMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Helpers

func maskValue(v any, patterns []*regexp.Regexp) {
	switch t := v.(type) {
	case map[string]any:
		maskMap(t, patterns)
	case []any:
		for _, item := range t {
			maskValue(item, patterns)
		}
	}
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if !masked {
			maskValue(v, patterns)
		}
	}
}
