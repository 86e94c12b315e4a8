package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ParticipantList decodes a participant collection that older producers
// encode as an ordered array and newer ones as a sparse index-keyed map.
// Either way the decoded form is one canonical ordered slice; callers must
// not depend on ordering beyond what the source guarantees.
type ParticipantList []Participant

// UnmarshalJSON accepts both encodings
func (l *ParticipantList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}

	switch trimmed[0] {
	case '[':
		var arr []Participant
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	case '{':
		var m map[string]Participant
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sortNumericKeys(keys)
		out := make([]Participant, 0, len(m))
		for _, k := range keys {
			p := m[k]
			if p.Index == 0 {
				if idx, err := strconv.Atoi(k); err == nil {
					p.Index = idx
				}
			}
			out = append(out, p)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("participants: unexpected token %q", trimmed[0])
	}
}

// ResultList decodes a result collection that is an ordered array when
// populated and an empty map when the stage produced no results
type ResultList []Result

// UnmarshalJSON accepts both encodings
func (l *ResultList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}

	switch trimmed[0] {
	case '[':
		var arr []Result
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	case '{':
		var m map[string]Result
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sortNumericKeys(keys)
		out := make([]Result, 0, len(m))
		for _, k := range keys {
			out = append(out, m[k])
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("results: unexpected token %q", trimmed[0])
	}
}

// StageList decodes the name-keyed stage object while preserving document
// order, so derived views and the content hash see a stable stage sequence
type StageList []Stage

// UnmarshalJSON walks the object token by token to keep declaration order
func (l *StageList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("stages: expected object, got %v", tok)
	}

	var out []Stage
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("stages: expected key, got %v", keyTok)
		}
		var st Stage
		if err := dec.Decode(&st); err != nil {
			return fmt.Errorf("stage %q: %w", name, err)
		}
		st.Name = name
		out = append(out, st)
	}
	*l = out
	return nil
}

// Get returns the named stage, if present
func (l StageList) Get(name string) (*Stage, bool) {
	for i := range l {
		if l[i].Name == name {
			return &l[i], true
		}
	}
	return nil, false
}

// sortNumericKeys orders keys numerically where possible, lexically otherwise
func sortNumericKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if errA == nil {
			return true
		}
		if errB == nil {
			return false
		}
		return keys[i] < keys[j]
	})
}
