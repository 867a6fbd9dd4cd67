// Package form holds the state machine behind the create/view/edit form
// dialogs: which fields are editable, what cancel-edit restores and whether
// the values may be sent upstream.
package form

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/noah-isme/movement-gateway/internal/models"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

// Mode is the render mode of a form.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeView   Mode = "view"
	ModeEdit   Mode = "edit"
)

// ParseMode validates a mode string.
func ParseMode(raw string) (Mode, bool) {
	switch m := Mode(raw); m {
	case ModeCreate, ModeView, ModeEdit:
		return m, true
	default:
		return "", false
	}
}

// Session is the state of one open form. It is serialised as JSON when held
// server-side, so every field is exported.
type Session struct {
	Form         models.FormCode        `json:"form"`
	Mode         Mode                   `json:"mode"`
	OriginalMode Mode                   `json:"original_mode"`
	EntryID      string                 `json:"entry_id,omitempty"`
	Values       map[string]interface{} `json:"values"`
	Baseline     map[string]interface{} `json:"baseline"`
	Dirty        map[string]bool        `json:"dirty,omitempty"`
}

// Open starts a session. A nil entry opens blank defaults.
func Open(code models.FormCode, mode Mode, entryID string, entry map[string]interface{}) (*Session, error) {
	schema, ok := SchemaFor(code)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("unknown form %q", code))
	}
	if _, ok := ParseMode(string(mode)); !ok {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("unknown mode %q", mode))
	}
	if mode != ModeCreate && entryID == "" {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "an existing entry is required for view and edit")
	}
	s := &Session{Form: code, Mode: mode, OriginalMode: mode, EntryID: entryID}
	if entry == nil {
		entry = schema.Defaults
	}
	s.Reset(entry)
	return s, nil
}

// Schema returns the field set for the session's form.
func (s *Session) Schema() *Schema {
	schema, _ := SchemaFor(s.Form)
	return schema
}

// Disabled reports whether fields are read-only.
func (s *Session) Disabled() bool { return s.Mode == ModeView }

// Reset reloads values from entry, clears edits and returns to the mode the
// session was opened in.
func (s *Session) Reset(entry map[string]interface{}) {
	s.Values = cloneValues(entry)
	s.Baseline = cloneValues(entry)
	s.Dirty = map[string]bool{}
	s.Mode = s.OriginalMode
}

// Set changes one field.
func (s *Session) Set(field string, value interface{}) error {
	return s.Patch(map[string]interface{}{field: value})
}

// Patch changes several fields at once; nothing is applied when any field is
// rejected.
func (s *Session) Patch(changes map[string]interface{}) error {
	if s.Disabled() {
		return appErrors.ErrReadOnly
	}
	schema := s.Schema()
	for field := range changes {
		if _, ok := schema.Field(field); !ok {
			return appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("unknown field %q", field))
		}
	}
	if s.Dirty == nil {
		s.Dirty = map[string]bool{}
	}
	for field, value := range changes {
		s.Values[field] = cloneValue(value)
		s.Dirty[field] = true
	}
	return nil
}

// BeginEdit switches a view session to edit, keeping current values. The
// values at this point are what CancelEdit restores.
func (s *Session) BeginEdit() error {
	switch s.Mode {
	case ModeEdit:
		return nil
	case ModeView:
		s.Baseline = cloneValues(s.Values)
		s.Dirty = map[string]bool{}
		s.Mode = ModeEdit
		return nil
	default:
		return appErrors.Clone(appErrors.ErrConflict, "only a viewed entry can be edited")
	}
}

// CancelEdit discards edits. A session that was opened for viewing returns
// to view mode.
func (s *Session) CancelEdit() {
	s.Values = cloneValues(s.Baseline)
	s.Dirty = map[string]bool{}
	if s.OriginalMode == ModeView {
		s.Mode = ModeView
	}
}

// ApplyPrefill fills fields the user has not touched and returns the keys it
// changed. Prefilled values become part of the baseline.
func (s *Session) ApplyPrefill(values map[string]interface{}) []string {
	schema := s.Schema()
	applied := make([]string, 0, len(values))
	for field, value := range values {
		if _, known := schema.Field(field); !known || s.Dirty[field] {
			continue
		}
		s.Values[field] = cloneValue(value)
		s.Baseline[field] = cloneValue(value)
		applied = append(applied, field)
	}
	sort.Strings(applied)
	return applied
}

// DirtyFields lists edited fields in name order.
func (s *Session) DirtyFields() []string {
	fields := make([]string, 0, len(s.Dirty))
	for f, dirty := range s.Dirty {
		if dirty {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return fields
}

// Validate checks the values against the schema. It returns a validation
// error carrying per-field messages, or nil.
func (s *Session) Validate(v *Validator) error {
	if problems := v.Validate(s.Schema(), s.Values); len(problems) > 0 {
		return appErrors.Validation(problems)
	}
	return nil
}

// Submittable returns a copy of the values ready for encoding.
func (s *Session) Submittable() map[string]interface{} {
	return cloneValues(s.Values)
}

func cloneValues(in map[string]interface{}) map[string]interface{} {
	out, _ := cloneValue(in).(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

// cloneValue deep-copies through JSON so nested lists and maps are never
// shared between Values and Baseline.
func cloneValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}
