package entities

import "time"

// ObjectType enumerates the kinds of objects the object manager tracks.
// Transactions and checkpoints are modeled as their own services (C5) but
// share the type enumeration for use in audit metadata.
type ObjectType string

const (
	ObjectTypeTab         ObjectType = "tab"
	ObjectTypeDocument    ObjectType = "document"
	ObjectTypeForm        ObjectType = "form"
	ObjectTypeDownload    ObjectType = "download"
	ObjectTypeWorkspace   ObjectType = "workspace"
	ObjectTypeTransaction ObjectType = "transaction"
	ObjectTypeCheckpoint  ObjectType = "checkpoint"
	ObjectTypeCredential  ObjectType = "credential"
)

// ObjectID is the kernel's "<type>:<counter>" identifier scheme, distinct
// from the uuid.UUID identifiers used for audit entries, sessions, grants,
// and revocations.
type ObjectID string

// ObjectState is an immutable snapshot of one object's data at a point in
// time. ObjectManager.SnapshotAll and RestoreSnapshot traffic entirely in
// ObjectState values so a transaction checkpoint never holds a live
// reference into the working object graph — but unlike the reference
// implementation's copy.deepcopy-per-snapshot, Data here is never copied
// at snapshot time. A ManagedObject's Data map is treated as immutable
// once published: Update always builds a new map rather than mutating the
// old one in place, so a Snapshot can share the Data reference directly
// and a later Update on the live object can never be observed through an
// already-taken ObjectState. The clone cost that the Python version pays
// on every snapshot_all is paid here only on the objects that actually
// change between snapshots.
type ObjectState struct {
	ID        ObjectID
	Type      ObjectType
	Data      map[string]any
	Timestamp time.Time
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// ManagedObject is the live, mutable counterpart to ObjectState. Every
// concrete object type (Tab, Form, Workspace, ...) embeds it.
type ManagedObject struct {
	ID        ObjectID
	Type      ObjectType
	Data      map[string]any
	UpdatedAt time.Time
}

// NewManagedObject deep-copies data on construction so the stored Data
// map is never aliased to a caller's map the caller might go on to mutate.
func NewManagedObject(id ObjectID, typ ObjectType, data map[string]any) *ManagedObject {
	copied := deepCopyMap(data)
	if copied == nil {
		copied = map[string]any{}
	}
	return &ManagedObject{ID: id, Type: typ, Data: copied, UpdatedAt: time.Now()}
}

// Get returns a field by key. The returned value, if itself a map or
// slice, is shared with Data and must be treated as read-only — callers
// that want to change a nested structure must build a new value and pass
// it to Update, never mutate what Get returns in place (doing so would
// corrupt any outstanding Snapshot that shares the same reference).
func (m *ManagedObject) Get(key string) (any, bool) {
	v, ok := m.Data[key]
	return v, ok
}

// Set assigns one field. Equivalent to Update with a single-entry map.
func (m *ManagedObject) Set(key string, value any) {
	m.Update(map[string]any{key: value})
}

// Update replaces Data with a new map built from the old one plus the
// given fields, rather than mutating the old map in place. Unchanged
// values are carried over by reference; only the given fields are
// deep-copied, so an outstanding Snapshot taken before this call keeps
// seeing the old Data map untouched — copy-on-write, not copy-on-read.
func (m *ManagedObject) Update(fields map[string]any) {
	next := make(map[string]any, len(m.Data)+len(fields))
	for k, v := range m.Data {
		next[k] = v
	}
	for k, v := range fields {
		next[k] = deepCopyValue(v)
	}
	m.Data = next
	m.UpdatedAt = time.Now()
}

// Snapshot captures the object's current Data map by reference: cheap and
// safe because Update never mutates Data in place (see Update).
func (m *ManagedObject) Snapshot() ObjectState {
	return ObjectState{ID: m.ID, Type: m.Type, Data: m.Data, Timestamp: m.UpdatedAt}
}

// Restore adopts a previously captured ObjectState's Data map directly.
// Safe for the same reason Snapshot is cheap: that Data map was never
// mutated in place by whatever object produced it.
func (m *ManagedObject) Restore(s ObjectState) {
	m.Data = s.Data
	m.UpdatedAt = s.Timestamp
}

// NewTab builds the ManagedObject backing a Tab (url/title/load_state).
func NewTab(id ObjectID, url string) *ManagedObject {
	return NewManagedObject(id, ObjectTypeTab, map[string]any{
		"url":        url,
		"title":      "",
		"load_state": "loading",
	})
}

// NewForm builds the ManagedObject backing a Form (tab_id/form_type/fields/filled).
func NewForm(id ObjectID, tabID ObjectID, formType string) *ManagedObject {
	return NewManagedObject(id, ObjectTypeForm, map[string]any{
		"tab_id":    string(tabID),
		"form_type": formType,
		"fields":    map[string]any{},
		"filled":    map[string]any{},
	})
}

// NewWorkspace builds the ManagedObject backing a Workspace (name/tabs/storage/policies).
func NewWorkspace(id ObjectID, name string) *ManagedObject {
	return NewManagedObject(id, ObjectTypeWorkspace, map[string]any{
		"name":     name,
		"tabs":     []any{},
		"storage":  map[string]any{},
		"policies": map[string]any{},
	})
}
