// Package objectmanager implements C2, the kernel's COW object graph:
// tabs, forms, workspaces and the rest of entities.ObjectType, with
// snapshot/restore semantics transactions rely on. Grounded on
// original_source/kernel/objects.py's ObjectManager: Data maps are
// published once and never mutated in place (see entities.ManagedObject),
// so SnapshotAll shares references instead of the Python version's
// copy.deepcopy-per-object.
package objectmanager

import (
	"strconv"
	"sync"

	"github.com/capkernel/kernel/internal/domain/entities"
	kernelerrors "github.com/capkernel/kernel/pkg/errors"
)

// UpdateListener is notified whenever an object mutates, the Go analogue
// of ObjectManager._notify_update's listener callback list.
type UpdateListener func(id entities.ObjectID, state entities.ObjectState)

// Service is C2.
type Service struct {
	mu        sync.RWMutex
	objects   map[entities.ObjectID]*entities.ManagedObject
	counters  map[entities.ObjectType]int
	listeners []UpdateListener
}

func NewService() *Service {
	return &Service{
		objects:  make(map[entities.ObjectID]*entities.ManagedObject),
		counters: make(map[entities.ObjectType]int),
	}
}

func (s *Service) nextID(typ entities.ObjectType) entities.ObjectID {
	s.counters[typ]++
	return entities.ObjectID(string(typ) + ":" + strconv.Itoa(s.counters[typ]))
}

// Create allocates a new object of the given type with a fresh, monotonic
// per-type ID ("tab:1", "tab:2", "form:1", ...), mirroring
// ObjectManager._next_id.
func (s *Service) Create(typ entities.ObjectType, data map[string]any) *entities.ManagedObject {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID(typ)
	obj := entities.NewManagedObject(id, typ, data)
	s.objects[id] = obj
	return obj
}

// CreateTab, CreateForm and CreateWorkspace are typed convenience
// constructors mirroring the Python Tab/Form/Workspace subclasses.
func (s *Service) CreateTab(url string) *entities.ManagedObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID(entities.ObjectTypeTab)
	obj := entities.NewTab(id, url)
	s.objects[id] = obj
	return obj
}

func (s *Service) CreateForm(tabID entities.ObjectID, formType string) *entities.ManagedObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID(entities.ObjectTypeForm)
	obj := entities.NewForm(id, tabID, formType)
	s.objects[id] = obj
	return obj
}

func (s *Service) CreateWorkspace(name string) *entities.ManagedObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID(entities.ObjectTypeWorkspace)
	obj := entities.NewWorkspace(id, name)
	s.objects[id] = obj
	return obj
}

// Get returns the live object, or ok=false if it doesn't exist or was
// deleted.
func (s *Service) Get(id entities.ObjectID) (*entities.ManagedObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	return obj, ok
}

// Require is Get but returns a typed ObjectNotFound error, mirroring
// ObjectManager.require's KeyError.
func (s *Service) Require(id entities.ObjectID) (*entities.ManagedObject, error) {
	obj, ok := s.Get(id)
	if !ok {
		return nil, kernelerrors.ObjectNotFound(string(id))
	}
	return obj, nil
}

// Update mutates fields on an object and notifies listeners, combining
// ManagedObject.update and ObjectManager._notify_update.
func (s *Service) Update(id entities.ObjectID, fields map[string]any) error {
	s.mu.Lock()
	obj, ok := s.objects[id]
	if !ok {
		s.mu.Unlock()
		return kernelerrors.ObjectNotFound(string(id))
	}
	obj.Update(fields)
	state := obj.Snapshot()
	listeners := append([]UpdateListener(nil), s.listeners...)
	s.mu.Unlock()

	s.notify(listeners, id, state)
	return nil
}

func (s *Service) notify(listeners []UpdateListener, id entities.ObjectID, state entities.ObjectState) {
	for _, l := range listeners {
		func() {
			defer func() { recover() }() // isolate listener panics, mirroring the Python bare except
			l(id, state)
		}()
	}
}

// Delete removes an object from the live graph, reporting whether it was
// present, mirroring ObjectManager.delete's bool return. Deleted ids are
// never resurrected by a later RestoreSnapshot (spec.md §9 open question #1).
func (s *Service) Delete(id entities.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return false
	}
	delete(s.objects, id)
	return true
}

// ListByType returns every live object of the given type.
func (s *Service) ListByType(typ entities.ObjectType) []*entities.ManagedObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entities.ManagedObject
	for _, obj := range s.objects {
		if obj.Type == typ {
			out = append(out, obj)
		}
	}
	return out
}

// Query returns every live object matching an optional type filter and a
// set of exact-match field filters, the Go analogue of
// ObjectManager.query(obj_type=None, **filters).
func (s *Service) Query(typ *entities.ObjectType, filters map[string]any) []*entities.ManagedObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entities.ManagedObject
	for _, obj := range s.objects {
		if typ != nil && obj.Type != *typ {
			continue
		}
		if matchesFilters(obj, filters) {
			out = append(out, obj)
		}
	}
	return out
}

func matchesFilters(obj *entities.ManagedObject, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := obj.Get(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// AddListener registers an UpdateListener.
func (s *Service) AddListener(l UpdateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SnapshotAll captures every live object's state, the basis for a
// transaction checkpoint. Each ObjectState.Data is shared by reference with
// the live object's Data map, not copied: ManagedObject.Update never
// mutates Data in place, so a later write to the live graph builds a new
// map instead of touching this snapshot's. The deep-copy cost the Python
// reference pays on every snapshot_all is paid here only on the fields an
// Update actually changes, meeting spec.md §4.2's memory/latency bound.
func (s *Service) SnapshotAll() map[entities.ObjectID]entities.ObjectState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[entities.ObjectID]entities.ObjectState, len(s.objects))
	for id, obj := range s.objects {
		out[id] = obj.Snapshot()
	}
	return out
}

// RestoreSnapshot restores every object still present in the live graph
// to its snapshotted state. It never resurrects an object that was
// deleted after the snapshot was taken, and never removes an object
// created after the snapshot — spec.md §9 open question #1, resolved to
// match original_source/kernel/objects.py's restore_snapshot exactly.
func (s *Service) RestoreSnapshot(snapshot map[entities.ObjectID]entities.ObjectState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, state := range snapshot {
		if obj, ok := s.objects[id]; ok {
			obj.Restore(state)
		}
	}
}
