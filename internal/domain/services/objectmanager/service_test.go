package objectmanager

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capkernel/kernel/internal/domain/entities"
)

func TestCreateTab_AssignsMonotonicIDs(t *testing.T) {
	svc := NewService()

	tab1 := svc.CreateTab("https://example.com")
	tab2 := svc.CreateTab("https://example.org")

	assert.Equal(t, entities.ObjectID("tab:1"), tab1.ID)
	assert.Equal(t, entities.ObjectID("tab:2"), tab2.ID)
}

func TestUpdate_MutatesLiveObjectAndNotifiesListeners(t *testing.T) {
	svc := NewService()
	tab := svc.CreateTab("https://example.com")

	var notifiedID entities.ObjectID
	var notifiedState entities.ObjectState
	svc.AddListener(func(id entities.ObjectID, state entities.ObjectState) {
		notifiedID = id
		notifiedState = state
	})

	require.NoError(t, svc.Update(tab.ID, map[string]any{"title": "Example"}))

	got, ok := svc.Get(tab.ID)
	require.True(t, ok)
	assert.Equal(t, "Example", got.Data["title"])
	assert.Equal(t, tab.ID, notifiedID)
	assert.Equal(t, "Example", notifiedState.Data["title"])
}

func TestUpdate_UnknownObjectReturnsNotFound(t *testing.T) {
	svc := NewService()
	err := svc.Update("tab:999", map[string]any{"title": "x"})
	require.Error(t, err)
}

func TestListenerPanicDoesNotPropagate(t *testing.T) {
	svc := NewService()
	tab := svc.CreateTab("https://example.com")

	svc.AddListener(func(entities.ObjectID, entities.ObjectState) {
		panic("listener exploded")
	})

	assert.NotPanics(t, func() {
		require.NoError(t, svc.Update(tab.ID, map[string]any{"title": "x"}))
	})
}

func TestSnapshotAndRestore_RoundTrips(t *testing.T) {
	svc := NewService()
	tab := svc.CreateTab("https://example.com")

	snapshot := svc.SnapshotAll()
	require.NoError(t, svc.Update(tab.ID, map[string]any{"title": "changed"}))

	got, _ := svc.Get(tab.ID)
	assert.Equal(t, "changed", got.Data["title"])

	svc.RestoreSnapshot(snapshot)
	got, _ = svc.Get(tab.ID)
	assert.Equal(t, "", got.Data["title"])
}

func TestRestoreSnapshot_DoesNotResurrectDeletedObjects(t *testing.T) {
	svc := NewService()
	tab := svc.CreateTab("https://example.com")
	snapshot := svc.SnapshotAll()

	svc.Delete(tab.ID)
	svc.RestoreSnapshot(snapshot)

	_, ok := svc.Get(tab.ID)
	assert.False(t, ok, "deleted objects must stay deleted across a restore")
}

func TestRestoreSnapshot_DoesNotRemoveObjectsCreatedAfterSnapshot(t *testing.T) {
	svc := NewService()
	snapshot := svc.SnapshotAll()

	tab := svc.CreateTab("https://example.com")
	svc.RestoreSnapshot(snapshot)

	_, ok := svc.Get(tab.ID)
	assert.True(t, ok, "objects created after a snapshot must survive a restore")
}

func TestSnapshotIsUnaffectedByLaterWrites(t *testing.T) {
	svc := NewService()
	tab := svc.CreateTab("https://example.com")

	snapshot := svc.SnapshotAll()
	require.NoError(t, svc.Update(tab.ID, map[string]any{"title": "changed after snapshot"}))

	assert.Equal(t, "", snapshot[tab.ID].Data["title"], "a write to the live object after SnapshotAll must not be observed through the earlier snapshot")
	got, _ := svc.Get(tab.ID)
	assert.Equal(t, "changed after snapshot", got.Data["title"])
}

func TestSnapshotAll_SharesUnchangedObjectsByReference(t *testing.T) {
	svc := NewService()
	tab1 := svc.CreateTab("https://example.com")
	tab2 := svc.CreateTab("https://example.org")

	snapshot := svc.SnapshotAll()
	require.NoError(t, svc.Update(tab1.ID, map[string]any{"title": "changed"}))

	got1, _ := svc.Get(tab1.ID)
	got2, _ := svc.Get(tab2.ID)
	assert.NotEqual(t, reflect.ValueOf(snapshot[tab1.ID].Data).Pointer(), reflect.ValueOf(got1.Data).Pointer(), "the updated object must no longer share its Data map with the snapshot")
	assert.Equal(t, reflect.ValueOf(snapshot[tab2.ID].Data).Pointer(), reflect.ValueOf(got2.Data).Pointer(), "an object untouched since the snapshot must still share its Data map by reference")
}

func TestQuery_FiltersByTypeAndFields(t *testing.T) {
	svc := NewService()
	tab := svc.CreateTab("https://example.com")
	require.NoError(t, svc.Update(tab.ID, map[string]any{"title": "Example"}))
	svc.CreateTab("https://other.example")
	svc.CreateWorkspace("default")

	tabType := entities.ObjectTypeTab
	results := svc.Query(&tabType, map[string]any{"title": "Example"})
	require.Len(t, results, 1)
	assert.Equal(t, tab.ID, results[0].ID)

	all := svc.Query(nil, nil)
	assert.Len(t, all, 3)
}

func TestDelete_ReportsWhetherObjectWasPresent(t *testing.T) {
	svc := NewService()
	tab := svc.CreateTab("https://example.com")

	assert.True(t, svc.Delete(tab.ID))
	assert.False(t, svc.Delete(tab.ID))
}
