package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capkernel/kernel/internal/domain/services/objectmanager"
	"github.com/capkernel/kernel/internal/domain/services/transaction"
)

func TestNewTxOpener_OpensAdaptedHandle(t *testing.T) {
	objects := objectmanager.NewService()
	txSvc := transaction.NewService(objects, nil)
	opener := NewTxOpener(txSvc)

	handle := opener(context.Background())
	require.NotNil(t, handle)
	assert.NotEmpty(t, handle.ID())
}

func TestTxHandleAdapter_CheckpointReturnsPlainMap(t *testing.T) {
	objects := objectmanager.NewService()
	txSvc := transaction.NewService(objects, nil)
	opener := NewTxOpener(txSvc)

	handle := opener(context.Background())
	cp, err := handle.Checkpoint(context.Background(), "before-edit")
	require.NoError(t, err)

	m, ok := cp.(map[string]any)
	require.True(t, ok, "Checkpoint must erase the concrete *transaction.Checkpoint type")
	assert.Equal(t, "before-edit", m["name"])
	assert.Equal(t, handle.ID(), m["tx_id"])
}

func TestTxHandleAdapter_RollbackAndCommitDelegate(t *testing.T) {
	objects := objectmanager.NewService()
	txSvc := transaction.NewService(objects, nil)
	tab := objects.CreateTab("https://example.com")
	opener := NewTxOpener(txSvc)

	handle := opener(context.Background())
	_, err := handle.Checkpoint(context.Background(), "start")
	require.NoError(t, err)

	require.NoError(t, objects.Update(tab.ID, map[string]any{"title": "changed"}))
	require.NoError(t, handle.Rollback(context.Background(), "start"))

	got, _ := objects.Get(tab.ID)
	assert.Equal(t, "", got.Data["title"])

	require.NoError(t, handle.Commit(context.Background()))
}
