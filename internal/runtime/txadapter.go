package runtime

import (
	"context"

	"github.com/capkernel/kernel/internal/domain/services/transaction"
)

// txHandleAdapter wraps a *transaction.Handle to satisfy TxHandle's erased
// Checkpoint signature, since goja values exported to scripts can't carry
// the concrete *transaction.Checkpoint type across the sandbox boundary.
type txHandleAdapter struct {
	h *transaction.Handle
}

func newTxHandleAdapter(h *transaction.Handle) TxHandle {
	return &txHandleAdapter{h: h}
}

func (a *txHandleAdapter) ID() string { return a.h.ID() }

func (a *txHandleAdapter) Checkpoint(ctx context.Context, name string) (any, error) {
	cp, err := a.h.Checkpoint(ctx, name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": cp.ID, "name": cp.Name, "tx_id": cp.TxID}, nil
}

func (a *txHandleAdapter) Rollback(ctx context.Context, checkpointName string) error {
	return a.h.Rollback(ctx, checkpointName)
}

func (a *txHandleAdapter) Commit(ctx context.Context) error {
	return a.h.Commit(ctx)
}

// NewTxOpener builds a TxOpener bound to a concrete transaction.Service,
// wrapping every Begin() in the adapter above.
func NewTxOpener(svc *transaction.Service) TxOpener {
	return func(ctx context.Context) TxHandle {
		return newTxHandleAdapter(svc.Begin(ctx))
	}
}
