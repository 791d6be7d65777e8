// browserapi.go builds the single `browser` global a workflow script may
// touch, translating original_source/kernel/runtime.py's BrowserAPI /
// TabAPI / FormAPI / WorkspaceAPI / HumanAPI into goja-bound Go methods.
// Every Tab/Form/Workspace method checks a capability before delegating to
// C2 (object manager). Open/Close/Navigate, Find/Fill/Clear/Submit and
// Create/SetStorage also log their result via C1 (audit), provenance=agent;
// the read methods and WaitFor do not. Human.Approve checks no capability
// and logs both the request and the decision.
package runtime

import (
	"context"
	"fmt"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/runtime/approval"
)

// ObjectStore is the subset of the object manager (C2) the browser API
// needs.
type ObjectStore interface {
	Get(id entities.ObjectID) (*entities.ManagedObject, bool)
	Require(id entities.ObjectID) (*entities.ManagedObject, error)
	Update(id entities.ObjectID, fields map[string]any) error
	Delete(id entities.ObjectID) bool
	ListByType(typ entities.ObjectType) []*entities.ManagedObject
	CreateTab(url string) *entities.ManagedObject
	CreateForm(tabID entities.ObjectID, formType string) *entities.ManagedObject
	CreateWorkspace(name string) *entities.ManagedObject
}

// CapabilityChecker is the subset of the capability broker (C3) the
// browser API needs.
type CapabilityChecker interface {
	Check(ctx context.Context, principal entities.Principal, operation, resource string) bool
}

// Auditor is the subset of the audit log (C1) the browser API needs.
type Auditor interface {
	Log(ctx context.Context, principal entities.Principal, provenance entities.Provenance, op, object string, args map[string]any, result string) (*entities.AuditEntry, error)
}

// TxHandle is the subset of a transaction.Handle the browser API exposes
// to scripts via browser.transaction().
type TxHandle interface {
	ID() string
	Checkpoint(ctx context.Context, name string) (any, error)
	Rollback(ctx context.Context, checkpointName string) error
	Commit(ctx context.Context) error
}

// TxOpener begins a new transaction handle, declared narrowly so
// browserAPI doesn't depend on the concrete transaction package.
type TxOpener func(ctx context.Context) TxHandle

// ApprovalChannel is the out-of-band notification side of human.approve,
// satisfied by *notifier.ApprovalNotifier. Declared narrowly here so
// browserapi.go doesn't depend on the concrete notifier package.
type ApprovalChannel interface {
	NotifyApprovalRequested(ctx context.Context, principal, operation, reason string) error
	NotifyApprovalDecided(ctx context.Context, principal, operation string, approved bool) error
}

// BrowserAPI is the sandbox surface bound into goja as `browser`.
type BrowserAPI struct {
	ctx       context.Context
	principal entities.Principal
	objects   ObjectStore
	caps      CapabilityChecker
	audit     Auditor
	approver  approval.Provider
	openTx    TxOpener
	notify    ApprovalChannel

	Tab       *TabAPI       `js:"Tab"`
	Form      *FormAPI      `js:"Form"`
	Workspace *WorkspaceAPI `js:"Workspace"`
	Human     *HumanAPI     `js:"Human"`
}

func NewBrowserAPI(ctx context.Context, principal entities.Principal, objects ObjectStore, caps CapabilityChecker, audit Auditor, approver approval.Provider, openTx TxOpener, notify ApprovalChannel) *BrowserAPI {
	b := &BrowserAPI{ctx: ctx, principal: principal, objects: objects, caps: caps, audit: audit, approver: approver, openTx: openTx, notify: notify}
	b.Tab = &TabAPI{b: b}
	b.Form = &FormAPI{b: b}
	b.Workspace = &WorkspaceAPI{b: b}
	b.Human = &HumanAPI{b: b}
	return b
}

func (b *BrowserAPI) requireCap(operation, resource string) error {
	if !b.caps.Check(b.ctx, b.principal, operation, resource) {
		return fmt.Errorf("capability denied: %s on %s", operation, resource)
	}
	return nil
}

func (b *BrowserAPI) logResult(op, object string, args map[string]any, result string) {
	if b.audit != nil {
		_, _ = b.audit.Log(b.ctx, b.principal, entities.ProvenanceAgent, op, object, args, result)
	}
}

func (b *BrowserAPI) Transaction() TxHandle {
	return b.openTx(b.ctx)
}

// TabAPI mirrors the reference TabAPI: open/get/list/close/navigate/wait_for/extract.
type TabAPI struct{ b *BrowserAPI }

// Open creates a new tab, mirroring TabAPI.open. workspace is accepted for
// parity with the reference signature but the object graph does not yet
// track tab/workspace membership (spec.md §9 open question).
func (t *TabAPI) Open(url string, workspace string) (*entities.ManagedObject, error) {
	if err := t.b.requireCap("tab.create", "*"); err != nil {
		return nil, err
	}
	tab := t.b.objects.CreateTab(url)
	t.b.logResult("tab.open", string(tab.ID), map[string]any{"url": url}, "success")
	return tab, nil
}

func (t *TabAPI) Get(tabID string) (*entities.ManagedObject, error) {
	if err := t.b.requireCap("tab.read", tabID); err != nil {
		return nil, err
	}
	obj, err := t.b.objects.Require(entities.ObjectID(tabID))
	if err != nil {
		return nil, err
	}
	if obj.Type != entities.ObjectTypeTab {
		return nil, fmt.Errorf("%s is not a Tab", tabID)
	}
	return obj, nil
}

func (t *TabAPI) List() ([]*entities.ManagedObject, error) {
	if err := t.b.requireCap("tab.list", "*"); err != nil {
		return nil, err
	}
	return t.b.objects.ListByType(entities.ObjectTypeTab), nil
}

func (t *TabAPI) Close(tabID string) (bool, error) {
	if err := t.b.requireCap("tab.close", tabID); err != nil {
		return false, err
	}
	closed := t.b.objects.Delete(entities.ObjectID(tabID))
	result := "not_found"
	if closed {
		result = "success"
	}
	t.b.logResult("tab.close", tabID, map[string]any{}, result)
	return closed, nil
}

func (t *TabAPI) Navigate(tabID, url string) error {
	if err := t.b.requireCap("tab.navigate", tabID); err != nil {
		return err
	}
	if _, err := t.Get(tabID); err != nil {
		return err
	}
	err := t.b.objects.Update(entities.ObjectID(tabID), map[string]any{"url": url, "load_state": "loading"})
	result := "ok"
	if err != nil {
		result = "error: " + err.Error()
	}
	t.b.logResult("tab.navigate", tabID, map[string]any{"url": url}, result)
	return err
}

func (t *TabAPI) GetURL(tabID string) (string, error) {
	obj, err := t.Get(tabID)
	if err != nil {
		return "", err
	}
	url, _ := obj.Get("url")
	s, _ := url.(string)
	return s, nil
}

// WaitFor sets a tab's load_state, mirroring Tab.wait_for's test-harness
// behavior (no real browser, so no actual waiting occurs).
func (t *TabAPI) WaitFor(tabID, state string) error {
	if err := t.b.requireCap("tab.read", tabID); err != nil {
		return err
	}
	if _, err := t.Get(tabID); err != nil {
		return err
	}
	return t.b.objects.Update(entities.ObjectID(tabID), map[string]any{"load_state": state})
}

// Extract mocks content extraction from a tab, mirroring TabAPI.extract's
// "[Mock ... content from ...]" placeholder.
func (t *TabAPI) Extract(tabID, extractType string) (map[string]any, error) {
	obj, err := t.Get(tabID)
	if err != nil {
		return nil, err
	}
	url, _ := obj.Get("url")
	title, _ := obj.Get("title")
	return map[string]any{
		"type":    extractType,
		"url":     url,
		"title":   title,
		"content": fmt.Sprintf("[Mock %s content from %v]", extractType, url),
	}, nil
}

// FormAPI mirrors the reference FormAPI. Fill logs only field NAMES, never
// values, into the audit trail.
type FormAPI struct{ b *BrowserAPI }

// Find creates a mock form attached to a tab, mirroring FormAPI.find.
func (f *FormAPI) Find(tabID, formType string) (*entities.ManagedObject, error) {
	if err := f.b.requireCap("form.read", tabID+":*"); err != nil {
		return nil, err
	}
	form := f.b.objects.CreateForm(entities.ObjectID(tabID), formType)
	f.b.logResult("form.find", string(form.ID), map[string]any{"tab_id": tabID, "type": formType}, "found")
	return form, nil
}

func (f *FormAPI) Get(formID string) (*entities.ManagedObject, error) {
	if err := f.b.requireCap("form.read", formID); err != nil {
		return nil, err
	}
	obj, err := f.b.objects.Require(entities.ObjectID(formID))
	if err != nil {
		return nil, err
	}
	if obj.Type != entities.ObjectTypeForm {
		return nil, fmt.Errorf("%s is not a Form", formID)
	}
	return obj, nil
}

func (f *FormAPI) Fill(formID string, values map[string]any) error {
	if err := f.b.requireCap("form.fill", formID); err != nil {
		return err
	}
	if _, err := f.Get(formID); err != nil {
		return err
	}
	err := f.b.objects.Update(entities.ObjectID(formID), map[string]any{"filled": values})
	result := "ok"
	if err != nil {
		result = "error: " + err.Error()
	}
	names := make([]any, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	f.b.logResult("form.fill", formID, map[string]any{"fields": names}, result)
	return err
}

func (f *FormAPI) Clear(formID string) error {
	if err := f.b.requireCap("form.fill", formID); err != nil {
		return err
	}
	if _, err := f.Get(formID); err != nil {
		return err
	}
	err := f.b.objects.Update(entities.ObjectID(formID), map[string]any{"filled": map[string]any{}})
	f.b.logResult("form.clear", formID, map[string]any{}, "success")
	return err
}

func (f *FormAPI) Submit(formID string) error {
	if err := f.b.requireCap("form.submit", formID); err != nil {
		return err
	}
	f.b.logResult("form.submit", formID, map[string]any{}, "submitted")
	return nil
}

// WorkspaceAPI mirrors the reference WorkspaceAPI's create/get/list plus the
// storage accessors.
type WorkspaceAPI struct{ b *BrowserAPI }

func (w *WorkspaceAPI) Create(name string) (*entities.ManagedObject, error) {
	if err := w.b.requireCap("workspace.create", "*"); err != nil {
		return nil, err
	}
	ws := w.b.objects.CreateWorkspace(name)
	w.b.logResult("workspace.create", string(ws.ID), map[string]any{"name": name}, "success")
	return ws, nil
}

func (w *WorkspaceAPI) Get(workspaceID string) (*entities.ManagedObject, error) {
	if err := w.b.requireCap("workspace.read", workspaceID); err != nil {
		return nil, err
	}
	obj, err := w.b.objects.Require(entities.ObjectID(workspaceID))
	if err != nil {
		return nil, err
	}
	if obj.Type != entities.ObjectTypeWorkspace {
		return nil, fmt.Errorf("%s is not a Workspace", workspaceID)
	}
	return obj, nil
}

func (w *WorkspaceAPI) List() ([]*entities.ManagedObject, error) {
	if err := w.b.requireCap("workspace.list", "*"); err != nil {
		return nil, err
	}
	return w.b.objects.ListByType(entities.ObjectTypeWorkspace), nil
}

func (w *WorkspaceAPI) SetStorage(workspaceID, key string, value any) error {
	if err := w.b.requireCap("workspace.write", workspaceID); err != nil {
		return err
	}
	obj, err := w.Get(workspaceID)
	if err != nil {
		return err
	}
	storage, _ := obj.Get("storage")
	old, _ := storage.(map[string]any)
	next := make(map[string]any, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = value
	err = w.b.objects.Update(entities.ObjectID(workspaceID), map[string]any{"storage": next})
	w.b.logResult("workspace.write", workspaceID, map[string]any{"key": key}, "ok")
	return err
}

// HumanAPI mirrors the reference HumanAPI.approve: requires an explicit
// human affirmative before an IRREVERSIBLE operation proceeds, with a
// default-deny policy (original_source/kernel/runtime.py's HumanAPI).
type HumanAPI struct{ b *BrowserAPI }

func (h *HumanAPI) Approve(operation, reason string) bool {
	h.b.logResult("human.approve", operation, map[string]any{"reason": reason}, "requested")
	if h.b.notify != nil {
		if err := h.b.notify.NotifyApprovalRequested(h.b.ctx, string(h.b.principal), operation, reason); err != nil {
			h.b.logResult("human.approve.notify", operation, map[string]any{"error": err.Error()}, "failed")
		}
	}

	approved := false
	if h.b.approver != nil {
		approved = h.b.approver.Approve(h.b.ctx, h.b.principal, operation, reason)
	}

	result := "denied"
	if approved {
		result = "approved"
	}
	h.b.logResult("human.approve", operation, map[string]any{"reason": reason}, result)
	if h.b.notify != nil {
		if err := h.b.notify.NotifyApprovalDecided(h.b.ctx, string(h.b.principal), operation, approved); err != nil {
			h.b.logResult("human.approve.notify", operation, map[string]any{"error": err.Error()}, "failed")
		}
	}
	return approved
}
