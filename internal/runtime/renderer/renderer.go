// Package renderer declares the boundary between the kernel and whatever
// renders a mock browser UI for a workflow to act on. spec.md §1 names
// the real mock renderer as explicitly out of scope; this package exists
// so the rest of the kernel (and its tests) have something to compile
// and wire against. Render calls are not wrapped in a circuit breaker.
package renderer

import "context"

// Renderer is the minimal contract a real mock-browser renderer would
// satisfy: given a tab's current state, produce a page description a
// workflow's Tab/Form APIs can act against.
type Renderer interface {
	Render(ctx context.Context, tabID string, state map[string]any) (PageView, error)
}

// PageView is a trivial, in-memory stand-in for whatever the real
// renderer would return (a DOM snapshot, an accessibility tree, ...).
type PageView struct {
	TabID string
	Title string
	URL   string
}

// InMemoryRenderer is a stub Renderer for tests and local development: it
// reads title/url straight out of the object's stored fields and performs
// no real page rendering.
type InMemoryRenderer struct{}

func (InMemoryRenderer) Render(ctx context.Context, tabID string, state map[string]any) (PageView, error) {
	title, _ := state["title"].(string)
	url, _ := state["url"].(string)
	return PageView{TabID: tabID, Title: title, URL: url}, nil
}
