package browser

import (
	"context"
	"fmt"
	"sync"
)

// StaticPage is a Page built from literal selector lookups. Tests assemble
// portal states from it without any HTML.
type StaticPage struct {
	PageURL string
	// Texts maps selector -> text content. A selector present here (or in
	// Attrib/Nodes) answers Has() with true.
	Texts  map[string]string
	Attrib map[string]map[string]string
	Nodes  map[string][]Node
}

func (p *StaticPage) URL() string { return p.PageURL }

func (p *StaticPage) Has(selector string) bool {
	if _, ok := p.Texts[selector]; ok {
		return true
	}
	if _, ok := p.Attrib[selector]; ok {
		return true
	}
	_, ok := p.Nodes[selector]
	return ok
}

func (p *StaticPage) Text(selector string) string { return p.Texts[selector] }

func (p *StaticPage) Attr(selector, name string) (string, bool) {
	attrs, ok := p.Attrib[selector]
	if !ok {
		return "", false
	}
	v, ok := attrs[name]
	return v, ok
}

func (p *StaticPage) All(selector string) []Node { return p.Nodes[selector] }

// ScriptedEngine is a deterministic in-memory Engine for tests. Navigation
// and submission are delegated to replaceable hooks, in the same style the
// notification pool mocks its sender. It records every action so tests can
// assert on the sequence the core drove.
type ScriptedEngine struct {
	mu sync.Mutex

	NavigateFunc func(ctx context.Context, url string) (Page, error)
	SubmitFunc   func(ctx context.Context, form Form) (Page, error)
	ScriptFunc   func(ctx context.Context, script string) (string, error)

	// State holds whatever RestoreState received; ExportState returns it.
	State []byte

	current   Page
	Navigated []string
	Submitted []Form
	Closed    bool
}

func (e *ScriptedEngine) Navigate(ctx context.Context, url string) (Page, error) {
	e.mu.Lock()
	e.Navigated = append(e.Navigated, url)
	e.mu.Unlock()
	if e.NavigateFunc == nil {
		return nil, fmt.Errorf("scripted engine: no navigate hook for %s", url)
	}
	p, err := e.NavigateFunc(ctx, url)
	if err == nil {
		e.setCurrent(p)
	}
	return p, err
}

func (e *ScriptedEngine) ReadState(ctx context.Context) (Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil, fmt.Errorf("scripted engine: no page loaded")
	}
	return e.current, nil
}

func (e *ScriptedEngine) SubmitForm(ctx context.Context, form Form) (Page, error) {
	e.mu.Lock()
	e.Submitted = append(e.Submitted, form)
	e.mu.Unlock()
	if e.SubmitFunc == nil {
		return nil, fmt.Errorf("scripted engine: no submit hook for %s", form.Action)
	}
	p, err := e.SubmitFunc(ctx, form)
	if err == nil {
		e.setCurrent(p)
	}
	return p, err
}

func (e *ScriptedEngine) ExecuteScript(ctx context.Context, script string) (string, error) {
	if e.ScriptFunc == nil {
		return "", ErrScriptUnsupported
	}
	return e.ScriptFunc(ctx, script)
}

func (e *ScriptedEngine) ExportState(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State == nil {
		return []byte(`{"scripted":true}`), nil
	}
	return e.State, nil
}

func (e *ScriptedEngine) RestoreState(ctx context.Context, state []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.State = state
	return nil
}

func (e *ScriptedEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	return nil
}

func (e *ScriptedEngine) setCurrent(p Page) {
	e.mu.Lock()
	e.current = p
	e.mu.Unlock()
}

// SubmitCount returns how many forms were submitted so far.
func (e *ScriptedEngine) SubmitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Submitted)
}
