package browser

import (
	"context"
	"errors"
)

// ErrScriptUnsupported is returned by engines that cannot evaluate scripts.
var ErrScriptUnsupported = errors.New("browser: script execution not supported")

// Node is one matched element of a page query.
type Node struct {
	Text  string
	Attrs map[string]string
}

// Page is a read-only view of the portal page the engine currently shows.
type Page interface {
	URL() string
	Has(selector string) bool
	Text(selector string) string
	Attr(selector, name string) (string, bool)
	All(selector string) []Node
}

// Form describes a form submission: target action, method and field values.
type Form struct {
	Action string
	Method string
	Fields map[string]string
}

// Engine is the opaque browsing capability the automation core drives.
// Implementations own all transport and anti-fingerprinting concerns; the
// core only navigates, reads page state, submits forms and occasionally
// evaluates a script. ExportState and RestoreState serialize the
// authenticated context so sessions survive restarts.
type Engine interface {
	Navigate(ctx context.Context, url string) (Page, error)
	ReadState(ctx context.Context) (Page, error)
	SubmitForm(ctx context.Context, form Form) (Page, error)
	ExecuteScript(ctx context.Context, script string) (string, error)

	ExportState(ctx context.Context) ([]byte, error)
	RestoreState(ctx context.Context, state []byte) error

	Close() error
}

// Factory creates a fresh, unauthenticated engine. The session manager
// calls it once per applicant credential set.
type Factory func() (Engine, error)
