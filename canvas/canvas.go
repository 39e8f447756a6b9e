// Package canvas adapts live browser elements to the synchronizer's Host
// interface via rod. The engine never talks CDP directly: it binds a session
// to a canvas Element and lets the synchronizer write status into it.
//
// CDP failures read as absence. A host whose page is gone reports detached
// rather than erroring, which lets the synchronizer abandon its task cleanly.
package canvas

import (
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/protoboard/domsync"
)

// Element wraps a rod element as a sync host.
type Element struct {
	el *rod.Element
}

var _ domsync.Host = (*Element)(nil)

// Attach finds selector on page and wraps it as a host.
func Attach(page *rod.Page, selector string) (*Element, error) {
	el, err := page.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("canvas: attach %q: %w", selector, err)
	}
	return &Element{el: el}, nil
}

// Wrap adapts an already-located rod element.
func Wrap(el *rod.Element) *Element { return &Element{el: el} }

// Attribute reads an attribute; ok is false when unset or unreachable.
func (e *Element) Attribute(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

// SetAttribute writes an attribute on the element itself.
func (e *Element) SetAttribute(name, value string) error {
	if _, err := e.el.Eval(`(n, v) => this.setAttribute(n, v)`, name, value); err != nil {
		return fmt.Errorf("canvas: set attribute %s: %w", name, err)
	}
	return nil
}

// Attached reports whether the element is still connected to the document.
func (e *Element) Attached() bool {
	res, err := e.el.Eval(`() => this.isConnected`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// Locate finds a nested element under the host; ok is false while the
// selector matches nothing.
func (e *Element) Locate(selector string) (domsync.Elem, bool) {
	has, el, err := e.el.Has(selector)
	if err != nil || !has {
		return nil, false
	}
	return &node{el: el}, true
}

// node is a nested element the synchronizer writes properties on.
type node struct {
	el *rod.Element
}

func (n *node) SetProperty(name, value string) error {
	if _, err := n.el.Eval(`(p, v) => { this[p] = v }`, name, value); err != nil {
		return fmt.Errorf("canvas: set property %s: %w", name, err)
	}
	return nil
}
