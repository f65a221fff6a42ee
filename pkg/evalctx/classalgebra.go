package evalctx

import (
	"fmt"
	"time"
)

// AddClass appends name to the active heap: the innermost private
// class frame if one is pushed, otherwise the active bundle's local
// heap, otherwise the global heap.
func (c *EvalContext) AddClass(name string) {
	if len(c.classStack) > 0 {
		c.classStack[len(c.classStack)-1].classes[name] = true
		return
	}
	if c.activeBundle != "" {
		c.bundleHeap[c.activeBundle][name] = true
		return
	}
	c.globalHeap[name] = true
}

// AddGlobalClass appends name directly to the global heap regardless
// of the active frame, used by classes that must outlive the current
// bundle (e.g. classes set from common bundles).
func (c *EvalContext) AddGlobalClass(name string) {
	c.globalHeap[name] = true
}

// AddNegatedClass records that name is explicitly false, overriding
// any positive membership.
func (c *EvalContext) AddNegatedClass(name string) {
	c.negated[name] = true
}

// AddPersistentClass adds name to the active heap and persists it
// with a TTL, honoring the preserve|reset policy: "preserve" keeps the
// class's remaining TTL if it is already persisted and not yet
// expired; "reset" always restarts the TTL from now.
func (c *EvalContext) AddPersistentClass(name string, ttl time.Duration, policy string) error {
	c.AddClass(name)
	expiresAt := time.Now().Add(ttl)
	if policy == "preserve" {
		if existingExpiry, _, ok := c.persistent.Get(name); ok && time.Now().Before(existingExpiry) {
			expiresAt = existingExpiry
		}
	}
	return c.persistent.Put(name, expiresAt, policy)
}

// PushPrivateClassFrame pushes a new private-class context, used when
// expanding a promise so that classes it sets (e.g. via the "classes"
// promise type with a scoped policy) do not leak to sibling promises.
func (c *EvalContext) PushPrivateClassFrame() {
	c.classStack = append(c.classStack, classFrame{classes: make(map[string]bool)})
}

// PopPrivateClassFrame pops the innermost private-class context,
// releasing classes declared within it (LIFO).
func (c *EvalContext) PopPrivateClassFrame() {
	if len(c.classStack) > 0 {
		c.classStack = c.classStack[:len(c.classStack)-1]
	}
}

// activeHeapUnion merges the global heap, the active bundle's local
// heap, and every private-class frame currently pushed, yielding the
// set consulted by IsDefinedClass.
func (c *EvalContext) activeHeapUnion() map[string]bool {
	union := make(map[string]bool, len(c.globalHeap))
	for name := range c.globalHeap {
		union[name] = true
	}
	if c.activeBundle != "" {
		for name := range c.bundleHeap[c.activeBundle] {
			union[name] = true
		}
	}
	for _, frame := range c.classStack {
		for name := range frame.classes {
			union[name] = true
		}
	}
	return union
}

// IsDefinedClass evaluates a class-guard expression against the
// active heap. Grammar: names, "any"/"true"/"false", "!" for
// negation, "&" and "." for AND, "|" for OR, and parentheses.
func (c *EvalContext) IsDefinedClass(expr string) (bool, error) {
	p := &classExprParser{input: expr, heap: c.activeHeapUnion(), negated: c.negated}
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return false, fmt.Errorf("evalctx: unexpected trailing input in class expression %q at offset %d", expr, p.pos)
	}
	return v, nil
}

// classExprParser is a small recursive-descent parser for the class
// guard grammar. Precedence, loosest to tightest: OR, AND, NOT,
// atom/parens.
type classExprParser struct {
	input   string
	pos     int
	heap    map[string]bool
	negated map[string]bool
}

func (p *classExprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *classExprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *classExprParser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for {
		if p.peek() == '|' {
			p.pos++
			right, err := p.parseAnd()
			if err != nil {
				return false, err
			}
			left = left || right
			continue
		}
		break
	}
	return left, nil
}

func (p *classExprParser) parseAnd() (bool, error) {
	left, err := p.parseNot()
	if err != nil {
		return false, err
	}
	for {
		c := p.peek()
		if c == '&' || c == '.' {
			p.pos++
			right, err := p.parseNot()
			if err != nil {
				return false, err
			}
			left = left && right
			continue
		}
		break
	}
	return left, nil
}

func (p *classExprParser) parseNot() (bool, error) {
	if p.peek() == '!' {
		p.pos++
		v, err := p.parseNot()
		if err != nil {
			return false, err
		}
		return !v, nil
	}
	return p.parseAtom()
}

func (p *classExprParser) parseAtom() (bool, error) {
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.peek() != ')' {
			return false, fmt.Errorf("evalctx: expected ')' at offset %d in %q", p.pos, p.input)
		}
		p.pos++
		return v, nil
	}
	name := p.parseName()
	if name == "" {
		return false, fmt.Errorf("evalctx: expected class name at offset %d in %q", p.pos, p.input)
	}
	switch name {
	case "any", "true":
		return true, nil
	case "false":
		return false, nil
	}
	if p.negated[name] {
		return false, nil
	}
	return p.heap[name], nil
}

func (p *classExprParser) parseName() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '(' || c == ')' || c == '!' || c == '&' || c == '|' || c == '.' || c == ' ' || c == '\t' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}
