package evalctx

// sectionFrame records which promise-type is currently under
// evaluation, consulted by actuators that behave differently depending
// on their enclosing section (e.g. the edit-line engine's section
// ordering).
type sectionFrame struct {
	promiseType string
}

// promiseFrame records the promiser bound into the "this" scope while
// a single promise (or one concrete expansion of it) is evaluated.
type promiseFrame struct {
	promiser string
}

// Frame is a LIFO evaluation frame. Pushing a frame of a narrower kind
// while a wider one is active is normal (bundle -> section ->
// promise); popping happens in the same stack-disciplined order from
// pkg/runner's control loop.
type frameStack struct {
	sections []sectionFrame
	promises []promiseFrame
}

// PushSectionFrame records the promise-type under evaluation.
func (c *EvalContext) PushSectionFrame(promiseType string) {
	c.frames.sections = append(c.frames.sections, sectionFrame{promiseType: promiseType})
}

// PopSectionFrame releases the innermost section frame.
func (c *EvalContext) PopSectionFrame() {
	if n := len(c.frames.sections); n > 0 {
		c.frames.sections = c.frames.sections[:n-1]
	}
}

// CurrentPromiseType returns the promise-type of the innermost active
// section frame, or "" if none is active.
func (c *EvalContext) CurrentPromiseType() string {
	if n := len(c.frames.sections); n > 0 {
		return c.frames.sections[n-1].promiseType
	}
	return ""
}

// PushPromiseFrame binds promiser into the "this" scope for the
// duration of evaluating one concrete promise.
func (c *EvalContext) PushPromiseFrame(promiser string) {
	c.frames.promises = append(c.frames.promises, promiseFrame{promiser: promiser})
	c.SetVariable("this", c.CurrentNamespace(), "promiser", StringValue(promiser))
}

// PopPromiseFrame releases the innermost promise frame and clears the
// "this" scope binding it made.
func (c *EvalContext) PopPromiseFrame() {
	if n := len(c.frames.promises); n > 0 {
		c.frames.promises = c.frames.promises[:n-1]
	}
	delete(c.variables, VarKey{Scope: "this", Namespace: c.CurrentNamespace(), Name: "promiser"})
}

// CurrentPromiser returns the promiser of the innermost active promise
// frame, or "" if none is active.
func (c *EvalContext) CurrentPromiser() string {
	if n := len(c.frames.promises); n > 0 {
		return c.frames.promises[n-1].promiser
	}
	return ""
}
