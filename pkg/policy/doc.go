// Package policy implements the promise-evaluation engine's policy
// model, syntax tables, validator, and JSON bridge.
//
// A Policy is built incrementally through its builder methods
// (AppendBundle, AppendBody, BundleSection.AppendPromise,
// Promise.AppendConstraint and Body.AppendConstraint), merged with
// Policy.Merge when multiple source files are parsed, and then checked
// with Validate before pkg/runner evaluates it. The parser that
// produces the initial Policy values is out of scope here: this
// package assumes well-formed builder calls and only catches the
// semantic errors listed in Validate's passes.
package policy
