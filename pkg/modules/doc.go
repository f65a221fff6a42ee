// Package modules implements out-of-process dispatch for custom
// promise types: promise types the core agent has no built-in
// actuator for, whose evaluation is instead delegated to a WebAssembly
// module compiled against this package's host ABI. A custom promise
// module declares, via its manifest, which promise type it handles and
// what attributes it accepts; the Registry loads and sandboxes it with
// wazero's WASI runtime, and the Actuator adapts pkg/runner's
// PromiseActuator interface to calling into it.
package modules
