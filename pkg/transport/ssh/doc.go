// Package ssh is the remote-push transport: it connects to a managed
// host over SSH, uploads the promised-helper binary, runs it, and
// streams its stdin/stdout so pkg/helper/client can speak the helper
// protocol over the connection. It also exposes a plain ExecuteCommand
// for promise actuators that need a one-off remote command without a
// whole helper session.
package ssh
