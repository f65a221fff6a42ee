// Package helper implements the privileged-helper subprocess: a small,
// statically linked binary pushed to a target host and driven over
// JSON-over-stdio by the agent's transport layer. It exists because
// some promise bundles need root (installing packages, editing
// sudoers, hardening sshd) while the agent connecting to the host may
// only have an unprivileged account plus passwordless or interactive
// sudo; rather than shipping sudo credentials through every promise
// actuator, the agent uploads this one binary, elevates it once, and
// sends it a stream of commands.
//
// pkg/helper/protocol defines the wire format; pkg/helper/handlers
// implements each command; pkg/helper/client is the agent-side caller
// used by actuators that need a privileged operation; cmd/promised-helper
// is the binary itself.
package helper
