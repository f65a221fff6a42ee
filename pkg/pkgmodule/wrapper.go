package pkgmodule

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/promised/agent/pkg/agentlib"
)

// Default timeouts for a package module invocation: how long an
// overall exchange may run, and how often the wrapper checks whether
// the context was cancelled while waiting.
const (
	DefaultScriptTimeout           = 600 * time.Second
	DefaultTerminationCheckInterval = 5 * time.Second
)

// Wrapper runs one package module adapter executable and speaks the
// verb/Key=Value protocol with it over a fresh process per call.
type Wrapper struct {
	Name           string
	Path           string
	ScriptTimeout  time.Duration
	CheckInterval  time.Duration
	APIVersion     int
}

// NewWrapper builds a Wrapper around the adapter executable at path.
// The caller should call NegotiateAPIVersion once before relying on
// w.APIVersion.
func NewWrapper(name, path string) *Wrapper {
	return &Wrapper{
		Name:          name,
		Path:          path,
		ScriptTimeout: DefaultScriptTimeout,
		CheckInterval: DefaultTerminationCheckInterval,
	}
}

// Communicate runs the adapter once, passing req's verb as argv[1] and
// req's encoded body on stdin, and returns the parsed response.
func (w *Wrapper) Communicate(ctx context.Context, req *Request) (*Response, error) {
	timeout := w.ScriptTimeout
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, w.Path, string(req.Verb))
	cmd.Stdin = bytes.NewBufferString(req.EncodeBody())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		return nil, agentlib.NewTransientError("pkgmodule: %s timed out running verb %q", w.Name, req.Verb).
			WithCode(agentlib.CodeTimeout).WithErr(runCtx.Err())
	}
	if err != nil {
		return nil, agentlib.NewPermanentError("pkgmodule: %s failed running verb %q: %v (stderr: %s)", w.Name, req.Verb, err, stderr.String()).
			WithCode(agentlib.CodeModuleFailed)
	}

	resp, perr := ReadResponse(&stdout)
	if perr != nil {
		return nil, agentlib.NewPermanentError("pkgmodule: %s: %v", w.Name, perr).WithCode(agentlib.CodeModuleFailed)
	}
	return resp, nil
}

// NegotiateAPIVersion asks the adapter which protocol version it
// speaks, caching the result on w.APIVersion. A version of -1 means
// negotiation failed or the adapter replied with something other than
// a single integer.
func (w *Wrapper) NegotiateAPIVersion(ctx context.Context) (int, error) {
	resp, err := w.Communicate(ctx, NewRequest(VerbSupportsAPIVersion))
	if err != nil {
		w.APIVersion = -1
		return -1, err
	}

	if len(resp.Fields) != 1 {
		w.APIVersion = -1
		return -1, nil
	}

	var version int
	if _, err := fmt.Sscanf(resp.Fields[0].Value, "%d", &version); err != nil {
		w.APIVersion = -1
		return -1, nil
	}
	w.APIVersion = version
	return version, nil
}
