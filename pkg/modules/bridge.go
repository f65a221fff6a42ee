package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// EvaluateRequest is what the host sends a custom promise module: the
// concrete, already-expanded promiser plus its constraint attributes
// as a JSON object, matching the shape pkg/policy.Promise.Constraints
// collapses to.
type EvaluateRequest struct {
	Promiser   string          `json:"promiser"`
	Attributes json.RawMessage `json:"attributes"`
}

// EvaluateResponse is what a custom promise module returns: the
// outcome it produced, bringing the promiser to its declared state.
type EvaluateResponse struct {
	Outcome string `json:"outcome"` // "noop", "change", "fail", "warn"
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Bridge wraps one instantiated WASM module exporting the custom
// promise module ABI: malloc/free for host-managed memory, and
// module_evaluate(ptr, len) -> packed(ptr, len) taking an
// EvaluateRequest and returning an EvaluateResponse, both JSON.
type Bridge struct {
	module   api.Module
	memory   api.Memory
	malloc   api.Function
	free     api.Function
	evaluate api.Function
	timeout  time.Duration
}

// NewBridge instantiates wasm inside runtime and resolves its exported
// ABI functions.
func NewBridge(ctx context.Context, runtime wazero.Runtime, wasm []byte, timeout time.Duration) (*Bridge, error) {
	module, err := runtime.Instantiate(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("modules: instantiating WASM module: %w", err)
	}

	b := &Bridge{module: module, timeout: timeout}
	b.memory = module.Memory()
	if b.memory == nil {
		return nil, fmt.Errorf("modules: WASM module does not export memory")
	}
	for name, dst := range map[string]*api.Function{
		"malloc":          &b.malloc,
		"free":            &b.free,
		"module_evaluate": &b.evaluate,
	} {
		fn := module.ExportedFunction(name)
		if fn == nil {
			return nil, fmt.Errorf("modules: WASM module does not export %s", name)
		}
		*dst = fn
	}
	return b, nil
}

// NewRuntime builds a wazero runtime with WASI preview1 host functions
// instantiated, the baseline every custom promise module is compiled
// against.
func NewRuntime(ctx context.Context) (wazero.Runtime, error) {
	runtime := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("modules: instantiating WASI: %w", err)
	}
	return runtime, nil
}

// Close releases the module instance.
func (b *Bridge) Close(ctx context.Context) error {
	return b.module.Close(ctx)
}

// Evaluate sends req to the module and returns its parsed response.
func (b *Bridge) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("modules: marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	respJSON, err := b.call(ctx, b.evaluate, reqJSON)
	if err != nil {
		return nil, fmt.Errorf("modules: module_evaluate: %w", err)
	}

	var resp EvaluateResponse
	if err := json.Unmarshal(respJSON, &resp); err != nil {
		return nil, fmt.Errorf("modules: unmarshaling response: %w", err)
	}
	return &resp, nil
}

// call invokes fn with input copied into the module's linear memory
// and reads back a packed (ptr<<32 | len) result, matching the ABI
// every custom promise module's exported functions share.
func (b *Bridge) call(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, err
		}
		defer b.deallocate(ctx, ptr)

		inputPtr, inputLen = ptr, uint32(len(input))
		if !b.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("writing input to WASM memory")
		}
	}

	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("calling WASM function: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("reading output from WASM memory")
	}
	result := make([]byte, len(output))
	copy(result, output)
	_ = b.deallocate(ctx, outputPtr)
	return result, nil
}

func (b *Bridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc: %w", err)
	}
	if len(results) == 0 || results[0] == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return uint32(results[0]), nil
}

func (b *Bridge) deallocate(ctx context.Context, ptr uint32) error {
	_, err := b.free.Call(ctx, uint64(ptr))
	return err
}
