// Package procpool runs registered functions in child worker processes.
//
// The parent re-executes its own binary with EnvWorker set. MaybeServe, called
// first thing in main (and in TestMain), turns that child into an RPC server
// that executes functions by name. Because parent and child are the same
// binary, a function registered from an init function is known to both.
// Arguments and results cross the process boundary msgpack-encoded.
package procpool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/sentinel-offload/internal/work"
)

type handler func(ctx context.Context, args []byte) ([]byte, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]handler)
)

var errDecodeArgs = errors.New("procpool: cannot decode arguments")

// Register makes fn callable by name from worker processes. Call it from an
// init function so the registration exists in the child as well. Registering
// the same name twice panics.
func Register[A, R any](name string, fn func(ctx context.Context, args A) (R, error)) {
	if name == "" || fn == nil {
		panic("procpool: Register requires a name and a function")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("procpool: function %q registered twice", name))
	}

	registry[name] = func(ctx context.Context, raw []byte) ([]byte, error) {
		var args A
		if len(raw) > 0 {
			if err := msgpack.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("%w for %s: %v", errDecodeArgs, name, err)
			}
		}

		result, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}

		out, err := msgpack.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("%w: result of %s: %v", work.ErrNotSerializable, name, err)
		}
		return out, nil
	}
}

// Registered reports whether name can be called in a worker process.
func Registered(name string) bool {
	_, ok := lookup(name)
	return ok
}

// Names returns the registered function names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode unmarshals a process result into R.
func Decode[R any](raw []byte) (R, error) {
	var out R
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decoding process result: %w", err)
	}
	return out, nil
}

func lookup(name string) (handler, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := registry[name]
	return h, ok
}
