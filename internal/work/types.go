package work

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind selects which pool executes a work item.
type Kind int

const (
	// Thread runs the item on the goroutine pool. Default for IO-bound work
	// and for computations that do not need a separate address space.
	Thread Kind = iota
	// Process runs the item in a child worker process. Opt-in, intended for
	// pure CPU work that must be killable.
	Process
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Thread:
		return "thread"
	case Process:
		return "process"
	default:
		return "unknown"
	}
}

// Func is a blocking callable with its arguments already bound.
type Func func(ctx context.Context) (any, error)

// WorkItem is an immutable description of one unit of blocking work.
// All fields are set by the constructors; results flow back through a
// separate completion handle, never through the item.
type WorkItem struct {
	id        string
	operation string
	kind      Kind
	createdAt time.Time

	// Thread kind
	fn Func

	// Process kind
	procName string
	procArgs []byte
}

// NewWorkItem creates a thread-kind work item for fn.
func NewWorkItem(operation string, fn Func) (*WorkItem, error) {
	if fn == nil {
		return nil, &ConfigurationError{Operation: operation, Reason: ErrInvalidConfig, Detail: "nil function"}
	}
	return &WorkItem{
		id:        newID(),
		operation: operation,
		kind:      Thread,
		createdAt: time.Now(),
		fn:        fn,
	}, nil
}

// NewProcessItem creates a process-kind work item calling the registered
// process function procName with args. Args are encoded immediately so a
// value that cannot cross the process boundary fails here, at submission,
// rather than inside the pool.
func NewProcessItem(operation, procName string, args any) (*WorkItem, error) {
	if procName == "" {
		return nil, &ConfigurationError{Operation: operation, Reason: ErrUnknownProcessFunc, Detail: "empty process function name"}
	}

	encoded, err := msgpack.Marshal(args)
	if err != nil {
		return nil, &ConfigurationError{
			Operation: operation,
			Reason:    ErrNotSerializable,
			Detail:    fmt.Sprintf("arguments for %q: %v", procName, err),
		}
	}

	return &WorkItem{
		id:        newID(),
		operation: operation,
		kind:      Process,
		createdAt: time.Now(),
		procName:  procName,
		procArgs:  encoded,
	}, nil
}

func newID() string {
	return uuid.New().String()
}

// ID returns the submission-unique identifier.
func (w *WorkItem) ID() string { return w.id }

// Operation returns the metrics bucketing tag.
func (w *WorkItem) Operation() string { return w.operation }

// Kind returns the pool the item is routed to.
func (w *WorkItem) Kind() Kind { return w.kind }

// CreatedAt returns when the item was constructed.
func (w *WorkItem) CreatedAt() time.Time { return w.createdAt }

// Func returns the bound callable of a thread item (nil for process items).
func (w *WorkItem) Func() Func { return w.fn }

// ProcessFunc returns the registered function name of a process item.
func (w *WorkItem) ProcessFunc() string { return w.procName }

// ProcessArgs returns a copy of the msgpack-encoded arguments of a process item.
func (w *WorkItem) ProcessArgs() []byte {
	if w.procArgs == nil {
		return nil
	}
	out := make([]byte, len(w.procArgs))
	copy(out, w.procArgs)
	return out
}

// String returns "operation(kind):id", used in log fields.
func (w *WorkItem) String() string {
	return fmt.Sprintf("%s(%s):%s", w.operation, w.kind, w.id)
}
