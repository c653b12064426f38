package procpool

import (
	"errors"
	"fmt"
	"io"

	"github.com/aristath/sentinel-offload/internal/work"
)

const serviceMethod = "Worker.Execute"

// Request asks a worker process to run one registered function.
type Request struct {
	Name string
	Args []byte
}

// Response carries either a msgpack-encoded result or an error description.
type Response struct {
	Result []byte
	Error  string
	Kind   string
}

// Response kinds.
const (
	kindFailure  = "failure"
	kindPanic    = "panic"
	kindUnknown  = "unknown_function"
	kindEncoding = "encoding"
)

// RemoteError is an error returned by a function running in a worker process.
// Only the message survives the process boundary.
type RemoteError struct {
	Function string
	Message  string
}

func (e *RemoteError) Error() string {
	return e.Function + ": " + e.Message
}

func classify(err error) string {
	switch {
	case errors.Is(err, errDecodeArgs), errors.Is(err, work.ErrNotSerializable):
		return kindEncoding
	default:
		return kindFailure
	}
}

// responseError rebuilds the parent-side error for a response.
func responseError(name string, resp *Response) error {
	if resp.Error == "" && resp.Kind == "" {
		return nil
	}

	switch resp.Kind {
	case kindPanic:
		return fmt.Errorf("%w: %s: %s", work.ErrPanic, name, resp.Error)
	case kindUnknown:
		return &work.ConfigurationError{Operation: name, Reason: work.ErrUnknownProcessFunc}
	case kindEncoding:
		return &work.ConfigurationError{Operation: name, Reason: work.ErrNotSerializable, Detail: resp.Error}
	default:
		return &RemoteError{Function: name, Message: resp.Error}
	}
}

// pipeConn joins the two halves of a child's stdio into one stream.
type pipeConn struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *pipeConn) Close() error {
	return errors.Join(c.w.Close(), c.r.Close())
}
