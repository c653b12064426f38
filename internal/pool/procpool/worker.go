package procpool

import (
	"errors"
	"fmt"
	"net/rpc"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	msgpackrpc "github.com/hashicorp/net-rpc-msgpackrpc"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-offload/internal/work"
)

// Command describes how to start a worker process. The zero value re-executes
// the running binary.
type Command struct {
	Path string
	Args []string
	Env  []string
}

func (c Command) resolve() (Command, error) {
	if c.Path != "" {
		return c, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return c, fmt.Errorf("resolving worker executable: %w", err)
	}
	c.Path = exe
	return c, nil
}

// Worker is the parent-side handle of one child process. Calls on a Worker
// must not overlap.
type Worker struct {
	cmd    *exec.Cmd
	client *rpc.Client
	exited chan struct{}
	killed atomic.Bool
	log    zerolog.Logger
}

// Spawn starts a worker process.
func Spawn(c Command, log zerolog.Logger) (*Worker, error) {
	c, err := c.resolve()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = append(append(os.Environ(), c.Env...), EnvWorker+"=1")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating worker stdin: %w", err)
	}
	// A plain pipe rather than StdoutPipe: Wait must not close the read end
	// while the rpc client is still reading from it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating worker stdout: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("starting worker process: %w", err)
	}
	stdoutW.Close()

	w := &Worker{
		cmd:    cmd,
		client: rpc.NewClientWithCodec(msgpackrpc.NewClientCodec(&pipeConn{r: stdoutR, w: stdin})),
		exited: make(chan struct{}),
		log:    log.With().Int("pid", cmd.Process.Pid).Logger(),
	}

	go func() {
		err := cmd.Wait()
		w.log.Debug().Err(err).Msg("Worker process exited")
		close(w.exited)
	}()

	w.log.Debug().Str("path", c.Path).Msg("Worker process started")
	return w, nil
}

// Pid returns the child's process id.
func (w *Worker) Pid() int {
	return w.cmd.Process.Pid
}

// Alive reports whether the child is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// Call runs the named function in the child and returns its encoded result.
// If the child dies during the call the error wraps work.ErrTerminated when
// Kill was requested and work.ErrWorkerCrashed otherwise.
func (w *Worker) Call(name string, args []byte) ([]byte, error) {
	var resp Response
	if err := w.client.Call(serviceMethod, Request{Name: name, Args: args}, &resp); err != nil {
		if w.killed.Load() {
			return nil, fmt.Errorf("%w: %s (pid %d)", work.ErrTerminated, name, w.Pid())
		}
		var serverErr rpc.ServerError
		if errors.As(err, &serverErr) && w.Alive() {
			return nil, fmt.Errorf("worker rpc %s: %w", name, err)
		}
		return nil, fmt.Errorf("%w: %s (pid %d): %v", work.ErrWorkerCrashed, name, w.Pid(), err)
	}

	if err := responseError(name, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Kill terminates the child immediately. A call in progress fails with
// work.ErrTerminated.
func (w *Worker) Kill() {
	w.killed.Store(true)
	if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		w.log.Warn().Err(err).Msg("Failed to kill worker process")
	}
}

// Close hangs up on the child, which then exits on its own. If it is still
// running after timeout it is killed.
func (w *Worker) Close(timeout time.Duration) {
	_ = w.client.Close()

	select {
	case <-w.exited:
		return
	case <-time.After(timeout):
	}

	w.log.Warn().Dur("timeout", timeout).Msg("Worker process did not exit, killing")
	w.Kill()
	<-w.exited
}
