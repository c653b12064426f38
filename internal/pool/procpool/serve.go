package procpool

import (
	"context"
	"fmt"
	"io"
	"net/rpc"
	"os"

	msgpackrpc "github.com/hashicorp/net-rpc-msgpackrpc"
	"github.com/rs/zerolog"
)

// EnvWorker marks a process as an offload worker when set to "1".
const EnvWorker = "SENTINEL_OFFLOAD_WORKER"

// IsWorker reports whether the current process was spawned as a worker.
func IsWorker() bool {
	return os.Getenv(EnvWorker) == "1"
}

// MaybeServe turns the current process into a worker and exits when it was
// spawned as one. Otherwise it returns immediately. Call it before anything
// else writes to stdout.
func MaybeServe() {
	if !IsWorker() {
		return
	}

	log := zerolog.New(os.Stderr).With().
		Timestamp().
		Str("component", "offload_worker").
		Int("pid", os.Getpid()).
		Logger()

	if err := Serve(&pipeConn{r: os.Stdin, w: os.Stdout}, log); err != nil {
		log.Error().Err(err).Msg("Worker process failed")
		os.Exit(1)
	}
	os.Exit(0)
}

// Serve answers requests on conn until the parent hangs up.
func Serve(conn io.ReadWriteCloser, log zerolog.Logger) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Worker", &service{log: log}); err != nil {
		return fmt.Errorf("registering worker service: %w", err)
	}

	log.Debug().Strs("functions", Names()).Msg("Worker process serving")
	srv.ServeCodec(msgpackrpc.NewServerCodec(conn))
	return nil
}

type service struct {
	log zerolog.Logger
}

// Execute runs one registered function. Function errors travel in the
// response; a returned error means the request itself was malformed.
func (s *service) Execute(req Request, resp *Response) error {
	h, ok := lookup(req.Name)
	if !ok {
		resp.Kind = kindUnknown
		resp.Error = req.Name
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("function", req.Name).Interface("panic", r).Msg("Process function panicked")
			resp.Result = nil
			resp.Kind = kindPanic
			resp.Error = fmt.Sprint(r)
		}
	}()

	out, err := h(context.Background(), req.Args)
	if err != nil {
		resp.Kind = classify(err)
		resp.Error = err.Error()
		return nil
	}

	resp.Result = out
	return nil
}
