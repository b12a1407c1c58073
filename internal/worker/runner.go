package worker

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

const (
	// Stream labels used on emitted events.
	StreamStdout = "stdout"
	StreamStderr = "stderr"

	StatusOK   = "ok"
	StatusFail = "fail"
)

// Event is one line of live worker output.
type Event struct {
	Stream string   `json:"stream"`
	Line   string   `json:"line"`
	Stores []string `json:"stores"`
}

// Result is the aggregate outcome of a completed worker run. ExitCode is nil
// when the process terminated without reporting a code (e.g. killed by a
// signal).
type Result struct {
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Subscriber receives live events while the worker runs. It is called from
// the two reader goroutines; implementations must be safe for concurrent use.
type Subscriber func(Event)

// Options tune a single Run.
type Options struct {
	// StderrAsStdout relabels emitted stderr events as stdout so the UI can
	// render one merged stream. The accumulated stderr buffer in the Result
	// still receives the original stderr content.
	StderrAsStdout bool
	// StdoutLog/StderrLog, when set, receive a copy of every line (with a
	// trailing newline) read from the corresponding stream.
	StdoutLog io.Writer
	StderrLog io.Writer
	// OnStart is invoked with the child's PID right after a successful spawn.
	OnStart func(pid int)
}

// Runner drives one spawned worker process to completion: two reader
// goroutines drain stdout and stderr line-by-line, emitting events to the
// subscriber and accumulating each stream into its own buffer. Cross-stream
// interleaving of emitted events is not deterministic; order within one
// stream is.
//
// There is no cancellation: once launched, a run is driven to natural exit.
type Runner struct{}

// Run spawns the invocation and blocks until the process exits and both
// streams are fully drained. A spawn failure returns an error with no events
// emitted; read errors on a stream end that reader quietly, keeping whatever
// it collected.
func (Runner) Run(inv Invocation, sub Subscriber, opts Options) (Result, error) {
	if inv.Path == "" {
		return Result{}, ErrNoWorkerCommand
	}
	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.Command(inv.Path, inv.Args...)
	if inv.Dir != "" {
		cmd.Dir = inv.Dir
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("worker stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("worker stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("launch worker: %w", err)
	}
	if opts.OnStart != nil {
		opts.OnStart(cmd.Process.Pid)
	}

	stderrLabel := StreamStderr
	if opts.StderrAsStdout {
		stderrLabel = StreamStdout
	}

	// Each buffer is written by exactly one goroutine and read only after
	// both have finished, so no locking is needed.
	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		drainLines(stdout, StreamStdout, inv.Stores, sub, &outBuf, opts.StdoutLog)
	}()
	go func() {
		defer wg.Done()
		drainLines(stderr, stderrLabel, inv.Stores, sub, &errBuf, opts.StderrLog)
	}()

	// The pipes must be fully read before Wait reaps the process.
	wg.Wait()
	waitErr := cmd.Wait()

	res := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
	switch e := waitErr.(type) {
	case nil:
		res.Status = StatusOK
		code := 0
		res.ExitCode = &code
	case *exec.ExitError:
		res.Status = StatusFail
		if code := e.ExitCode(); code >= 0 {
			res.ExitCode = &code
		}
	default:
		return Result{}, fmt.Errorf("wait for worker: %w", waitErr)
	}
	return res, nil
}

// drainLines reads r strictly line-by-line until EOF or a read error. Lines
// have no length cap: the worker's output volume is trusted, and capping
// would leave unread bytes in the pipe, blocking the child forever. A final
// partial line without a trailing newline is still delivered. Read errors are
// terminal for this reader only and are not propagated; the pipe is drained
// to EOF regardless so the process can always exit.
func drainLines(r io.Reader, label string, stores []string, sub Subscriber, buf *strings.Builder, tee io.Writer) {
	rd := bufio.NewReader(r)
	for {
		line, err := rd.ReadString('\n')
		chunk := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if chunk != "" || err == nil {
			if sub != nil {
				sub(Event{Stream: label, Line: chunk, Stores: stores})
			}
			buf.WriteString(chunk)
			buf.WriteByte('\n')
			if tee != nil {
				_, _ = io.WriteString(tee, chunk+"\n")
			}
		}
		if err != nil {
			if err != io.EOF {
				// best-effort: keep what was collected, but consume the
				// rest of the pipe so the child never blocks on a write
				_, _ = io.Copy(io.Discard, r)
			}
			return
		}
	}
}
