package worker

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventLog collects events from both reader goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) sub(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) byStream(stream string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.Stream == stream {
			out = append(out, ev.Line)
		}
	}
	return out
}

func shInvocation(script string, stores []string) Invocation {
	return Invocation{Path: "/bin/sh", Args: []string{"-c", script}, Stores: stores}
}

func TestRunCapturesBothStreamsInOrder(t *testing.T) {
	const n, m = 25, 13
	script := fmt.Sprintf(
		`i=0; while [ $i -lt %d ]; do echo "out $i"; i=$((i+1)); done; `+
			`j=0; while [ $j -lt %d ]; do echo "err $j" >&2; j=$((j+1)); done`, n, m)

	log := &eventLog{}
	res, err := Runner{}.Run(shInvocation(script, []string{"lidl"}), log.sub, Options{})
	require.NoError(t, err)

	outLines := log.byStream(StreamStdout)
	errLines := log.byStream(StreamStderr)
	require.Len(t, outLines, n)
	require.Len(t, errLines, m)
	for i, line := range outLines {
		assert.Equal(t, fmt.Sprintf("out %d", i), line)
	}
	for j, line := range errLines {
		assert.Equal(t, fmt.Sprintf("err %d", j), line)
	}

	// Aggregate equals the emitted lines, each newline-terminated.
	assert.Equal(t, strings.Join(outLines, "\n")+"\n", res.Stdout)
	assert.Equal(t, strings.Join(errLines, "\n")+"\n", res.Stderr)

	assert.Equal(t, StatusOK, res.Status)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)

	// Every event carries the originating selection.
	for _, ev := range log.events {
		assert.Equal(t, []string{"lidl"}, ev.Stores)
	}
}

func TestRunPartialFinalLine(t *testing.T) {
	log := &eventLog{}
	res, err := Runner{}.Run(shInvocation(`printf "first\nsecond"`, nil), log.sub, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, log.byStream(StreamStdout))
	assert.Equal(t, "first\nsecond\n", res.Stdout)
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := Runner{}.Run(shInvocation(`echo doomed; exit 3`, nil), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, res.Status)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
	assert.Equal(t, "doomed\n", res.Stdout)
}

func TestRunKilledBySignal(t *testing.T) {
	res, err := Runner{}.Run(shInvocation(`kill -9 $$`, nil), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, res.Status)
	assert.Nil(t, res.ExitCode)
}

func TestRunLaunchError(t *testing.T) {
	log := &eventLog{}
	_, err := Runner{}.Run(Invocation{Path: "/nonexistent/worker-binary"}, log.sub, Options{})
	require.Error(t, err)
	assert.Empty(t, log.events, "no events on launch failure")
}

func TestRunEmptyInvocation(t *testing.T) {
	_, err := Runner{}.Run(Invocation{}, nil, Options{})
	require.ErrorIs(t, err, ErrNoWorkerCommand)
}

func TestRunStderrAsStdoutRelabelsEventsOnly(t *testing.T) {
	log := &eventLog{}
	res, err := Runner{}.Run(
		shInvocation(`echo visible; echo hidden >&2`, nil),
		log.sub,
		Options{StderrAsStdout: true},
	)
	require.NoError(t, err)

	// Both lines surface as stdout events.
	assert.ElementsMatch(t, []string{"visible", "hidden"}, log.byStream(StreamStdout))
	assert.Empty(t, log.byStream(StreamStderr))

	// The aggregate buffers keep their original streams.
	assert.Equal(t, "visible\n", res.Stdout)
	assert.Equal(t, "hidden\n", res.Stderr)
}

func TestRunTeesToLogWriters(t *testing.T) {
	// Each writer is touched by exactly one reader goroutine, so plain
	// builders are safe here.
	var outLog, errLog strings.Builder
	_, err := Runner{}.Run(
		shInvocation(`echo a; echo b >&2`, nil),
		nil,
		Options{StdoutLog: &outLog, StderrLog: &errLog},
	)
	require.NoError(t, err)
	assert.Equal(t, "a\n", outLog.String())
	assert.Equal(t, "b\n", errLog.String())
}

func TestRunVeryLongLine(t *testing.T) {
	// Doubling builds a single ~2 MiB line; reading must not stall on it.
	script := `s=a; i=0; while [ $i -lt 21 ]; do s=$s$s; i=$((i+1)); done; echo "$s"; echo done`

	log := &eventLog{}
	res, err := Runner{}.Run(shInvocation(script, nil), log.sub, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)

	lines := log.byStream(StreamStdout)
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], 1<<21)
	assert.Equal(t, "done", lines[1])
	assert.Equal(t, lines[0]+"\ndone\n", res.Stdout)
}

func TestRunNilSubscriber(t *testing.T) {
	res, err := Runner{}.Run(shInvocation(`echo quiet`, nil), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "quiet\n", res.Stdout)
}
