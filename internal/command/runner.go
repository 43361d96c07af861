// Package command runs external programs on behalf of task work functions.
package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotStarted = errors.New("command not started")
	ErrInProgress = errors.New("command in progress")
)

type StderrFunc func(ctx context.Context, line string)

type Command struct {
	Path    string
	Args    []string
	Env     []string
	Dir     string
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

type Result struct {
	Path    string
	Args    []string
	Env     []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  *bytes.Buffer
	Stderr  *bytes.Buffer
	Err     error
}

// Executor runs a command to completion.
type Executor interface {
	Run(ctx context.Context, proto Command, stderrFunc StderrFunc) (Result, error)
}

// Runner runs one command at a time.
type Runner struct {
	mx         sync.RWMutex
	cmd        *exec.Cmd
	cancelFunc context.CancelFunc
	result     Result
	waits      []chan Result
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrNotStarted},
	}
}

// Start runs the process and returns without waiting for it. Only a single
// process runs at a time, ErrInProgress is returned otherwise. Use WaitChan
// to get the result.
func (r *Runner) Start(ctx context.Context, proto Command, stderrFunc StderrFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
		Env:  append([]string(nil), proto.Env...),
	}

	r.cancelFunc = nil
	if proto.Timeout > 0 {
		ctx, r.cancelFunc = context.WithTimeout(ctx, proto.Timeout)
	}

	cmd := exec.CommandContext(ctx, r.result.Path, r.result.Args...)
	cmd.Env = r.result.Env
	cmd.Dir = proto.Dir

	var stdout, stderrBuf bytes.Buffer
	r.result.Stdout = &stdout
	r.result.Stderr = &stderrBuf
	cmd.Stdout = &stdout

	var stderr io.ReadCloser
	if stderrFunc != nil {
		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			r.stopTimer()
			return err
		}
	} else {
		cmd.Stderr = &stderrBuf
	}

	slog.DebugContext(ctx, "starting command", "command", proto.String())
	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		r.stopTimer()
		return err
	}
	r.cmd = cmd

	var wg sync.WaitGroup
	if stderr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processStderr(ctx, stderr, &stderrBuf, stderrFunc)
		}()
	}
	go r.wait(cmd, &wg)
	return nil
}

func processStderr(ctx context.Context, stderr io.Reader, buf *bytes.Buffer, stderrFunc StderrFunc) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		stderrFunc(ctx, line)
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
}

func (r *Runner) wait(cmd *exec.Cmd, stderr *sync.WaitGroup) {
	// pipe readers must finish before Wait closes the pipe
	stderr.Wait()
	err := cmd.Wait()
	stopped := time.Now().UTC()

	r.mx.Lock()
	defer r.mx.Unlock()
	r.stopTimer()
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	r.cmd = nil
	for _, ch := range r.waits {
		ch <- r.result
		close(ch)
	}
	r.waits = nil
}

func (r *Runner) stopTimer() {
	if r.cancelFunc != nil {
		r.cancelFunc()
		r.cancelFunc = nil
	}
}

// WaitChan returns a channel receiving the result of the running program.
// When nothing runs, the channel receives the last result right away.
func (r *Runner) WaitChan() <-chan Result {
	ch := make(chan Result, 1)
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd == nil {
		ch <- r.result
		close(ch)
		return ch
	}
	r.waits = append(r.waits, ch)
	return ch
}

// Result returns the last command result, with ErrNotStarted if nothing
// ran yet.
func (r *Runner) Result() Result {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.result
}

// Run starts proto and waits for it. Cancelling ctx kills the process.
// A failure includes the tail of stderr.
func (r *Runner) Run(ctx context.Context, proto Command, stderrFunc StderrFunc) (Result, error) {
	if err := r.Start(ctx, proto, stderrFunc); err != nil {
		return r.Result(), fmt.Errorf("running %s: %w", proto.Path, err)
	}
	res := <-r.WaitChan()
	if res.Err != nil {
		return res, fmt.Errorf("running %s: %w%s", proto.Path, res.Err, stderrTail(res.Stderr))
	}
	return res, nil
}

func stderrTail(buf *bytes.Buffer) string {
	if buf == nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return ""
	}
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return ": " + strings.Join(lines, "; ")
}

// Exec is the Executor running every command on its own Runner.
type Exec struct{}

func (Exec) Run(ctx context.Context, proto Command, stderrFunc StderrFunc) (Result, error) {
	return NewRunner().Run(ctx, proto, stderrFunc)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, proto Command) (Result, error)

func (f ExecutorFunc) Run(ctx context.Context, proto Command, _ StderrFunc) (Result, error) {
	return f(ctx, proto)
}

// Output wraps stdout into a successful Result.
func Output(proto Command, stdout string) Result {
	return Result{
		Path:   proto.Path,
		Args:   proto.Args,
		Stdout: bytes.NewBufferString(stdout),
		Stderr: &bytes.Buffer{},
	}
}
