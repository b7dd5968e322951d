package procrun

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"rythmo/internal/logging"
)

const (
	maxLineBytes   = 1 << 20
	maxCaptureSize = 16 << 20
	killWaitDelay  = 5 * time.Second
)

// Command describes one external tool invocation.
type Command struct {
	Name    string
	Args    []string
	Env     []string
	Dir     string
	Timeout time.Duration
	// AllowedExitCodes lists exit codes treated as success besides 0.
	AllowedExitCodes []int
	OnStdoutLine     func(string)
	OnStderrLine     func(string)
}

func (c Command) label() string {
	return filepath.Base(c.Name)
}

// Result holds the outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// TickFunc is invoked on every poll interval while a command runs. Returning
// an error kills the command.
type TickFunc func(elapsed time.Duration) error

// Runner executes commands.
type Runner struct {
	logger *slog.Logger
}

// New constructs a Runner.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{logger: logger}
}

// Run executes cmd and waits for it to exit.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
	return r.RunWithPolling(ctx, cmd, 0, nil)
}

// RunWithPolling executes cmd, calling onTick every interval until the process
// exits. When onTick returns an error the process group is killed and that
// error is returned.
func (r *Runner) RunWithPolling(ctx context.Context, cmd Command, interval time.Duration, onTick TickFunc) (Result, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return Result{}, &Error{Kind: KindSpawnFailed, Command: "command", Err: errors.New("empty command name")}
	}
	if err := context.Cause(ctx); err != nil {
		return Result{}, &Error{Kind: KindCancelled, Command: cmd.label(), Err: err}
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	var timeoutCtx context.Context = runCtx
	if cmd.Timeout > 0 {
		var stop context.CancelFunc
		timeoutCtx, stop = context.WithTimeout(runCtx, cmd.Timeout)
		defer stop()
	}

	execCmd := exec.CommandContext(timeoutCtx, cmd.Name, cmd.Args...) //nolint:gosec
	execCmd.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		execCmd.Env = append(os.Environ(), cmd.Env...)
	}
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	execCmd.Cancel = func() error {
		if execCmd.Process == nil {
			return nil
		}
		if err := unix.Kill(-execCmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return execCmd.Process.Kill()
		}
		return nil
	}
	execCmd.WaitDelay = killWaitDelay

	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		return Result{}, &Error{Kind: KindSpawnFailed, Command: cmd.label(), Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := execCmd.StderrPipe()
	if err != nil {
		return Result{}, &Error{Kind: KindSpawnFailed, Command: cmd.label(), Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	r.logger.Debug("starting command",
		logging.String("command", cmd.label()),
		logging.String("args", strings.Join(cmd.Args, " ")),
		logging.Duration("timeout", cmd.Timeout),
	)
	started := time.Now()
	if err := execCmd.Start(); err != nil {
		return Result{}, &Error{Kind: KindSpawnFailed, Command: cmd.label(), Err: err}
	}

	var (
		wg     sync.WaitGroup
		outBuf capture
		errBuf capture
	)
	scan := func(reader io.Reader, buf *capture, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			buf.add(line)
			if forward != nil {
				forward(line)
			}
		}
		if err := scanner.Err(); err != nil {
			cancel(fmt.Errorf("read output: %w", err))
			_, _ = io.Copy(io.Discard, reader)
		}
	}
	wg.Add(2)
	go scan(stdout, &outBuf, cmd.OnStdoutLine)
	go scan(stderr, &errBuf, cmd.OnStderrLine)

	tickDone := make(chan struct{})
	var tickWG sync.WaitGroup
	if onTick != nil && interval > 0 {
		tickWG.Add(1)
		go func() {
			defer tickWG.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-tickDone:
					return
				case <-runCtx.Done():
					return
				case <-ticker.C:
					if err := onTick(time.Since(started)); err != nil {
						cancel(err)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	waitErr := execCmd.Wait()
	close(tickDone)
	tickWG.Wait()

	result := Result{
		ExitCode: exitCode(execCmd, waitErr),
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		Duration: time.Since(started),
	}
	r.logger.Debug("command finished",
		logging.String("command", cmd.label()),
		logging.Int("exit_code", result.ExitCode),
		logging.Duration("duration", result.Duration),
	)

	// Parent cancellation, poll aborts and timeouts take precedence over the
	// exit status the kill produced.
	if cause := context.Cause(runCtx); cause != nil {
		if parentErr := context.Cause(ctx); parentErr != nil {
			return result, &Error{Kind: KindCancelled, Command: cmd.label(), Err: parentErr}
		}
		return result, fmt.Errorf("%s aborted: %w", cmd.label(), cause)
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return result, &Error{
			Kind:    KindTimeout,
			Command: cmd.label(),
			Err:     fmt.Errorf("exceeded %s", cmd.Timeout),
			Stderr:  tail(result.Stderr, stderrTailLimit),
		}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, &Error{Kind: KindSpawnFailed, Command: cmd.label(), Err: waitErr}
		}
		if result.ExitCode < 0 || !slices.Contains(cmd.AllowedExitCodes, result.ExitCode) {
			return result, &Error{
				Kind:     KindNonZeroExit,
				Command:  cmd.label(),
				ExitCode: result.ExitCode,
				Stderr:   tail(result.Stderr, stderrTailLimit),
				Err:      waitErr,
			}
		}
	}
	return result, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

type capture struct {
	mu        sync.Mutex
	b         strings.Builder
	truncated bool
}

func (c *capture) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return
	}
	if c.b.Len()+len(line)+1 > maxCaptureSize {
		c.truncated = true
		return
	}
	c.b.WriteString(line)
	c.b.WriteByte('\n')
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.String()
}
