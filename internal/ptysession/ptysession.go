// Package ptysession manages long-lived interactive command sessions for
// the unified_exec tool runtime: a real PTY for commands that need a
// terminal, and a plain pipe pair for everything else, both exposing the
// same broadcast-to-many-readers shape.
package ptysession

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is one running command, either attached to a PTY or to plain
// stdio pipes, whose output can be tailed by multiple readers (the turn
// loop's event bus plus, for interactive use, a human attaching directly).
type Session struct {
	ID  string
	cmd *exec.Cmd

	mu       sync.Mutex
	ptyFile  osFile
	stdin    io.WriteCloser
	closed   bool
	buf      bytes.Buffer
	subs     []chan []byte
	exitCode int
	exitErr  error
	done     chan struct{}
}

// osFile is the minimal surface ptysession needs from *os.File, satisfied
// by what github.com/creack/pty.Start returns.
type osFile interface {
	io.ReadWriteCloser
}

// Options configures how a session's command is started.
type Options struct {
	Program string
	Args    []string
	Cwd     string
	Env     []string
	// Interactive requests a real PTY; otherwise the command runs with
	// plain pipes.
	Interactive bool
	Rows, Cols  uint16
}

// Start launches a new session. The caller owns calling Close (or letting
// the command run to completion and draining Wait).
func Start(ctx context.Context, opts Options) (*Session, error) {
	cmd := exec.CommandContext(ctx, opts.Program, opts.Args...)
	cmd.Dir = opts.Cwd
	cmd.Env = opts.Env

	s := &Session{ID: uuid.NewString(), cmd: cmd, done: make(chan struct{})}

	if opts.Interactive {
		f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
		if err != nil {
			return nil, fmt.Errorf("start pty session: %w", err)
		}
		s.ptyFile = f
		s.stdin = f
		go s.pump(f)
		return s, nil
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout // merge, matching interactive PTY semantics
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}
	s.stdin = stdin
	go s.pump(stdout)
	return s, nil
}

// pump reads from the session's output source and fans it out to both the
// replay buffer and any live subscribers, then waits for process exit.
func (s *Session) pump(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.broadcast(chunk)
		}
		if err != nil {
			break
		}
	}
	err := s.cmd.Wait()
	s.mu.Lock()
	s.exitErr = err
	if s.cmd.ProcessState != nil {
		s.exitCode = s.cmd.ProcessState.ExitCode()
	}
	s.mu.Unlock()
	close(s.done)
}

func (s *Session) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(chunk)
	for _, sub := range s.subs {
		select {
		case sub <- chunk:
		default:
			log.Warn().Str("session", s.ID).Msg("dropping output chunk for slow subscriber")
		}
	}
}

// Subscribe returns a channel that receives every output chunk produced
// after this call, plus replays everything buffered so far onto it first.
func (s *Session) Subscribe() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []byte, 64)
	if s.buf.Len() > 0 {
		ch <- append([]byte(nil), s.buf.Bytes()...)
	}
	s.subs = append(s.subs, ch)
	return ch
}

// Write sends input to the session's stdin (or PTY master).
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return 0, fmt.Errorf("session %s has no writable stdin", s.ID)
	}
	return stdin.Write(p)
}

// Wait blocks until the command exits or ctx is cancelled, returning the
// exit code.
func (s *Session) Wait(ctx context.Context) (int, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.exitCode, s.exitErr
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close terminates the session's process and releases its PTY/pipes.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, sub := range s.subs {
		close(sub)
	}
	s.subs = nil
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.ptyFile != nil {
		_ = s.ptyFile.Close()
	}
	if closer, ok := s.stdin.(io.Closer); ok {
		_ = closer.Close()
	}
	return nil
}

// IdleDeadline wraps ctx with a fixed timeout of d measured from the call;
// output produced by the session does not reset or extend it.
func IdleDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
