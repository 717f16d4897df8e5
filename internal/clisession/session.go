// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package clisession owns one child CLI process for one logical session
// (C2): it spawns the process for each send (one-shot per turn),
// resumes prior conversations via the backend's captured session id,
// streams parsed events back to the caller, and tears the process down
// on completion, error, or explicit close.
package clisession

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/agentbridge/bridge/internal/backend"
	"github.com/agentbridge/bridge/internal/bridgeerr"
	"github.com/agentbridge/bridge/internal/logging"
)

// EventKind distinguishes the cases of the StreamMessage tagged variant
// the spec describes; realized here as a discriminated struct since its
// consumer (the stream-response stage) only ever switches on Kind.
type EventKind string

const (
	EventInit       EventKind = "init"
	EventText       EventKind = "text"
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventThinking   EventKind = "thinking"
	EventResult     EventKind = "result"
	EventError      EventKind = "error"
)

// Event is one item yielded on a Session's stream channel.
type Event struct {
	Kind             string
	BackendSessionID string
	Text             string
	ToolUses         []backend.ToolUse
	ToolResults      []backend.ToolResult
	IsError          bool
	Err              error
	ContextUsage     *backend.ParsedMessage
}

const (
	stderrRingCap   = 64
	readerBufMax    = 1 << 20 // 1MB, grounded on the reference provider's scanner buffer sizing
	defaultStopGrace = 5 * time.Second
)

// Session owns the lifecycle of one backend child process for one
// session id.
type Session struct {
	mu sync.Mutex

	sessionID string
	be        backend.Backend
	cfg       backend.SessionConfig
	resumeID  string // backendSessionId captured from init, fed into the next send
	log       *logging.Logger
	stopGrace time.Duration

	cmd      *exec.Cmd
	pgid     int
	stdin    io.WriteCloser
	streaming bool
	streamWG sync.WaitGroup
}

// New creates a CLI session for sessionID against backend be.
func New(sessionID string, be backend.Backend, cfg backend.SessionConfig, log *logging.Logger) *Session {
	if log == nil {
		log = logging.New("clisession")
	}
	return &Session{
		sessionID: sessionID,
		be:        be,
		cfg:       cfg,
		log:       log.With(sessionID),
		stopGrace: defaultStopGrace,
	}
}

// BackendSessionID returns the backend session id captured from the last
// init event, if any.
func (s *Session) BackendSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeID
}

// StreamMessages spawns the child for one send and streams parsed events
// back on the returned channel until IsComplete fires or the child exits.
// The channel is closed when the turn ends, successfully or not.
func (s *Session) StreamMessages(ctx context.Context, content string) (<-chan Event, error) {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return nil, fmt.Errorf("clisession: %s is already streaming", s.sessionID)
	}
	s.streaming = true
	cfg := s.cfg
	cfg.ResumeBackendID = s.resumeID
	s.mu.Unlock()

	msg := backend.Message{Role: "user", Content: []backend.ContentBlock{{Type: "text", Text: content}}}

	argv := s.be.BuildArgv(cfg, nil)
	if !s.be.StdinDriven {
		argv = append(argv, string(s.be.FormatInput(msg)))
	}

	bin := cfg.BinaryPath
	if bin == "" {
		bin = s.be.Binary
	}

	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.Env = s.be.BuildEnv(cfg, os.Environ())
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	events := make(chan Event, 16)

	var stdoutR, stderrR io.ReadCloser
	var stdin io.WriteCloser
	var err error

	if s.be.Capabilities.PTY {
		stdin, stdoutR, err = startPTY(cmd)
	} else {
		stdin, stdoutR, stderrR, err = startPipes(cmd)
	}
	if err != nil {
		s.mu.Lock()
		s.streaming = false
		s.mu.Unlock()
		close(events)
		return nil, &bridgeerr.CLIError{Err: err}
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	if cmd.Process != nil {
		s.pgid = cmd.Process.Pid
	}
	s.mu.Unlock()

	stderrBuf := newRingBuffer(stderrRingCap)
	if stderrR != nil {
		s.streamWG.Add(1)
		go func() {
			defer s.streamWG.Done()
			drainStderr(stderrR, stderrBuf)
		}()
	}

	if s.be.StdinDriven {
		go func() {
			_, _ = stdin.Write(s.be.FormatInput(msg))
			stdin.Close()
		}()
	} else {
		stdin.Close()
	}

	s.streamWG.Add(1)
	go func() {
		defer s.streamWG.Done()
		s.readLoop(ctx, stdoutR, events)
	}()

	go s.waitForExit(cmd, events, stderrBuf)

	return events, nil
}

func (s *Session) readLoop(ctx context.Context, r io.Reader, events chan Event) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), readerBufMax)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}

		parsed, err := s.be.ParseLine(line)
		if err != nil {
			s.log.Warnf("parse error: %v", &bridgeerr.CLIParseError{Line: string(line)})
			continue
		}
		if parsed == nil {
			continue // unparseable or irrelevant line, silently skipped
		}

		ev := s.toEvent(parsed)
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}

		if s.be.IsComplete(parsed) {
			return
		}
	}
}

func (s *Session) toEvent(p *backend.ParsedMessage) Event {
	switch p.Kind {
	case "init":
		s.mu.Lock()
		s.resumeID = p.SessionID
		s.mu.Unlock()
		return Event{Kind: string(EventInit), BackendSessionID: p.SessionID}
	case "text":
		ev := Event{Kind: string(EventText)}
		if text, ok := s.be.ExtractContent(p); ok {
			ev.Text = text
		}
		if uses := s.be.ExtractToolUses(p); len(uses) > 0 {
			ev.Kind = string(EventToolUse)
			ev.ToolUses = uses
		}
		if results := s.be.ExtractToolResults(p); len(results) > 0 {
			ev.Kind = string(EventToolResult)
			ev.ToolResults = results
		}
		if thinking, ok := s.be.ExtractThinking(p); ok {
			ev.Kind = string(EventThinking)
			ev.Text = thinking
		}
		return ev
	case "result":
		return Event{Kind: string(EventResult), Text: p.Result, IsError: p.IsError, ContextUsage: p}
	default:
		return Event{Kind: string(EventText)}
	}
}

func (s *Session) waitForExit(cmd *exec.Cmd, events chan Event, stderrBuf *ringBuffer) {
	s.streamWG.Wait() // drain readers before Wait(); pipe FDs close on Wait()
	err := cmd.Wait()

	s.mu.Lock()
	s.streaming = false
	s.cmd = nil
	s.mu.Unlock()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			s.log.Warnf("exited with code %d; stderr:\n%s", exitErr.ExitCode(), stderrBuf.String())
			events <- Event{
				Kind: string(EventError),
				Err: &bridgeerr.CLIProcessExitError{
					ExitCode:   exitErr.ExitCode(),
					StderrTail: stderrBuf.String(),
				},
			}
		} else {
			events <- Event{Kind: string(EventError), Err: &bridgeerr.CLIError{Err: err}}
		}
	}
	close(events)
}

// Close signals the child to terminate: SIGTERM to the process group,
// escalating to SIGKILL after stopGrace. Swallows "not running" errors
// idempotently.
func (s *Session) Close() error {
	s.mu.Lock()
	cmd := s.cmd
	pgid := s.pgid
	stdin := s.stdin
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if pgid > 0 {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		s.streamWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.stopGrace):
	}

	if pgid > 0 {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = cmd.Process.Kill()
	}
	return nil
}

func startPipes(cmd *exec.Cmd) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start: %w", err)
	}
	return stdin, stdout, stderr, nil
}

func startPTY(cmd *exec.Cmd) (io.WriteCloser, io.ReadCloser, error) {
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("pty start: %w", err)
	}
	return f, f, nil
}

func drainStderr(stderr io.ReadCloser, buf *ringBuffer) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		buf.Add(scanner.Text())
	}
}

type ringBuffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newRingBuffer(cap int) *ringBuffer {
	return &ringBuffer{cap: cap}
}

func (r *ringBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := ""
	for i, l := range r.lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
