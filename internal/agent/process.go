package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"skill-forge/internal/draft"
	"skill-forge/internal/protocol"
)

const maxLineSize = 1024 * 1024 // 1 MB

// ErrProcessExited is returned by Send after the process has exited.
var ErrProcessExited = errors.New("agent process has exited")

// stdinWriter wraps the process input pipe with mutex protection.
type stdinWriter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	closed bool
}

func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrProcessExited
	}
	_, err := sw.writer.Write(data)
	return err
}

func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.writer.Close()
		sw.closed = true
	}
}

type userMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

type process struct {
	sessionID string
	draft     *draft.Draft
	store     *draft.Store
	cmd       *exec.Cmd
	cancel    func()
	stdin     *stdinWriter
	pipes     []io.Closer
	sink      Sink
	done      chan struct{}

	tailMu     sync.Mutex
	stderrTail string
}

func (p *process) DraftName() string { return p.draft.Name }
func (p *process) DraftPath() string { return p.draft.Path }
func (p *process) Done() <-chan struct{} { return p.done }

// Send writes text as one stream-json user message line.
func (p *process) Send(text string) error {
	select {
	case <-p.done:
		return ErrProcessExited
	default:
	}

	var msg userMessage
	msg.Type = "user"
	msg.Message.Role = "user"
	msg.Message.Content = text
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal user message: %w", err)
	}
	if err := p.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to agent: %w", err)
	}
	return nil
}

// Kill cancels the process context, which sends SIGKILL to the process
// group. Output pipes still held open by an escaped descendant are closed
// after waitDelay so the reader can finish.
func (p *process) Kill() {
	p.cancel()
	go func() {
		select {
		case <-p.done:
		case <-time.After(waitDelay):
			log.Warn().Str("sessionId", p.sessionID).Msg("Agent output still open after kill, closing pipes")
			for _, c := range p.pipes {
				c.Close()
			}
		}
	}()
}

// run reads stdout line by line until EOF, then reaps the process and emits
// the exit events.
func (p *process) run(stdout io.Reader, stderrDone <-chan struct{}) {
	defer close(p.done)
	defer p.cancel()

	var t translator
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ev, err := decodeLine(line)
		if err != nil {
			log.Debug().Err(err).Str("sessionId", p.sessionID).Msg("Dropping malformed agent line")
			continue
		}
		msgs := t.translate(ev)
		if len(msgs) == 0 {
			log.Debug().
				Str("sessionId", p.sessionID).
				Str("upstream", ev.upstreamType()).
				Msg("Dropping untranslated agent event")
			continue
		}
		for _, msg := range msgs {
			p.sink(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("sessionId", p.sessionID).Msg("Agent output scanner stopped")
		// Keep the pipe drained so the process cannot block on a full buffer.
		io.Copy(io.Discard, stdout)
	}

	<-stderrDone
	err := p.cmd.Wait()
	p.stdin.Close()

	code := exitCode(err)
	if ferr := p.store.FinishRun(p.draft.Name, code == 0); ferr != nil {
		log.Warn().Err(ferr).Str("draft", p.draft.Name).Msg("Failed to record agent run result")
	}

	if code != 0 {
		msg := fmt.Sprintf("agent process exited with code %d", code)
		if tail := p.lastStderr(); tail != "" {
			msg += ": " + tail
		}
		p.sink(protocol.NewErrorMessage(protocol.ErrProcessFailed, msg))
	}
	p.sink(protocol.MustMessage(protocol.TypeProcessExit, protocol.ProcessExitPayload{Code: code}))

	log.Info().
		Str("sessionId", p.sessionID).
		Str("draft", p.draft.Name).
		Int("exitCode", code).
		Msg("Agent process exited")
}

func (p *process) drainStderr(stderr io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.tailMu.Lock()
		p.stderrTail = line
		p.tailMu.Unlock()
		log.Debug().Str("sessionId", p.sessionID).Str("stderr", line).Msg("Agent stderr")
	}
	io.Copy(io.Discard, stderr)
}

func (p *process) lastStderr() string {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	return p.stderrTail
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
