// Package agent spawns the coding-agent CLI for a chat session, feeds it
// user messages and translates its stream-json output into stream events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"skill-forge/internal/draft"
	"skill-forge/internal/protocol"
)

const (
	defaultBinary = "claude"

	// waitDelay bounds how long Wait waits for output pipes after the
	// process exited or was killed.
	waitDelay = 2 * time.Second
)

// DefaultAllowedTools is the capability set granted to the agent.
var DefaultAllowedTools = []string{"Read", "Write", "Edit", "Bash"}

// ErrSpawn wraps failures to start the agent process.
var ErrSpawn = errors.New("spawn agent process")

// Sink receives translated events in process output order. It is called from
// a single goroutine per process.
type Sink func(*protocol.Message)

// Handle is a running agent process.
type Handle interface {
	// Send writes one user message to the process.
	Send(text string) error
	// Kill terminates the process without a grace period.
	Kill()
	// Done is closed after the process exited and its exit events were emitted.
	Done() <-chan struct{}
	DraftName() string
	DraftPath() string
}

// Config configures a Runner.
type Config struct {
	// Binary is the agent executable, "claude" when empty.
	Binary string
	// Command replaces the whole argv when set. Used for alternative agents
	// and tests.
	Command []string
	// SystemPrompt is appended to the agent's own prompt. A default is built
	// from the draft kind when empty.
	SystemPrompt string
	AllowedTools []string
}

// StartOptions selects the draft a new process works on.
type StartOptions struct {
	Kind draft.Kind
	// Draft continues an existing draft instead of scaffolding a new one.
	Draft string
}

// Runner starts agent processes against drafts in a store.
type Runner struct {
	store *draft.Store
	cfg   Config
}

// NewRunner creates a Runner.
func NewRunner(store *draft.Store, cfg Config) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if len(cfg.AllowedTools) == 0 {
		cfg.AllowedTools = DefaultAllowedTools
	}
	return &Runner{store: store, cfg: cfg}
}

// Start resolves the draft, spawns the agent in it and emits draft_created
// before any output of the process reaches the sink.
func (r *Runner) Start(ctx context.Context, sessionID string, opts StartOptions, sink Sink) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d, err := r.resolveDraft(sessionID, opts)
	if err != nil {
		return nil, err
	}

	argv := r.argv(d)
	// The process outlives the request that started it.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, argv[0], argv[1:]...)
	cmd.Dir = d.Path
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	p := &process{
		sessionID: sessionID,
		draft:     d,
		store:     r.store,
		cmd:       cmd,
		cancel:    cancel,
		sink:      sink,
		done:      make(chan struct{}),
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}
	p.stdin = &stdinWriter{writer: stdin}
	p.pipes = []io.Closer{stdout, stderr}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	if err := r.store.MarkInProgress(d.Name); err != nil {
		log.Warn().Err(err).Str("draft", d.Name).Msg("Failed to mark draft in progress")
	}

	sink(protocol.MustMessage(protocol.TypeDraftCreated, protocol.DraftCreatedPayload{
		Name: d.Name,
		Path: d.Path,
		Kind: string(d.Kind),
	}))

	log.Info().
		Str("sessionId", sessionID).
		Str("draft", d.Name).
		Int("pid", cmd.Process.Pid).
		Msg("Agent process started")

	stderrDone := make(chan struct{})
	go p.drainStderr(stderr, stderrDone)
	go p.run(stdout, stderrDone)

	return p, nil
}

func (r *Runner) resolveDraft(sessionID string, opts StartOptions) (*draft.Draft, error) {
	if opts.Draft != "" {
		return r.store.Get(opts.Draft)
	}
	kind := opts.Kind
	if kind == "" {
		kind = draft.KindPlugin
	}
	return r.store.Scaffold(kind, sessionID)
}

func (r *Runner) argv(d *draft.Draft) []string {
	if len(r.cfg.Command) > 0 {
		return append([]string{}, r.cfg.Command...)
	}
	prompt := r.cfg.SystemPrompt
	if prompt == "" {
		prompt = SystemPrompt(d.Kind, d.Name)
	}
	return []string{
		r.cfg.Binary,
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--append-system-prompt", prompt,
		"--allowedTools", strings.Join(r.cfg.AllowedTools, ","),
		"--add-dir", d.Path,
	}
}

// SystemPrompt returns the authoring instructions given to the agent.
func SystemPrompt(kind draft.Kind, name string) string {
	var b strings.Builder
	b.WriteString("You are helping the user author a Claude ")
	b.WriteString(string(kind))
	b.WriteString(". Work only inside the current directory, which is the draft ")
	b.WriteString(name)
	b.WriteString(".\n\n")

	switch kind {
	case draft.KindSkill:
		b.WriteString("The skill is a single " + draft.SkillFile + " at the directory root. ")
		b.WriteString("It must start with a YAML front matter block containing name, description and version.\n")
	default:
		b.WriteString("The plugin manifest lives at " + draft.ManifestPath + " and needs name, version (major.minor.patch) and description. ")
		b.WriteString("Each skill is skills/<skill-name>/" + draft.SkillFile + " with a YAML front matter block containing name, description and version. ")
		b.WriteString("Optional components: commands/*.md and agents/*.md with front matter (name, agents also need description), and hooks/hooks.json.\n")
	}
	b.WriteString("Credentials a skill needs are declared in its front matter as a credentials list of {key, label}. ")
	b.WriteString("Do not create or edit " + draft.MetaFile + ".")
	return b.String()
}
