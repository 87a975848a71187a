// Package session owns chat sessions: at most one push channel and at most
// one agent process per session id, event buffering while no channel is
// attached, reconnection and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"skill-forge/internal/agent"
	"skill-forge/internal/protocol"
)

const (
	defaultPendingCapacity = 1000
	defaultShutdownTimeout = 5 * time.Second
	minReapInterval        = time.Second
	maxReapInterval        = time.Minute
)

// Options configures a Manager.
type Options struct {
	// IdleTimeout stops agent processes without activity for this long and
	// drops sessions that never got a channel. Zero disables reaping.
	IdleTimeout time.Duration
	// PendingCapacity bounds the events buffered while no channel is attached.
	PendingCapacity int
	// MaxProcesses limits concurrently running agents. Zero means no limit.
	MaxProcesses int
	// Watcher, when set, watches each session's draft directory.
	Watcher Watcher
}

// Manager is the session registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*managedSession
	spawner  Spawner
	opts     Options
	now      func() time.Time
	// starting counts spawns holding a process slot before their handle is
	// recorded on the session.
	starting int
}

type managedSession struct {
	id        string
	createdAt time.Time
	now       func() time.Time
	pending   *RingBuffer

	// startMu serializes process starts and message writes.
	startMu sync.Mutex
	// emitMu serializes delivery so events keep their order.
	emitMu sync.Mutex

	mu           sync.Mutex
	ch           Channel
	proc         agent.Handle
	draft        string
	closed       bool
	lastActivity time.Time
}

// NewManager creates a session registry that starts processes with spawner.
func NewManager(spawner Spawner, opts Options) *Manager {
	if opts.PendingCapacity <= 0 {
		opts.PendingCapacity = defaultPendingCapacity
	}
	return &Manager{
		sessions: make(map[string]*managedSession),
		spawner:  spawner,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) getOrCreate(id string) *managedSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ms, ok := m.sessions[id]; ok {
		return ms
	}
	now := m.now()
	ms := &managedSession{
		id:           id,
		createdAt:    now,
		now:          m.now,
		pending:      NewRingBuffer(m.opts.PendingCapacity),
		lastActivity: now,
	}
	m.sessions[id] = ms
	log.Debug().Str("sessionId", id).Msg("Session created")
	return ms
}

func (m *Manager) lookup(id string) (*managedSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ms, nil
}

// Attach makes ch the session's channel, creating the session if needed.
// A previous channel is closed; buffered events are flushed to ch.
func (m *Manager) Attach(id string, ch Channel) {
	var old Channel
	var ms *managedSession
	for {
		ms = m.getOrCreate(id)
		ms.mu.Lock()
		if ms.closed {
			// Lost a race with teardown; the entry is gone from the map.
			ms.mu.Unlock()
			continue
		}
		old = ms.ch
		ms.ch = ch
		ms.lastActivity = m.now()
		ms.mu.Unlock()
		break
	}

	if old != nil && old != ch {
		log.Info().
			Str("sessionId", id).
			Str("oldChannel", old.ID()).
			Str("channel", ch.ID()).
			Msg("Replacing stream channel")
		old.Close()
	}
	ms.flush()

	log.Info().Str("sessionId", id).Str("channel", ch.ID()).Msg("Stream channel attached")
}

// Detach tears the session down if ch is still its current channel: the
// process is killed and the entry removed. A stale channel is ignored.
func (m *Manager) Detach(id string, ch Channel) bool {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	ms.mu.Lock()
	if ms.ch != ch {
		ms.mu.Unlock()
		m.mu.Unlock()
		log.Debug().Str("sessionId", id).Str("channel", ch.ID()).Msg("Ignoring close of replaced channel")
		return false
	}
	_, proc := ms.closeLocked()
	delete(m.sessions, id)
	ms.mu.Unlock()
	m.mu.Unlock()

	m.release(id, proc)
	log.Info().Str("sessionId", id).Bool("killedProcess", proc != nil).Msg("Session closed")
	return true
}

// Delete closes the session's channel, kills its process and removes it.
// The draft is kept.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ms.mu.Lock()
	ch, proc := ms.closeLocked()
	delete(m.sessions, id)
	ms.mu.Unlock()
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	m.release(id, proc)
	log.Info().Str("sessionId", id).Msg("Session deleted")
	return nil
}

func (m *Manager) release(id string, proc agent.Handle) {
	if proc != nil {
		proc.Kill()
	}
	if m.opts.Watcher != nil {
		m.opts.Watcher.Unwatch(id)
	}
}

// SendMessage delivers a chat message, starting a process with a new draft
// when the session has none. Without an attached channel the session waits
// in awaiting_channel and events are buffered.
func (m *Manager) SendMessage(ctx context.Context, id string, opts ChatOptions) error {
	if strings.TrimSpace(opts.Message) == "" {
		return ErrEmptyMessage
	}

	ms := m.getOrCreate(id)
	ms.startMu.Lock()
	defer ms.startMu.Unlock()

	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	proc := ms.proc
	ms.lastActivity = m.now()
	ms.mu.Unlock()

	if proc != nil {
		err := proc.Send(opts.Message)
		if err == nil {
			return nil
		}
		if !errors.Is(err, agent.ErrProcessExited) {
			ms.emit(protocol.NewErrorMessage(protocol.ErrWriteFailed, err.Error()))
			return err
		}
		// Exited since the last check; fall through to a fresh process.
	}

	release, err := m.reserveSlot()
	if err != nil {
		return err
	}
	defer release()

	handle, err := m.spawner.Start(ctx, id, agent.StartOptions{Kind: opts.Kind, Draft: opts.Draft}, ms.emit)
	if err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("Failed to start agent process")
		ms.emit(protocol.NewErrorMessage(protocol.ErrSpawnFailed, err.Error()))
		return err
	}

	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		handle.Kill()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ms.proc = handle
	ms.draft = handle.DraftName()
	ms.mu.Unlock()

	go m.watchProcess(ms, handle)

	if m.opts.Watcher != nil {
		if err := m.opts.Watcher.Watch(id, handle.DraftPath()); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("Failed to watch draft")
		}
	}

	if err := handle.Send(opts.Message); err != nil {
		return fmt.Errorf("send to agent: %w", err)
	}
	return nil
}

// watchProcess clears the session's process once it exits.
func (m *Manager) watchProcess(ms *managedSession, h agent.Handle) {
	<-h.Done()
	ms.mu.Lock()
	if ms.proc == h {
		ms.proc = nil
	}
	ms.lastActivity = m.now()
	ms.mu.Unlock()
}

// reserveSlot claims one of MaxProcesses for a spawn. The slot is counted
// until release; by then a successful spawn is visible as the session's
// process.
func (m *Manager) reserveSlot() (func(), error) {
	if m.opts.MaxProcesses <= 0 {
		return func() {}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveProcesses()+m.starting >= m.opts.MaxProcesses {
		return nil, ErrTooManyProcesses
	}
	m.starting++

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.starting--
			m.mu.Unlock()
		})
	}, nil
}

// liveProcesses requires m.mu.
func (m *Manager) liveProcesses() int {
	n := 0
	for _, ms := range m.sessions {
		ms.mu.Lock()
		if ms.proc != nil {
			n++
		}
		ms.mu.Unlock()
	}
	return n
}

// Notify pushes a server-originated event to a session.
func (m *Manager) Notify(id string, msg *protocol.Message) error {
	ms, err := m.lookup(id)
	if err != nil {
		return err
	}
	ms.emit(msg)
	return nil
}

// Get returns a snapshot of a session.
func (m *Manager) Get(id string) (Info, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return ms.info(), nil
}

// List returns snapshots of all sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	result := make([]Info, 0, len(m.sessions))
	for _, ms := range m.sessions {
		result = append(result, ms.info())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Stats summarizes the registry.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{Sessions: len(m.sessions)}
	for _, ms := range m.sessions {
		ms.mu.Lock()
		if ms.proc != nil {
			st.Processes++
		}
		if ms.ch != nil {
			st.Channels++
		}
		ms.mu.Unlock()
		st.Pending += ms.pending.Len()
	}
	return st
}

// ReapIdle stops processes idle since before now-IdleTimeout and removes
// sessions that never attached a channel. It returns how many sessions were
// affected.
func (m *Manager) ReapIdle(now time.Time) int {
	timeout := m.opts.IdleTimeout
	if timeout <= 0 {
		return 0
	}

	type victim struct {
		ms   *managedSession
		proc agent.Handle
	}
	var stopped []victim
	var dropped []string

	m.mu.Lock()
	for id, ms := range m.sessions {
		ms.mu.Lock()
		idle := now.Sub(ms.lastActivity) >= timeout
		switch {
		case !idle:
		case ms.proc != nil:
			stopped = append(stopped, victim{ms: ms, proc: ms.proc})
			ms.lastActivity = now
		case ms.ch == nil:
			ms.closeLocked()
			delete(m.sessions, id)
			dropped = append(dropped, id)
		}
		ms.mu.Unlock()
	}
	m.mu.Unlock()

	for _, v := range stopped {
		log.Info().Str("sessionId", v.ms.id).Dur("idle", timeout).Msg("Stopping idle agent process")
		v.ms.emit(protocol.NewErrorMessage(protocol.ErrSessionTimeout,
			fmt.Sprintf("agent process stopped after %s without activity", timeout)))
		v.proc.Kill()
	}
	for _, id := range dropped {
		log.Info().Str("sessionId", id).Msg("Dropping abandoned session")
		m.release(id, nil)
	}
	return len(stopped) + len(dropped)
}

// RunReaper calls ReapIdle periodically until ctx is done.
func (m *Manager) RunReaper(ctx context.Context) error {
	timeout := m.opts.IdleTimeout
	if timeout <= 0 {
		<-ctx.Done()
		return nil
	}
	interval := timeout / 4
	if interval < minReapInterval {
		interval = minReapInterval
	}
	if interval > maxReapInterval {
		interval = maxReapInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.ReapIdle(m.now())
		}
	}
}

// Shutdown closes every channel, kills every process and waits briefly for
// the processes to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*managedSession)
	var procs []agent.Handle
	var chans []Channel
	for _, ms := range all {
		ms.mu.Lock()
		ch, proc := ms.closeLocked()
		ms.mu.Unlock()
		if ch != nil {
			chans = append(chans, ch)
		}
		if proc != nil {
			procs = append(procs, proc)
		}
	}
	m.mu.Unlock()

	for _, ch := range chans {
		ch.Close()
	}
	for id := range all {
		m.release(id, nil)
	}
	for _, proc := range procs {
		proc.Kill()
	}

	deadline := time.After(defaultShutdownTimeout)
	for _, proc := range procs {
		select {
		case <-proc.Done():
		case <-deadline:
			log.Warn().Msg("Timed out waiting for agent processes to exit")
			return
		}
	}
	if len(all) > 0 {
		log.Info().Int("sessions", len(all)).Int("processes", len(procs)).Msg("Sessions shut down")
	}
}

// closeLocked marks the session closed and detaches its channel and
// process. ms.mu must be held.
func (ms *managedSession) closeLocked() (Channel, agent.Handle) {
	ch, proc := ms.ch, ms.proc
	ms.closed = true
	ms.ch = nil
	ms.proc = nil
	return ch, proc
}

func (ms *managedSession) channel() Channel {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.ch
}

// emit buffers msg and delivers everything pending to the current channel.
// It is the agent.Sink of the session's processes.
func (ms *managedSession) emit(msg *protocol.Message) {
	ms.emitMu.Lock()
	defer ms.emitMu.Unlock()

	ms.mu.Lock()
	ms.lastActivity = ms.now()
	ms.mu.Unlock()

	ms.pending.Write(msg)
	ms.deliverLocked()
}

func (ms *managedSession) flush() {
	ms.emitMu.Lock()
	defer ms.emitMu.Unlock()
	ms.deliverLocked()
}

// deliverLocked drains pending events into the current channel. When a send
// fails because the channel was replaced, delivery resumes on the new one;
// when the current channel is closing, events stay buffered. emitMu must be
// held.
func (ms *managedSession) deliverLocked() {
	for {
		ch := ms.channel()
		if ch == nil {
			return
		}
		for {
			msg, ok := ms.pending.Peek()
			if !ok {
				return
			}
			if err := ch.Send(msg); err != nil {
				break
			}
			ms.pending.Pop()
		}
		if ms.channel() == ch {
			return
		}
	}
}

func (ms *managedSession) info() Info {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	state := StateAwaitingChannel
	switch {
	case ms.closed:
		state = StateClosed
	case ms.proc != nil:
		state = StateActive
	case ms.ch != nil:
		state = StateIdle
	}
	return Info{
		ID:           ms.id,
		State:        state,
		HasChannel:   ms.ch != nil,
		HasProcess:   ms.proc != nil,
		Draft:        ms.draft,
		CreatedAt:    ms.createdAt,
		LastActivity: ms.lastActivity,
	}
}
