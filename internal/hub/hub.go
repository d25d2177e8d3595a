// Package hub implements the session realtime gateway: it owns one logical
// room per session, fans out state changes to connected clients, enforces
// moderation state on inbound events, and keeps a short-lived code cache with
// idle eviction.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/presence"
	"github.com/ibachev/codeeditor/internal/repository"
	"github.com/ibachev/codeeditor/internal/tasks"
)

// DefaultCacheIdleTTL is how long a session's code cache survives without
// qualifying activity.
const DefaultCacheIdleTTL = 10 * time.Minute

// TaskEnqueuer queues background tasks. Satisfied by *asynq.Client.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type messageKind int

const (
	messageRegister messageKind = iota
	messageUnregister
	messageEvent
)

// message is the internal unit of work flowing through the hub channel.
type message struct {
	kind   messageKind
	client *Client
	raw    []byte
}

// room groups the live connections of one session. The code cache is kept
// separately because its lifecycle (idle eviction) is independent of room
// emptiness.
type room struct {
	clients map[*Client]bool
}

// Hub coordinates all session rooms. One instance per process.
type Hub struct {
	messageChan chan message
	quit        chan struct{}

	mu        sync.RWMutex
	rooms     map[string]*room
	codeCache map[string]string

	registry        *presence.Registry
	participantRepo repository.ParticipantRepository
	sessionRepo     repository.SessionRepository
	codeRepo        repository.CodeRepository
	enqueuer        TaskEnqueuer
	evictor         *KeyedDebouncer
}

// NewHub creates a Hub. cacheIdleTTL falls back to DefaultCacheIdleTTL when
// non-positive.
func NewHub(
	registry *presence.Registry,
	participantRepo repository.ParticipantRepository,
	sessionRepo repository.SessionRepository,
	codeRepo repository.CodeRepository,
	enqueuer TaskEnqueuer,
	cacheIdleTTL time.Duration,
) *Hub {
	if registry == nil {
		panic("presence Registry cannot be nil for Hub")
	}
	if participantRepo == nil {
		panic("ParticipantRepository cannot be nil for Hub")
	}
	if sessionRepo == nil {
		panic("SessionRepository cannot be nil for Hub")
	}
	if codeRepo == nil {
		panic("CodeRepository cannot be nil for Hub")
	}
	if enqueuer == nil {
		panic("TaskEnqueuer cannot be nil for Hub")
	}
	if cacheIdleTTL <= 0 {
		cacheIdleTTL = DefaultCacheIdleTTL
	}

	h := &Hub{
		messageChan:     make(chan message, 512),
		quit:            make(chan struct{}),
		rooms:           make(map[string]*room),
		codeCache:       make(map[string]string),
		registry:        registry,
		participantRepo: participantRepo,
		sessionRepo:     sessionRepo,
		codeRepo:        codeRepo,
		enqueuer:        enqueuer,
	}
	h.evictor = NewKeyedDebouncer(cacheIdleTTL, h.evictCodeCache)
	return h
}

// Run processes hub messages until Stop is called. It should run in its own
// goroutine.
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running")

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.kind {
			case messageRegister:
				// Admission involves repository reads (kick check, code
				// fallback); run it off the loop so one slow join cannot
				// stall every room.
				go h.registerClient(msg.client)
			case messageUnregister:
				// A connection's register always precedes its unregister on
				// this channel; waiting for the admission goroutine keeps the
				// pair ordered without stalling the loop.
				go h.waitAndUnregister(msg.client)
			case messageEvent:
				// Frames from one connection may be applied in any order;
				// the code cache is last-write-wins.
				go h.handleClientEvent(msg.client, msg.raw)
			}
		case <-h.quit:
			log.Info("Hub is shutting down")
			return
		}
	}
}

// Stop terminates the Run loop and cancels pending evictions.
func (h *Hub) Stop() {
	h.evictor.StopAll()
	close(h.quit)
}

// Register queues a freshly upgraded connection for admission. Returns false
// when the hub queue is full.
func (h *Hub) Register(client *Client) bool {
	return h.queue(message{kind: messageRegister, client: client})
}

func (h *Hub) queue(msg message) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"session_id": msg.client.sessionID,
			"username":   msg.client.identity.Username,
		}).Warn("Hub message channel full, dropping message")
		return false
	}
}

// registerClient performs the admission sequence for a connecting client:
// kick check, eviction cancel, best-effort participant upsert, presence
// admit, room join, initial state sync, presence broadcast, idle timer
// restart.
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: attempted to register a nil client")
		return
	}
	defer close(client.admissionDone)
	sessionID := client.sessionID
	username := client.identity.Username
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"username":   username,
	})

	ctx := context.Background()

	// Kicked participants are rejected before touching any room state: they
	// get the kicked signal on their own connection and never appear online.
	participant, err := h.participantRepo.Find(ctx, sessionID, username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logCtx.WithError(err).Error("Admission failed: could not check kick status")
		return
	}
	if participant != nil && participant.Kicked {
		logCtx.Info("Rejected connection from kicked participant")
		h.sendEvent(client, EventUserKicked, nil)
		return
	}

	// Arriving activity resets the idle clock.
	h.evictor.Cancel(sessionID)

	// Persisted online mirror is best-effort; an enqueue failure never blocks
	// realtime admission.
	h.enqueuePresenceSync(sessionID, client.identity.UserID, username, true)

	first := h.registry.Admit(client.connID, sessionID, username)

	h.mu.Lock()
	rm, ok := h.rooms[sessionID]
	if !ok {
		rm = &room{clients: make(map[*Client]bool)}
		h.rooms[sessionID] = rm
	}
	rm.clients[client] = true
	h.mu.Unlock()
	client.admitted.Store(true)

	// Initial state sync goes to the joiner only: the online snapshot first,
	// then the code via the cache -> persisted -> empty fallback chain.
	h.sendEvent(client, EventOnlineUsers, h.registry.ListOnline(sessionID))
	h.sendEvent(client, EventCodeUpdate, h.currentCode(ctx, sessionID))

	if first {
		h.broadcast(sessionID, EventUserOnline, PresencePayload{Username: username}, client)
	}

	h.evictor.Reset(sessionID)
	logCtx.Info("Client admitted to session room")
}

// waitAndUnregister blocks until the client's admission attempt has finished,
// then tears the client down. A disconnect arriving mid-admission would
// otherwise remove presence state before it exists and leave the admitted
// entry behind forever.
func (h *Hub) waitAndUnregister(client *Client) {
	if client == nil {
		logrus.Error("Hub: attempted to unregister a nil client")
		return
	}
	<-client.admissionDone
	h.unregisterClient(client)
}

// unregisterClient tears down a disconnecting client: room removal, presence
// removal, offline broadcast, best-effort mirror update, idle timer restart.
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": client.sessionID,
		"username":   client.identity.Username,
	})

	h.mu.Lock()
	if rm, ok := h.rooms[client.sessionID]; ok {
		if _, exists := rm.clients[client]; exists {
			delete(rm.clients, client)
			close(client.send)
			if len(rm.clients) == 0 {
				// Only the connection group goes away; the code cache stays
				// until its own idle timer fires.
				delete(h.rooms, client.sessionID)
			}
		}
	}
	h.mu.Unlock()

	sessionID, username, last, ok := h.registry.Remove(client.connID)
	if !ok {
		// Never admitted (kicked, or rejected mid-admission); nothing to
		// broadcast.
		logCtx.Debug("Unregister for connection without presence entry")
		return
	}
	if last {
		h.broadcast(sessionID, EventUserOffline, PresencePayload{Username: username}, client)
		h.enqueuePresenceSync(sessionID, client.identity.UserID, username, false)
	}

	// Disconnection counts as the last activity starting the idle countdown.
	h.evictor.Reset(sessionID)
	logCtx.Info("Client left session room")
}

// handleClientEvent validates and applies one inbound frame.
func (h *Hub) handleClientEvent(client *Client, raw []byte) {
	if !client.admitted.Load() {
		return
	}
	sessionID := client.sessionID
	sender := client.identity.Username
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"username":   sender,
	})

	event, err := DecodeInbound(raw)
	if err != nil {
		logCtx.WithError(err).Warn("Dropping invalid client event")
		return
	}

	ctx := context.Background()

	switch ev := event.(type) {
	case CodeUpdate:
		h.mu.Lock()
		h.codeCache[sessionID] = ev.Code
		h.mu.Unlock()
		h.evictor.Reset(sessionID)
		h.broadcast(sessionID, EventCodeUpdate, ev.Code, client)

	case UserTyping:
		participant, err := h.participantRepo.Find(ctx, sessionID, sender)
		if err != nil {
			logCtx.WithError(err).Warn("Typing signal dropped: could not load participant")
			return
		}
		if !participant.Muted {
			h.broadcast(sessionID, EventUserTypingUpdate, sender, client)
		}

	case LanguageUpdate:
		h.broadcast(sessionID, EventLanguageUpdate, ev.Language, nil)

	case ResultUpdate:
		h.broadcast(sessionID, EventResultUpdate, ev.Result, nil)

	case ToggleMute:
		participant, err := h.participantRepo.Find(ctx, sessionID, ev.Username)
		if err != nil {
			logCtx.WithError(err).WithField("target", ev.Username).Warn("Mute toggle dropped: participant not found")
			return
		}
		muted := !participant.Muted
		if err := h.participantRepo.SetMuted(ctx, sessionID, ev.Username, muted); err != nil {
			logCtx.WithError(err).WithField("target", ev.Username).Error("Failed to persist mute toggle")
			return
		}
		h.broadcast(sessionID, EventMuteStatusChanged, MuteStatusPayload{
			Username:    ev.Username,
			Muted:       muted,
			InitiatedBy: sender,
		}, client)

	case ToggleKick:
		participant, err := h.participantRepo.Find(ctx, sessionID, ev.Username)
		if err != nil {
			logCtx.WithError(err).WithField("target", ev.Username).Warn("Kick toggle dropped: participant not found")
			return
		}
		kicked := !participant.Kicked
		if err := h.participantRepo.SetKicked(ctx, sessionID, ev.Username, kicked); err != nil {
			logCtx.WithError(err).WithField("target", ev.Username).Error("Failed to persist kick toggle")
			return
		}
		// Includes the initiator so every UI reflects the acknowledged state;
		// the kicked client treats it as a forced removal.
		h.broadcast(sessionID, EventKickStatusChanged, KickStatusPayload{
			Username:    ev.Username,
			Kicked:      kicked,
			InitiatedBy: sender,
		}, nil)

	case ToggleLock:
		session, err := h.sessionRepo.FindBySessionID(ctx, sessionID)
		if err != nil {
			logCtx.WithError(err).Warn("Lock toggle dropped: could not load session")
			return
		}
		locked := !session.IsLocked
		if err := h.sessionRepo.SetLock(ctx, sessionID, locked); err != nil {
			logCtx.WithError(err).Error("Failed to persist lock toggle")
			return
		}
		h.broadcast(sessionID, EventLockStatusUpdated, locked, nil)
	}
}

// currentCode resolves the code a joining client should see: the live cache
// when present, otherwise the persisted record, otherwise empty.
func (h *Hub) currentCode(ctx context.Context, sessionID string) string {
	h.mu.RLock()
	code, ok := h.codeCache[sessionID]
	h.mu.RUnlock()
	if ok {
		return code
	}

	record, err := h.codeRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to load persisted code, syncing empty buffer")
		}
		return ""
	}
	return record.Code
}

// CachedCode returns the live cache entry for a session, if any.
func (h *Hub) CachedCode(sessionID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	code, ok := h.codeCache[sessionID]
	return code, ok
}

// evictCodeCache is the idle-eviction callback: unsaved live edits are
// silently discarded, the next joiner falls back to the persisted record.
func (h *Hub) evictCodeCache(sessionID string) {
	h.mu.Lock()
	_, ok := h.codeCache[sessionID]
	delete(h.codeCache, sessionID)
	h.mu.Unlock()
	if ok {
		logrus.WithField("session_id", sessionID).Info("Code cache evicted after idle window")
	}
}

// broadcast fans an event out to the session's room, optionally excluding the
// originating client.
func (h *Hub) broadcast(sessionID, event string, data interface{}, exclude *Client) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to encode broadcast event")
		return
	}

	h.mu.RLock()
	rm, ok := h.rooms[sessionID]
	recipients := make([]*Client, 0, 8)
	if ok {
		for c := range rm.clients {
			if c != exclude {
				recipients = append(recipients, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		select {
		case c.send <- payload:
		default:
			logrus.WithFields(logrus.Fields{
				"session_id": sessionID,
				"event":      event,
				"receiver":   c.identity.Username,
			}).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

// sendEvent delivers an event to a single client, non-blocking.
func (h *Hub) sendEvent(client *Client, event string, data interface{}) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode client event")
		return
	}
	select {
	case client.send <- payload:
	default:
		logrus.WithFields(logrus.Fields{
			"session_id": client.sessionID,
			"username":   client.identity.Username,
			"event":      event,
		}).Warn("Client send channel full, message dropped")
	}
}

// enqueuePresenceSync queues the denormalized online-flag write. Failures are
// logged and swallowed: persistence must never block the realtime path.
func (h *Hub) enqueuePresenceSync(sessionID string, userID uint, username string, online bool) {
	task, err := tasks.NewPresenceSyncTask(sessionID, userID, username, online)
	if err != nil {
		logrus.WithError(err).Error("Failed to build presence sync task")
		return
	}
	if _, err := h.enqueuer.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(30*time.Second)); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"username":   username,
			"online":     online,
		}).Warn("Failed to enqueue presence sync task")
	}
}
