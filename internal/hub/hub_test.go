package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ibachev/codeeditor/internal/domain"
	"github.com/ibachev/codeeditor/internal/presence"
	"github.com/ibachev/codeeditor/internal/repository"
	"github.com/ibachev/codeeditor/internal/repository/mocks"
	"github.com/ibachev/codeeditor/internal/service"
	"github.com/ibachev/codeeditor/internal/tasks"
)

// fakeEnqueuer records enqueued tasks instead of talking to Redis.
type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) presenceSyncs(t *testing.T) []tasks.PresenceSyncPayload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tasks.PresenceSyncPayload
	for _, task := range f.tasks {
		if task.Type() != tasks.TypePresenceSync {
			continue
		}
		var p tasks.PresenceSyncPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &p))
		out = append(out, p)
	}
	return out
}

type hubFixture struct {
	hub             *Hub
	participantRepo *mocks.ParticipantRepository
	sessionRepo     *mocks.SessionRepository
	codeRepo        *mocks.CodeRepository
	enqueuer        *fakeEnqueuer
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	participantRepo := new(mocks.ParticipantRepository)
	sessionRepo := new(mocks.SessionRepository)
	codeRepo := new(mocks.CodeRepository)
	enqueuer := &fakeEnqueuer{}

	h := NewHub(presence.NewRegistry(), participantRepo, sessionRepo, codeRepo, enqueuer, time.Hour)
	t.Cleanup(h.evictor.StopAll)

	return &hubFixture{
		hub:             h,
		participantRepo: participantRepo,
		sessionRepo:     sessionRepo,
		codeRepo:        codeRepo,
		enqueuer:        enqueuer,
	}
}

func newTestClient(h *Hub, sessionID, username string, userID uint) *Client {
	return &Client{
		hub:           h,
		connID:        uuid.NewString(),
		sessionID:     sessionID,
		identity:      service.Identity{UserID: userID, Username: username},
		send:          make(chan []byte, 32),
		admissionDone: make(chan struct{}),
	}
}

type frame struct {
	Event string
	Data  json.RawMessage
}

func readFrame(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case raw := <-c.send:
		var env frame
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return frame{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("expected no frame, got %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func dataString(t *testing.T, f frame) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(f.Data, &s))
	return s
}

// expectAdmission wires the repo calls a clean admission makes: not-kicked
// lookup and an empty persisted-code fallback.
func (fx *hubFixture) expectAdmission(sessionID, username string) {
	fx.participantRepo.On("Find", mock.Anything, sessionID, username).
		Return(&domain.SessionParticipant{SessionID: sessionID, Username: username}, nil).Once()
	fx.codeRepo.On("FindBySessionID", mock.Anything, sessionID).
		Return(nil, repository.ErrCodeNotFound).Maybe()
}

func TestHub_AdmissionSyncsInitialState(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)

	fx.hub.registerClient(alice)

	online := readFrame(t, alice)
	assert.Equal(t, EventOnlineUsers, online.Event)
	var names []string
	require.NoError(t, json.Unmarshal(online.Data, &names))
	assert.Equal(t, []string{"alice"}, names)

	code := readFrame(t, alice)
	assert.Equal(t, EventCodeUpdate, code.Event)
	assert.Equal(t, "", dataString(t, code), "no cache and no record should sync an empty buffer")

	assert.True(t, alice.admitted.Load())
	syncs := fx.enqueuer.presenceSyncs(t)
	require.Len(t, syncs, 1)
	assert.Equal(t, tasks.PresenceSyncPayload{SessionID: "sess-a", UserID: 1, Username: "alice", Online: true}, syncs[0])
	assert.True(t, fx.hub.evictor.Pending("sess-a"), "admission must restart the idle timer")
	fx.participantRepo.AssertExpectations(t)
}

func TestHub_SecondJoinerBroadcastsUserOnline(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "bob")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)

	fx.hub.registerClient(alice)
	readFrame(t, alice) // online-users
	readFrame(t, alice) // code-update

	fx.hub.registerClient(bob)

	bobOnline := readFrame(t, bob)
	assert.Equal(t, EventOnlineUsers, bobOnline.Event)
	var names []string
	require.NoError(t, json.Unmarshal(bobOnline.Data, &names))
	assert.Equal(t, []string{"alice", "bob"}, names)
	readFrame(t, bob) // code-update

	delta := readFrame(t, alice)
	assert.Equal(t, EventUserOnline, delta.Event)
	var p PresencePayload
	require.NoError(t, json.Unmarshal(delta.Data, &p))
	assert.Equal(t, "bob", p.Username)
	assertNoFrame(t, bob)
}

func TestHub_SecondTabDoesNotRebroadcastPresence(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "alice")
	tab1 := newTestClient(fx.hub, "sess-a", "alice", 1)
	tab2 := newTestClient(fx.hub, "sess-a", "alice", 1)

	fx.hub.registerClient(tab1)
	readFrame(t, tab1)
	readFrame(t, tab1)

	fx.hub.registerClient(tab2)
	readFrame(t, tab2) // online-users
	readFrame(t, tab2) // code-update

	assertNoFrame(t, tab1)
}

func TestHub_KickedParticipantIsRejected(t *testing.T) {
	fx := newHubFixture(t)
	fx.participantRepo.On("Find", mock.Anything, "sess-a", "mallory").
		Return(&domain.SessionParticipant{SessionID: "sess-a", Username: "mallory", Kicked: true}, nil).Once()
	mallory := newTestClient(fx.hub, "sess-a", "mallory", 9)

	fx.hub.registerClient(mallory)

	kicked := readFrame(t, mallory)
	assert.Equal(t, EventUserKicked, kicked.Event)
	assert.False(t, mallory.admitted.Load())
	assert.Empty(t, fx.hub.registry.ListOnline("sess-a"), "kicked user must never appear online")
	assert.Empty(t, fx.enqueuer.presenceSyncs(t))
	fx.participantRepo.AssertExpectations(t)
}

func TestHub_KickCheckFailureFailsClosed(t *testing.T) {
	fx := newHubFixture(t)
	fx.participantRepo.On("Find", mock.Anything, "sess-a", "alice").
		Return(nil, assert.AnError).Once()
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)

	fx.hub.registerClient(alice)

	assertNoFrame(t, alice)
	assert.False(t, alice.admitted.Load())
	assert.Empty(t, fx.hub.registry.ListOnline("sess-a"))
}

func TestHub_CodeUpdateCachesAndExcludesSender(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "bob")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)
	fx.hub.registerClient(alice)
	fx.hub.registerClient(bob)
	drainFrames(alice)
	drainFrames(bob)

	fx.hub.handleClientEvent(alice, []byte(`{"event":"code-update","data":"print(1)"}`))

	got := readFrame(t, bob)
	assert.Equal(t, EventCodeUpdate, got.Event)
	assert.Equal(t, "print(1)", dataString(t, got))
	assertNoFrame(t, alice)

	cached, ok := fx.hub.CachedCode("sess-a")
	require.True(t, ok)
	assert.Equal(t, "print(1)", cached)
	assert.True(t, fx.hub.evictor.Pending("sess-a"))
}

func TestHub_JoinerPrefersCachedCodeOverPersisted(t *testing.T) {
	fx := newHubFixture(t)
	fx.participantRepo.On("Find", mock.Anything, "sess-a", "bob").
		Return(&domain.SessionParticipant{SessionID: "sess-a", Username: "bob"}, nil).Once()
	fx.hub.codeCache["sess-a"] = "live edit"
	// The persisted record must not even be consulted.
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)

	fx.hub.registerClient(bob)

	readFrame(t, bob) // online-users
	code := readFrame(t, bob)
	assert.Equal(t, "live edit", dataString(t, code))
	fx.codeRepo.AssertNotCalled(t, "FindBySessionID", mock.Anything, mock.Anything)
}

func TestHub_JoinerFallsBackToPersistedCode(t *testing.T) {
	fx := newHubFixture(t)
	fx.participantRepo.On("Find", mock.Anything, "sess-a", "bob").
		Return(&domain.SessionParticipant{SessionID: "sess-a", Username: "bob"}, nil).Once()
	fx.codeRepo.On("FindBySessionID", mock.Anything, "sess-a").
		Return(&domain.CodeRecord{SessionID: "sess-a", Code: "saved code"}, nil).Once()
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)

	fx.hub.registerClient(bob)

	readFrame(t, bob)
	code := readFrame(t, bob)
	assert.Equal(t, "saved code", dataString(t, code))
	fx.codeRepo.AssertExpectations(t)
}

func TestHub_TypingBroadcastExcludesSender(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "bob")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)
	fx.hub.registerClient(alice)
	fx.hub.registerClient(bob)
	drainFrames(alice)
	drainFrames(bob)

	fx.participantRepo.On("Find", mock.Anything, "sess-a", "alice").
		Return(&domain.SessionParticipant{SessionID: "sess-a", Username: "alice", Muted: false}, nil).Once()

	fx.hub.handleClientEvent(alice, []byte(`{"event":"user-typing"}`))

	got := readFrame(t, bob)
	assert.Equal(t, EventUserTypingUpdate, got.Event)
	assert.Equal(t, "alice", dataString(t, got))
	assertNoFrame(t, alice)
}

func TestHub_MutedTypingIsSuppressed(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "bob")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)
	fx.hub.registerClient(alice)
	fx.hub.registerClient(bob)
	drainFrames(alice)
	drainFrames(bob)

	fx.participantRepo.On("Find", mock.Anything, "sess-a", "alice").
		Return(&domain.SessionParticipant{SessionID: "sess-a", Username: "alice", Muted: true}, nil).Once()

	fx.hub.handleClientEvent(alice, []byte(`{"event":"user-typing"}`))

	assertNoFrame(t, bob)
}

func TestHub_LanguageAndResultIncludeSender(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "bob")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)
	fx.hub.registerClient(alice)
	fx.hub.registerClient(bob)
	drainFrames(alice)
	drainFrames(bob)

	fx.hub.handleClientEvent(alice, []byte(`{"event":"language-update","data":"python"}`))
	assert.Equal(t, "python", dataString(t, readFrame(t, alice)))
	assert.Equal(t, "python", dataString(t, readFrame(t, bob)))

	fx.hub.handleClientEvent(alice, []byte(`{"event":"result-update","data":"42"}`))
	got := readFrame(t, alice)
	assert.Equal(t, EventResultUpdate, got.Event)
	assert.Equal(t, "42", dataString(t, got))
	assert.Equal(t, "42", dataString(t, readFrame(t, bob)))
}

func TestHub_ToggleMutePersistsAndExcludesInitiator(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "bob")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)
	fx.hub.registerClient(alice)
	fx.hub.registerClient(bob)
	drainFrames(alice)
	drainFrames(bob)

	fx.participantRepo.On("Find", mock.Anything, "sess-a", "bob").
		Return(&domain.SessionParticipant{SessionID: "sess-a", Username: "bob", Muted: false}, nil).Once()
	fx.participantRepo.On("SetMuted", mock.Anything, "sess-a", "bob", true).Return(nil).Once()

	fx.hub.handleClientEvent(alice, []byte(`{"event":"toggleMute","data":"bob"}`))

	got := readFrame(t, bob)
	assert.Equal(t, EventMuteStatusChanged, got.Event)
	var p MuteStatusPayload
	require.NoError(t, json.Unmarshal(got.Data, &p))
	assert.Equal(t, MuteStatusPayload{Username: "bob", Muted: true, InitiatedBy: "alice"}, p)
	assertNoFrame(t, alice)
	fx.participantRepo.AssertExpectations(t)
}

func TestHub_ToggleKickIncludesInitiator(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "bob")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)
	fx.hub.registerClient(alice)
	fx.hub.registerClient(bob)
	drainFrames(alice)
	drainFrames(bob)

	fx.participantRepo.On("Find", mock.Anything, "sess-a", "bob").
		Return(&domain.SessionParticipant{SessionID: "sess-a", Username: "bob", Kicked: false}, nil).Once()
	fx.participantRepo.On("SetKicked", mock.Anything, "sess-a", "bob", true).Return(nil).Once()

	fx.hub.handleClientEvent(alice, []byte(`{"event":"toggleKickStatus","data":"bob"}`))

	var p KickStatusPayload
	got := readFrame(t, alice)
	assert.Equal(t, EventKickStatusChanged, got.Event)
	require.NoError(t, json.Unmarshal(got.Data, &p))
	assert.Equal(t, KickStatusPayload{Username: "bob", Kicked: true, InitiatedBy: "alice"}, p)

	got = readFrame(t, bob)
	assert.Equal(t, EventKickStatusChanged, got.Event)
	fx.participantRepo.AssertExpectations(t)
}

func TestHub_ToggleLockFlipsSessionState(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)
	fx.hub.registerClient(alice)
	drainFrames(alice)

	fx.sessionRepo.On("FindBySessionID", mock.Anything, "sess-a").
		Return(&domain.Session{SessionID: "sess-a", IsLocked: false}, nil).Once()
	fx.sessionRepo.On("SetLock", mock.Anything, "sess-a", true).Return(nil).Once()

	fx.hub.handleClientEvent(alice, []byte(`{"event":"toggle-lock-status"}`))

	got := readFrame(t, alice)
	assert.Equal(t, EventLockStatusUpdated, got.Event)
	var locked bool
	require.NoError(t, json.Unmarshal(got.Data, &locked))
	assert.True(t, locked)
	fx.sessionRepo.AssertExpectations(t)
}

func TestHub_EventsFromUnadmittedClientAreDropped(t *testing.T) {
	fx := newHubFixture(t)
	ghost := newTestClient(fx.hub, "sess-a", "ghost", 7)

	fx.hub.handleClientEvent(ghost, []byte(`{"event":"code-update","data":"x"}`))

	_, ok := fx.hub.CachedCode("sess-a")
	assert.False(t, ok)
}

func TestHub_DisconnectBroadcastsOfflineOnLastConnection(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "bob")
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)
	fx.hub.registerClient(alice)
	fx.hub.registerClient(bob)
	drainFrames(alice)
	drainFrames(bob)

	fx.hub.unregisterClient(bob)

	got := readFrame(t, alice)
	assert.Equal(t, EventUserOffline, got.Event)
	var p PresencePayload
	require.NoError(t, json.Unmarshal(got.Data, &p))
	assert.Equal(t, "bob", p.Username)

	syncs := fx.enqueuer.presenceSyncs(t)
	require.NotEmpty(t, syncs)
	last := syncs[len(syncs)-1]
	assert.Equal(t, tasks.PresenceSyncPayload{SessionID: "sess-a", UserID: 2, Username: "bob", Online: false}, last)
	assert.True(t, fx.hub.evictor.Pending("sess-a"), "disconnect starts the idle countdown")
}

func TestHub_DisconnectDuringAdmissionLeavesNoPresence(t *testing.T) {
	fx := newHubFixture(t)
	alice := newTestClient(fx.hub, "sess-a", "alice", 1)

	admissionStarted := make(chan struct{})
	release := make(chan struct{})
	fx.participantRepo.On("Find", mock.Anything, "sess-a", "alice").
		Run(func(mock.Arguments) {
			close(admissionStarted)
			<-release
		}).
		Return(&domain.SessionParticipant{SessionID: "sess-a", Username: "alice"}, nil).Once()
	fx.codeRepo.On("FindBySessionID", mock.Anything, "sess-a").
		Return(nil, repository.ErrCodeNotFound).Maybe()

	go fx.hub.Run()
	t.Cleanup(fx.hub.Stop)

	require.True(t, fx.hub.Register(alice))
	<-admissionStarted

	// The socket dies while the kick check is still in flight; teardown must
	// wait for admission to finish instead of finding nothing to remove.
	fx.hub.messageChan <- message{kind: messageUnregister, client: alice}
	close(release)

	// Teardown closes the send channel once it has actually run.
	deadline := time.After(time.Second)
drain:
	for {
		select {
		case _, open := <-alice.send:
			if !open {
				break drain
			}
		case <-deadline:
			t.Fatal("timed out waiting for teardown to close the send channel")
		}
	}

	assert.False(t, fx.hub.registry.IsOnline("sess-a", "alice"), "presence must not outlive the disconnected connection")
	_, _, found := fx.hub.registry.Lookup(alice.connID)
	assert.False(t, found, "connection mapping must be gone after teardown")
	fx.hub.mu.RLock()
	_, roomExists := fx.hub.rooms["sess-a"]
	fx.hub.mu.RUnlock()
	assert.False(t, roomExists, "the dead connection must not linger in the room")
}

func TestHub_DisconnectOfOneTabIsSilent(t *testing.T) {
	fx := newHubFixture(t)
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "alice")
	fx.expectAdmission("sess-a", "bob")
	tab1 := newTestClient(fx.hub, "sess-a", "alice", 1)
	tab2 := newTestClient(fx.hub, "sess-a", "alice", 1)
	bob := newTestClient(fx.hub, "sess-a", "bob", 2)
	fx.hub.registerClient(tab1)
	fx.hub.registerClient(tab2)
	fx.hub.registerClient(bob)
	drainFrames(tab1)
	drainFrames(tab2)
	drainFrames(bob)

	fx.hub.unregisterClient(tab1)

	assertNoFrame(t, bob)
	assert.True(t, fx.hub.registry.IsOnline("sess-a", "alice"))
}

func TestHub_IdleEvictionDropsCodeCache(t *testing.T) {
	participantRepo := new(mocks.ParticipantRepository)
	sessionRepo := new(mocks.SessionRepository)
	codeRepo := new(mocks.CodeRepository)
	h := NewHub(presence.NewRegistry(), participantRepo, sessionRepo, codeRepo, &fakeEnqueuer{}, 30*time.Millisecond)
	t.Cleanup(h.evictor.StopAll)

	h.codeCache["sess-a"] = "soon gone"
	h.evictor.Reset("sess-a")

	assert.Eventually(t, func() bool {
		_, ok := h.CachedCode("sess-a")
		return !ok
	}, time.Second, 5*time.Millisecond, "cache entry should be evicted after the idle window")
}

func drainFrames(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}
