// Package relay implements the video presence relay: per-room peer lists for
// call signaling. It brokers peer identifiers only and never touches media.
package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Wire event names. Same {"event","data"} envelope as the session gateway.
const (
	EventJoinRoom         = "join-room"
	EventUserConnected    = "user-connected"
	EventUserDisconnected = "user-disconnected"
)

// JoinRoomPayload is the inbound join request. PeerID is a client-generated
// identifier used for the direct peer-to-peer exchange; the relay treats it as
// opaque.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"userId"`
}

// peerEntry is one room member.
type peerEntry struct {
	peerID string
	client *Client
}

type messageKind int

const (
	messageJoin messageKind = iota
	messageLeave
)

type message struct {
	kind   messageKind
	client *Client
	raw    []byte
}

// Relay tracks room membership for signaling. Rooms and the connection-to-room
// map move together: every join is reversible through a bare disconnect.
type Relay struct {
	messageChan chan message
	quit        chan struct{}

	mu       sync.RWMutex
	rooms    map[string][]peerEntry
	connRoom map[*Client]string
}

// NewRelay creates a Relay.
func NewRelay() *Relay {
	return &Relay{
		messageChan: make(chan message, 256),
		quit:        make(chan struct{}),
		rooms:       make(map[string][]peerEntry),
		connRoom:    make(map[*Client]string),
	}
}

// Run processes relay messages until Stop is called.
func (r *Relay) Run() {
	log := logrus.WithField("component", "relay")
	log.Info("Video relay is running")

	for {
		select {
		case msg := <-r.messageChan:
			switch msg.kind {
			case messageJoin:
				r.handleJoin(msg.client, msg.raw)
			case messageLeave:
				r.handleLeave(msg.client)
			}
		case <-r.quit:
			log.Info("Video relay is shutting down")
			return
		}
	}
}

// Stop terminates the Run loop.
func (r *Relay) Stop() {
	close(r.quit)
}

// Peers returns the peer ids currently registered in a room.
func (r *Relay) Peers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.rooms[roomID]
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.peerID)
	}
	return out
}

// handleJoin registers the client in the requested room and announces its
// peer id to the existing members.
func (r *Relay) handleJoin(client *Client, raw []byte) {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		logrus.WithError(err).Warn("Relay: malformed frame dropped")
		return
	}
	if env.Event != EventJoinRoom {
		logrus.WithField("event", env.Event).Warn("Relay: unknown event dropped")
		return
	}
	var payload JoinRoomPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.RoomID == "" || payload.PeerID == "" {
		logrus.Warn("Relay: invalid join-room payload dropped")
		return
	}

	r.mu.Lock()
	if _, joined := r.connRoom[client]; joined {
		// One room per connection; a second join on the same socket is a
		// protocol violation and is ignored.
		r.mu.Unlock()
		logrus.WithField("room_id", payload.RoomID).Warn("Relay: connection attempted a second join")
		return
	}
	r.connRoom[client] = payload.RoomID
	others := append([]peerEntry(nil), r.rooms[payload.RoomID]...)
	r.rooms[payload.RoomID] = append(r.rooms[payload.RoomID], peerEntry{peerID: payload.PeerID, client: client})
	r.mu.Unlock()

	frame, err := encodeFrame(EventUserConnected, payload.PeerID)
	if err != nil {
		logrus.WithError(err).Error("Relay: failed to encode user-connected")
		return
	}
	for _, e := range others {
		e.client.trySend(frame)
	}
	logrus.WithFields(logrus.Fields{
		"room_id": payload.RoomID,
		"peer_id": payload.PeerID,
	}).Info("Peer joined video room")
}

// handleLeave removes a disconnected client from its room (resolved through
// the connection map) and announces the departure.
func (r *Relay) handleLeave(client *Client) {
	r.mu.Lock()
	roomID, joined := r.connRoom[client]
	if !joined {
		close(client.send)
		r.mu.Unlock()
		return
	}
	delete(r.connRoom, client)

	entries := r.rooms[roomID]
	var peerID string
	for i, e := range entries {
		if e.client == client {
			peerID = e.peerID
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.rooms, roomID)
	} else {
		r.rooms[roomID] = entries
	}
	remaining := append([]peerEntry(nil), entries...)
	close(client.send)
	r.mu.Unlock()

	if peerID == "" {
		return
	}
	frame, err := encodeFrame(EventUserDisconnected, peerID)
	if err != nil {
		logrus.WithError(err).Error("Relay: failed to encode user-disconnected")
		return
	}
	for _, e := range remaining {
		e.client.trySend(frame)
	}
	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"peer_id": peerID,
	}).Info("Peer left video room")
}

func (r *Relay) queue(msg message) {
	select {
	case r.messageChan <- msg:
	default:
		logrus.Warn("Relay message channel full, dropping message")
	}
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	frame, err := json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data,omitempty"`
	}{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode relay event %q: %w", event, err)
	}
	return frame, nil
}
