package hub

import (
	"encoding/json"
	"fmt"
)

// Wire event names. Inbound and outbound share the envelope format
// {"event": <name>, "data": <payload>}; the sets below are closed, anything
// else is logged and dropped.
const (
	// inbound
	EventCodeUpdate     = "code-update"
	EventUserTyping     = "user-typing"
	EventLanguageUpdate = "language-update"
	EventResultUpdate   = "result-update"
	EventToggleMute     = "toggleMute"
	EventToggleKick     = "toggleKickStatus"
	EventToggleLock     = "toggle-lock-status"

	// outbound only
	EventOnlineUsers       = "online-users"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
	EventUserTypingUpdate  = "update-user-typing"
	EventMuteStatusChanged = "mute-status-changed"
	EventKickStatusChanged = "kick-status-changed"
	EventLockStatusUpdated = "lock-status-updated"
	EventUserKicked        = "user-kicked"
)

// envelope is the raw wire frame.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// InboundEvent is one of the closed set of client-originated messages.
type InboundEvent interface{ inboundEvent() }

// CodeUpdate replaces the live code buffer.
type CodeUpdate struct{ Code string }

// UserTyping signals the sender is typing.
type UserTyping struct{}

// LanguageUpdate changes the session language selection.
type LanguageUpdate struct{ Language string }

// ResultUpdate shares an execution result with the room.
type ResultUpdate struct{ Result string }

// ToggleMute flips the mute flag of the target participant.
type ToggleMute struct{ Username string }

// ToggleKick flips the kicked flag of the target participant.
type ToggleKick struct{ Username string }

// ToggleLock flips the session lock.
type ToggleLock struct{}

func (CodeUpdate) inboundEvent()     {}
func (UserTyping) inboundEvent()     {}
func (LanguageUpdate) inboundEvent() {}
func (ResultUpdate) inboundEvent()   {}
func (ToggleMute) inboundEvent()     {}
func (ToggleKick) inboundEvent()     {}
func (ToggleLock) inboundEvent()     {}

// DecodeInbound parses and validates a raw client frame into its typed
// variant.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}

	switch env.Event {
	case EventCodeUpdate:
		code, err := decodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Event, err)
		}
		return CodeUpdate{Code: code}, nil
	case EventUserTyping:
		return UserTyping{}, nil
	case EventLanguageUpdate:
		lang, err := decodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Event, err)
		}
		if lang == "" {
			return nil, fmt.Errorf("%s: language must not be empty", env.Event)
		}
		return LanguageUpdate{Language: lang}, nil
	case EventResultUpdate:
		result, err := decodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Event, err)
		}
		return ResultUpdate{Result: result}, nil
	case EventToggleMute:
		username, err := decodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Event, err)
		}
		if username == "" {
			return nil, fmt.Errorf("%s: target username must not be empty", env.Event)
		}
		return ToggleMute{Username: username}, nil
	case EventToggleKick:
		username, err := decodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Event, err)
		}
		if username == "" {
			return nil, fmt.Errorf("%s: target username must not be empty", env.Event)
		}
		return ToggleKick{Username: username}, nil
	case EventToggleLock:
		return ToggleLock{}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
}

func decodeString(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("missing payload")
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("payload must be a string: %w", err)
	}
	return s, nil
}

// PresencePayload carries a single identity for presence deltas.
type PresencePayload struct {
	Username string `json:"username"`
}

// MuteStatusPayload announces a persisted mute-state change.
type MuteStatusPayload struct {
	Username    string `json:"username"`
	Muted       bool   `json:"muted"`
	InitiatedBy string `json:"initiatedBy"`
}

// KickStatusPayload announces a persisted kick-state change.
type KickStatusPayload struct {
	Username    string `json:"username"`
	Kicked      bool   `json:"kicked"`
	InitiatedBy string `json:"initiatedBy"`
}

// encodeEvent serializes an outbound frame.
func encodeEvent(event string, data interface{}) ([]byte, error) {
	env := struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data,omitempty"`
	}{Event: event, Data: data}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", event, err)
	}
	return payload, nil
}
