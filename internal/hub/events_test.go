package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound_CodeUpdate(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"event":"code-update","data":"package main"}`))

	require.NoError(t, err)
	assert.Equal(t, CodeUpdate{Code: "package main"}, ev)
}

func TestDecodeInbound_EmptyCodeIsValid(t *testing.T) {
	// Clearing the buffer is a legitimate edit.
	ev, err := DecodeInbound([]byte(`{"event":"code-update","data":""}`))

	require.NoError(t, err)
	assert.Equal(t, CodeUpdate{Code: ""}, ev)
}

func TestDecodeInbound_UserTyping(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"event":"user-typing"}`))

	require.NoError(t, err)
	assert.Equal(t, UserTyping{}, ev)
}

func TestDecodeInbound_LanguageUpdate(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"event":"language-update","data":"python"}`))

	require.NoError(t, err)
	assert.Equal(t, LanguageUpdate{Language: "python"}, ev)
}

func TestDecodeInbound_LanguageUpdateRejectsEmpty(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"event":"language-update","data":""}`))

	assert.Error(t, err)
}

func TestDecodeInbound_ModerationToggles(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"event":"toggleMute","data":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, ToggleMute{Username: "bob"}, ev)

	ev, err = DecodeInbound([]byte(`{"event":"toggleKickStatus","data":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, ToggleKick{Username: "bob"}, ev)

	ev, err = DecodeInbound([]byte(`{"event":"toggle-lock-status"}`))
	require.NoError(t, err)
	assert.Equal(t, ToggleLock{}, ev)
}

func TestDecodeInbound_ToggleRejectsEmptyTarget(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"event":"toggleMute","data":""}`))
	assert.Error(t, err)

	_, err = DecodeInbound([]byte(`{"event":"toggleKickStatus"}`))
	assert.Error(t, err)
}

func TestDecodeInbound_UnknownEvent(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"event":"drop-database","data":"now"}`))

	assert.ErrorContains(t, err, "unknown event")
}

func TestDecodeInbound_MalformedFrame(t *testing.T) {
	_, err := DecodeInbound([]byte(`not json at all`))

	assert.Error(t, err)
}

func TestDecodeInbound_NonStringPayload(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"event":"code-update","data":{"nested":true}}`))

	assert.Error(t, err)
}

func TestEncodeEvent_RoundTrip(t *testing.T) {
	payload, err := encodeEvent(EventMuteStatusChanged, MuteStatusPayload{
		Username:    "bob",
		Muted:       true,
		InitiatedBy: "alice",
	})
	require.NoError(t, err)

	var env struct {
		Event string            `json:"event"`
		Data  MuteStatusPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, EventMuteStatusChanged, env.Event)
	assert.Equal(t, "bob", env.Data.Username)
	assert.True(t, env.Data.Muted)
	assert.Equal(t, "alice", env.Data.InitiatedBy)
}

func TestEncodeEvent_OmitsNilData(t *testing.T) {
	payload, err := encodeEvent(EventUserKicked, nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user-kicked"}`, string(payload))
}
