package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"s1", true},
		{"mentor_s1_0b9e-42", true},
		{"lesson:1.2", true},
		{"", false},
		{"has space", false},
		{"slash/id", false},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValidID(tt.id), "id %q", tt.id)
	}
}

func TestIsValidSessionID(t *testing.T) {
	longest := "mentor_" + strings.Repeat("s", 64) + "_3f2b8c1e-9a4d-4e7b-8c2a-1d5e6f7a8b9c"
	assert.True(t, IsValidSessionID(longest), "len %d", len(longest))
	assert.True(t, IsValidSessionID(strings.Repeat("a", 128)))
	assert.False(t, IsValidSessionID(strings.Repeat("a", 129)))
	assert.False(t, IsValidSessionID(""))
	assert.False(t, IsValidSessionID("mentor s1"))

	req := &MentorMessageRequest{SessionID: longest, Message: "hi"}
	assert.NoError(t, req.Validate())
	req.SessionID = strings.Repeat("a", 129)
	assert.ErrorIs(t, req.Validate(), ErrInvalidSessionID)
}

func TestDecodeRequest(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"battle.answer","data":{"battleId":"b1","questionId":"q1","answer":{"correct":true,"value":"4"},"timeSpentMs":1200}}`))
	require.NoError(t, err)

	req, err := DecodeRequest(env)
	require.NoError(t, err)
	answer, ok := req.(*BattleAnswerRequest)
	require.True(t, ok)
	assert.Equal(t, "b1", answer.BattleID)
	assert.True(t, answer.Answer.Correct)
	assert.Equal(t, "4", answer.Answer.Value)
	assert.Equal(t, int64(1200), answer.TimeSpentMs)
}

func TestDecodeRequest_EmptyPayloads(t *testing.T) {
	for _, raw := range []string{`{"type":"heartbeat"}`, `{"type":"heartbeat","data":null}`, `{"type":"analytics.subscribe","data":{}}`} {
		env, err := ParseEnvelope([]byte(raw))
		require.NoError(t, err)
		_, err = DecodeRequest(env)
		assert.NoError(t, err, raw)
	}
}

func TestDecodeRequest_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown event", `{"type":"battle.cheat"}`, ErrUnknownEvent},
		{"wrong field type", `{"type":"battle.join","data":{"battleId":7}}`, ErrMalformedPayload},
		{"bad battle id", `{"type":"battle.join","data":{"battleId":"b 1","studentId":"s1"}}`, ErrInvalidID},
		{"negative time", `{"type":"battle.answer","data":{"battleId":"b1","questionId":"q1","timeSpentMs":-1}}`, ErrNegativeTimeSpent},
		{"empty subject", `{"type":"mentor.start","data":{"studentId":"s1","subject":""}}`, ErrInvalidSubject},
		{"empty message", `{"type":"mentor.message","data":{"sessionId":"m1","message":""}}`, ErrEmptyMessage},
		{"progress over 100", `{"type":"progress.update","data":{"studentId":"s1","lessonId":"l1","progress":101}}`, ErrInvalidProgress},
		{"negative score", `{"type":"progress.update","data":{"studentId":"s1","lessonId":"l1","progress":10,"score":-1}}`, ErrInvalidScore},
		{"missing notification", `{"type":"notification.markRead","data":{}}`, ErrInvalidID},
		{"handshake without token", `{"type":"handshake","data":{}}`, ErrMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.raw))
			require.NoError(t, err)
			_, err = DecodeRequest(env)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeRequest_MessageLength(t *testing.T) {
	req := &MentorMessageRequest{SessionID: "m1", Message: strings.Repeat("é", 4000)}
	assert.NoError(t, req.Validate(), "limit counts characters, not bytes")

	req.Message += "x"
	assert.ErrorIs(t, req.Validate(), ErrMessageTooLarge)
}

func TestParseEnvelope_Rejects(t *testing.T) {
	_, err := ParseEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseEnvelope([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestPrincipal_Roles(t *testing.T) {
	assert.True(t, Principal{Role: RoleAdmin}.IsPrivileged())
	assert.True(t, Principal{Role: RoleSuperAdmin}.IsPrivileged())
	assert.False(t, Principal{Role: RoleParent}.IsPrivileged())
	assert.False(t, Principal{Role: RoleStudent}.IsPrivileged())

	assert.True(t, IsKnownRole(RoleParent))
	assert.False(t, IsKnownRole("TUTOR"))
}

func TestNewStudentView(t *testing.T) {
	assert.Equal(t, StudentView{}, NewStudentView(nil))
	assert.Equal(t, StudentView{ID: "s1", FirstName: "Alice", LastName: "A"},
		NewStudentView(&Student{ID: "s1", FamilyID: "f1", FirstName: "Alice", LastName: "A"}))
}
