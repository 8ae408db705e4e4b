package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupReactions(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	groups := GroupReactions([]Reaction{
		{UserID: alice, Emoji: "👍"},
		{UserID: bob, Emoji: "🔥"},
		{UserID: bob, Emoji: "👍"},
	})

	require.Len(t, groups, 2)
	assert.Equal(t, ReactionGroup{Emoji: "👍", Count: 2, Users: []uuid.UUID{alice, bob}}, groups[0])
	assert.Equal(t, ReactionGroup{Emoji: "🔥", Count: 1, Users: []uuid.UUID{bob}}, groups[1])
}

func TestGroupReactionsEmpty(t *testing.T) {
	groups := GroupReactions(nil)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}

func TestOrderedPair(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	low, high := OrderedPair(a, b)
	assert.Equal(t, a, low)
	assert.Equal(t, b, high)

	low, high = OrderedPair(b, a)
	assert.Equal(t, a, low)
	assert.Equal(t, b, high)
}

func TestChatParticipants(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	chat := Chat{User1ID: a, User2ID: b}

	assert.True(t, chat.Has(a))
	assert.True(t, chat.Has(b))
	assert.False(t, chat.Has(c))
	assert.Equal(t, b, chat.Other(a))
	assert.Equal(t, a, chat.Other(b))
}

func TestMessageTypeValid(t *testing.T) {
	for _, mt := range []MessageType{MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo} {
		assert.True(t, mt.Valid(), mt)
	}
	assert.False(t, MessageType("sticker").Valid())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("chat x: %w", ErrNotFound), CodeNotFound},
		{fmt.Errorf("edit: %w", ErrForbidden), CodeForbidden},
		{ErrConflict, CodeConflict},
		{ErrInvalid, CodeInvalid},
		{ErrUnauthorized, CodeUnauthorized},
		{errors.New("disk on fire"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err), tt.err.Error())
	}
	assert.Equal(t, "internal error", PublicMessage(errors.New("disk on fire")))
}
