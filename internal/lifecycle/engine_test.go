package lifecycle

import (
	"context"
	"testing"
	"time"

	"chatline/internal/domain"
	"chatline/internal/metrics"
	"chatline/internal/repository"
	"chatline/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	engine   *Engine
	store    *repository.Store
	notifier *testutil.Notifier
	alice    *domain.User
	bob      *domain.User
	chat     *domain.ChatSummary
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	notifier := testutil.NewNotifier()
	f := &fixture{
		engine:   NewEngine(store, notifier, notifier, metrics.New(prometheus.NewRegistry()), zap.NewNop()),
		store:    store,
		notifier: notifier,
		alice:    testutil.CreateUser(t, store, "alice"),
		bob:      testutil.CreateUser(t, store, "bob"),
	}
	chat, err := f.engine.GetOrCreateChat(context.Background(), f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	f.chat = chat
	return f
}

func text(s string) *string { return &s }

func (f *fixture) send(t *testing.T, from *domain.User, content string) *domain.MessageView {
	t.Helper()
	view, err := f.engine.SendMessage(context.Background(), from.ID, domain.NewMessage{
		ChatID:  f.chat.ID,
		Content: text(content),
	})
	require.NoError(t, err)
	return view
}

func statusFrames(events []any) []domain.MessageStatusFrame {
	var out []domain.MessageStatusFrame
	for _, e := range events {
		if f, ok := e.(domain.MessageStatusFrame); ok {
			out = append(out, f)
		}
	}
	return out
}

func TestSendToOfflineRecipientStaysSent(t *testing.T) {
	f := newFixture(t)
	f.notifier.SetOnline(f.alice.ID, true)

	view := f.send(t, f.alice, "hi")

	assert.Equal(t, domain.StatusSent, view.Status)
	assert.Nil(t, view.DeliveredAt)
	assert.Equal(t, domain.MessageTypeText, view.Type)
	assert.Empty(t, statusFrames(f.notifier.For(f.alice.ID)))

	events := f.notifier.For(f.alice.ID)
	require.Len(t, events, 1, "the sender gets its own message back")
	assert.Equal(t, view.ID, events[0].(domain.MessageFrame).Message.ID)

	stored, err := f.store.GetMessage(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
}

func TestSendToOnlineRecipientIsDelivered(t *testing.T) {
	f := newFixture(t)
	f.notifier.SetOnline(f.alice.ID, true)
	f.notifier.SetOnline(f.bob.ID, true)

	view := f.send(t, f.alice, "hi")

	assert.Equal(t, domain.StatusDelivered, view.Status)
	require.NotNil(t, view.DeliveredAt)

	bobEvents := f.notifier.For(f.bob.ID)
	require.Len(t, bobEvents, 1)
	assert.Equal(t, "hi", *bobEvents[0].(domain.MessageFrame).Message.Content)

	statuses := statusFrames(f.notifier.For(f.alice.ID))
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.StatusDelivered, statuses[0].Status)
	assert.Equal(t, view.ID, statuses[0].MessageID)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stranger := testutil.CreateUser(t, f.store, "mallory")

	cases := []struct {
		name   string
		sender uuid.UUID
		in     domain.NewMessage
		want   error
	}{
		{"empty text", f.alice.ID, domain.NewMessage{ChatID: f.chat.ID, Content: text("  ")}, domain.ErrInvalid},
		{"unknown type", f.alice.ID, domain.NewMessage{ChatID: f.chat.ID, Content: text("x"), Type: "sticker"}, domain.ErrInvalid},
		{"file without attachment or caption", f.alice.ID, domain.NewMessage{ChatID: f.chat.ID, Type: domain.MessageTypeFile}, domain.ErrInvalid},
		{"attachment without url", f.alice.ID, domain.NewMessage{
			ChatID: f.chat.ID, Type: domain.MessageTypeFile,
			Attachments: []domain.NewAttachment{{Filename: "a.pdf"}},
		}, domain.ErrInvalid},
		{"non participant", stranger.ID, domain.NewMessage{ChatID: f.chat.ID, Content: text("x")}, domain.ErrNotFound},
		{"unknown chat", f.alice.ID, domain.NewMessage{ChatID: uuid.New(), Content: text("x")}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.SendMessage(ctx, tc.sender, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSendWithAttachmentsAndReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := f.send(t, f.bob, "look at this")

	view, err := f.engine.SendMessage(ctx, f.alice.ID, domain.NewMessage{
		ChatID:           f.chat.ID,
		Type:             domain.MessageTypeImage,
		ReplyToMessageID: &original.ID,
		Attachments: []domain.NewAttachment{
			{Filename: "cat.png", FileURL: "/uploads/cat.png", FileType: "image/png", FileSize: 2048},
		},
	})
	require.NoError(t, err)
	require.Len(t, view.Attachments, 1)
	assert.Equal(t, "cat.png", view.Attachments[0].Filename)
	require.NotNil(t, view.ReplyTo)
	assert.Equal(t, original.ID, view.ReplyTo.ID)

	history, err := f.engine.History(ctx, f.alice.ID, f.chat.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Empty(t, history[0].Attachments)
	assert.NotNil(t, history[0].Attachments)
	require.NotNil(t, history[1].ReplyTo)
	assert.Equal(t, "look at this", *history[1].ReplyTo.Content)
	assert.Equal(t, int64(2048), history[1].Attachments[0].FileSize)
}

func TestReplyToAnotherChatIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := testutil.CreateUser(t, f.store, "carol")
	other, err := f.engine.GetOrCreateChat(ctx, f.alice.ID, carol.ID)
	require.NoError(t, err)
	elsewhere, err := f.engine.SendMessage(ctx, f.alice.ID, domain.NewMessage{ChatID: other.ID, Content: text("hey carol")})
	require.NoError(t, err)

	_, err = f.engine.SendMessage(ctx, f.alice.ID, domain.NewMessage{
		ChatID:           f.chat.ID,
		Content:          text("replying"),
		ReplyToMessageID: &elsewhere.ID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestHistoryMarksSeenAndNotifiesSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.SetOnline(f.alice.ID, true)

	first := f.send(t, f.alice, "one")
	second := f.send(t, f.alice, "two")
	f.send(t, f.bob, "three")

	history, err := f.engine.History(ctx, f.bob.ID, f.chat.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"one", "two", "three"},
		[]string{*history[0].Content, *history[1].Content, *history[2].Content})
	assert.Equal(t, domain.StatusSeen, history[0].Status)
	assert.Equal(t, domain.StatusSeen, history[1].Status)
	assert.Equal(t, domain.StatusDelivered, history[2].Status, "the viewer's own message is untouched")

	require.Eventually(t, func() bool {
		return len(statusFrames(f.notifier.For(f.alice.ID))) == 2
	}, time.Second, 10*time.Millisecond)
	seen := statusFrames(f.notifier.For(f.alice.ID))
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, []uuid.UUID{seen[0].MessageID, seen[1].MessageID})
	for _, s := range seen {
		assert.Equal(t, domain.StatusSeen, s.Status)
	}
}

func TestUnreadCountDropsAfterFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		f.send(t, f.alice, s)
	}

	n, err := f.engine.UnreadCount(ctx, f.bob.ID, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.engine.UnreadCount(ctx, f.alice.ID, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "own messages never count as unread")

	_, err = f.engine.History(ctx, f.bob.ID, f.chat.ID)
	require.NoError(t, err)

	n, err = f.engine.UnreadCount(ctx, f.bob.ID, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHistoryHiddenFromStrangers(t *testing.T) {
	f := newFixture(t)
	stranger := testutil.CreateUser(t, f.store, "eve")

	_, err := f.engine.History(context.Background(), stranger.ID, f.chat.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.SetOnline(f.bob.ID, true)
	msg := f.send(t, f.alice, "helo")
	f.notifier.Reset()

	_, err := f.engine.EditMessage(ctx, f.bob.ID, msg.ID, "hijacked")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.engine.EditMessage(ctx, f.alice.ID, msg.ID, " ")
	assert.ErrorIs(t, err, domain.ErrInvalid)

	edited, err := f.engine.EditMessage(ctx, f.alice.ID, msg.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "hello", *edited.Content)
	assert.Equal(t, domain.StatusDelivered, edited.Status, "editing keeps the delivery status")

	events := f.notifier.For(f.bob.ID)
	require.Len(t, events, 1)
	frame := events[0].(domain.MessageEditedFrame)
	assert.Equal(t, f.alice.ID, frame.EditedBy)
	assert.Equal(t, "hello", *frame.Content)
}

func TestDeleteMessageLeavesTombstone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.SetOnline(f.bob.ID, true)
	msg := f.send(t, f.alice, "oops")
	f.notifier.Reset()

	assert.ErrorIs(t, f.engine.DeleteMessage(ctx, f.bob.ID, msg.ID), domain.ErrForbidden)
	require.NoError(t, f.engine.DeleteMessage(ctx, f.alice.ID, msg.ID))

	events := f.notifier.For(f.bob.ID)
	require.Len(t, events, 1)
	assert.Equal(t, msg.ID, events[0].(domain.MessageDeletedFrame).MessageID)

	history, err := f.engine.History(ctx, f.alice.ID, f.chat.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsDeleted)
	assert.Equal(t, domain.DeletedMessageContent, *history[0].Content)

	_, err = f.engine.EditMessage(ctx, f.alice.ID, msg.ID, "undo")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestToggleReactionTwiceRestoresState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.SetOnline(f.alice.ID, true)
	msg := f.send(t, f.alice, "party")
	f.notifier.Reset()

	res, err := f.engine.ToggleReaction(ctx, f.bob.ID, msg.ID, " 🎉 ")
	require.NoError(t, err)
	assert.Equal(t, domain.ReactionAdded, res.Action)
	require.Len(t, res.Reactions, 1)
	assert.Equal(t, domain.ReactionGroup{Emoji: "🎉", Count: 1, Users: []uuid.UUID{f.bob.ID}}, res.Reactions[0])

	res, err = f.engine.ToggleReaction(ctx, f.bob.ID, msg.ID, "🎉")
	require.NoError(t, err)
	assert.Equal(t, domain.ReactionRemoved, res.Action)
	assert.Empty(t, res.Reactions)

	events := f.notifier.For(f.alice.ID)
	require.Len(t, events, 2)
	assert.Equal(t, domain.ReactionAdded, events[0].(domain.ReactionFrame).Action)
	assert.Equal(t, domain.ReactionRemoved, events[1].(domain.ReactionFrame).Action)

	history, err := f.engine.History(ctx, f.alice.ID, f.chat.ID)
	require.NoError(t, err)
	assert.Empty(t, history[0].Reactions)
}

func TestToggleReactionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.send(t, f.alice, "x")
	stranger := testutil.CreateUser(t, f.store, "eve")

	_, err := f.engine.ToggleReaction(ctx, f.bob.ID, msg.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalid)
	_, err = f.engine.ToggleReaction(ctx, f.bob.ID, msg.ID, "abcdefghijk")
	assert.ErrorIs(t, err, domain.ErrInvalid)
	_, err = f.engine.ToggleReaction(ctx, stranger.ID, msg.ID, "👍")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.engine.ToggleReaction(ctx, f.bob.ID, uuid.New(), "👍")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTypingReachesOnlyTheOtherParticipant(t *testing.T) {
	f := newFixture(t)
	f.notifier.SetOnline(f.alice.ID, true)
	f.notifier.SetOnline(f.bob.ID, true)

	require.NoError(t, f.engine.Typing(context.Background(), f.alice.ID, f.chat.ID, true))

	assert.Empty(t, f.notifier.For(f.alice.ID))
	events := f.notifier.For(f.bob.ID)
	require.Len(t, events, 1)
	frame := events[0].(domain.TypingFrame)
	assert.True(t, frame.IsTyping)
	assert.Equal(t, f.alice.ID, frame.UserID)
}

func TestGetOrCreateChatIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	again, err := f.engine.GetOrCreateChat(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, f.chat.ID, again.ID)
	assert.Equal(t, f.alice.ID, again.OtherUser.ID)

	_, err = f.engine.GetOrCreateChat(ctx, f.alice.ID, f.alice.ID)
	assert.ErrorIs(t, err, domain.ErrInvalid)
	_, err = f.engine.GetOrCreateChat(ctx, f.alice.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListChatsByRecentActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := testutil.CreateUser(t, f.store, "carol")
	f.notifier.SetOnline(carol.ID, true)

	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return base }
	withCarol, err := f.engine.GetOrCreateChat(ctx, f.alice.ID, carol.ID)
	require.NoError(t, err)

	f.engine.now = func() time.Time { return base.Add(time.Hour) }
	f.send(t, f.bob, "latest")

	chats, err := f.engine.ListChats(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, f.chat.ID, chats[0].ID)
	assert.Equal(t, 1, chats[0].UnreadCount)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "latest", *chats[0].LastMessage.Content)

	assert.Equal(t, withCarol.ID, chats[1].ID)
	assert.True(t, chats[1].OtherUser.IsActive)
	assert.False(t, chats[0].OtherUser.IsActive)
}
