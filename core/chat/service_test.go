package chat_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
	dummydb "github.com/darasahq/darasa/storage/database/dummy"
	testutil "github.com/darasahq/darasa/tests"
)

type (
	dispatchCall struct {
		conv       chat.Conversation
		msg        chat.Message
		recipients []string
	}

	dispatchRecorder struct {
		mu    sync.Mutex
		calls []dispatchCall
	}
)

func (d *dispatchRecorder) MessageSent(conv chat.Conversation, msg chat.Message, recipientIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{conv: conv, msg: msg, recipients: recipientIDs})
}

func (d *dispatchRecorder) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *dispatchRecorder) last() dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

type fixture struct {
	svc        chat.ServiceInterface
	repo       chat.Repository
	usrRepo    user.Repository
	dispatcher *dispatchRecorder

	alice, bob, eve user.User
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	usrRepo := dummydb.NewUserRepository(db)
	repo := dummydb.NewChatRepository(db)
	dispatcher := &dispatchRecorder{}

	f := &fixture{
		svc:        chat.NewService(repo, user.NewService(usrRepo), dispatcher),
		repo:       repo,
		usrRepo:    usrRepo,
		dispatcher: dispatcher,
	}
	f.alice = testutil.CreateUser(t, usrRepo, "Alice", "alice", "alice@test.cd", "", nil, true)
	f.bob = testutil.CreateUser(t, usrRepo, "Bob", "bob", "bob@test.cd", "", nil, true)
	f.eve = testutil.CreateUser(t, usrRepo, "Eve", "eve", "eve@test.cd", "", nil, true)
	return f
}

func isValidationErr(err error) bool {
	_, ok := errors.Cause(err).(*core.ValidationError)
	return ok
}

func TestService_ResolveOrCreate_directDedup(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	conv, existed, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, chat.NewConversation{
		ParticipantIDs: []string{f.bob.ID},
		Kind:           chat.KindDirect,
		InitialMessage: "hi Bob",
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}
	if existed {
		t.Error("first resolution reported an existing conversation")
	}

	// same pair again, initiated by the same user
	again, existed, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, chat.NewConversation{
		ParticipantIDs: []string{f.bob.ID},
		Kind:           chat.KindDirect,
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}
	if !existed {
		t.Error("second resolution did not report an existing conversation")
	}
	if again.ID != conv.ID {
		t.Errorf("got a different conversation: %s != %s", again.ID, conv.ID)
	}

	// same pair, reversed initiator
	reversed, existed, err := f.svc.ResolveOrCreate(ctx, f.bob.ID, chat.NewConversation{
		ParticipantIDs: []string{f.alice.ID},
		Kind:           chat.KindDirect,
		InitialMessage: "hi Alice",
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}
	if !existed {
		t.Error("reversed-pair resolution did not report an existing conversation")
	}
	if reversed.ID != conv.ID {
		t.Errorf("reversed pair resolved to a different conversation: %s != %s", reversed.ID, conv.ID)
	}

	// both initial messages landed in the one conversation
	msgs, err := f.svc.ListMessages(ctx, conv.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("ListMessages() failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "hi Bob" || msgs[1].Content != "hi Alice" {
		t.Errorf("unexpected message log: %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestService_ResolveOrCreate_groupNeverDeduplicated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	nc := chat.NewConversation{
		ParticipantIDs: []string{f.bob.ID, f.eve.ID},
		Kind:           chat.KindGroup,
		Title:          "Homework club",
	}
	conv1, _, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, nc)
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}
	conv2, existed, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, nc)
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}
	if existed {
		t.Error("group creation reported an existing conversation")
	}
	if conv1.ID == conv2.ID {
		t.Error("group conversations were deduplicated")
	}
}

func TestService_ResolveOrCreate_validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		nc   chat.NewConversation
	}{
		{name: "empty participants", nc: chat.NewConversation{Kind: chat.KindDirect}},
		{
			name: "direct pair too big",
			nc: chat.NewConversation{
				ParticipantIDs: []string{f.bob.ID, f.eve.ID},
				Kind:           chat.KindDirect,
			},
		},
		{
			name: "direct with self only",
			nc: chat.NewConversation{
				ParticipantIDs: []string{f.alice.ID},
				Kind:           chat.KindDirect,
			},
		},
		{
			name: "unknown participant",
			nc: chat.NewConversation{
				ParticipantIDs: []string{"deadbeef-0000-0000-0000-000000000000"},
				Kind:           chat.KindDirect,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, tt.nc); !isValidationErr(err) {
				t.Errorf("ResolveOrCreate() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestService_Send(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	conv, _, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, chat.NewConversation{
		ParticipantIDs: []string{f.bob.ID},
		Kind:           chat.KindDirect,
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}

	// non-participant
	if _, err = f.svc.Send(ctx, conv.ID, f.eve.ID, chat.NewMessage{Content: "let me in"}); errors.Cause(err) != chat.ErrNotParticipant {
		t.Errorf("Send() error = %v, want ErrNotParticipant", err)
	}

	// empty message
	if _, err = f.svc.Send(ctx, conv.ID, f.alice.ID, chat.NewMessage{Content: "   "}); !isValidationErr(err) {
		t.Errorf("Send() error = %v, want ValidationError", err)
	}

	// unknown conversation
	if _, err = f.svc.Send(ctx, "deadbeef-0000-0000-0000-000000000000", f.alice.ID, chat.NewMessage{Content: "hello?"}); errors.Cause(err) != chat.ErrConversationNotFound {
		t.Errorf("Send() error = %v, want ErrConversationNotFound", err)
	}

	// IDs are strictly increasing in send order
	var lastID int64
	for _, content := range []string{"one", "two", "three"} {
		msg, err := f.svc.Send(ctx, conv.ID, f.alice.ID, chat.NewMessage{Content: content})
		if err != nil {
			t.Fatalf("Send(%q) failed: %v", content, err)
		}
		if msg.ID <= lastID {
			t.Errorf("message ID %d not greater than previous %d", msg.ID, lastID)
		}
		lastID = msg.ID
	}

	// fan-out goes to everyone but the sender
	if f.dispatcher.len() == 0 {
		t.Fatal("dispatcher was never called")
	}
	call := f.dispatcher.last()
	if len(call.recipients) != 1 || call.recipients[0] != f.bob.ID {
		t.Errorf("recipients = %v, want [%s]", call.recipients, f.bob.ID)
	}
}

func TestService_unreadAndRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	conv, _, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, chat.NewConversation{
		ParticipantIDs: []string{f.bob.ID},
		Kind:           chat.KindDirect,
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}

	for _, content := range []string{"one", "two", "three"} {
		if _, err = f.svc.Send(ctx, conv.ID, f.alice.ID, chat.NewMessage{Content: content}); err != nil {
			t.Fatalf("Send() failed: %v", err)
		}
	}

	assertUnread := func(userID string, want int) {
		t.Helper()
		count, err := f.svc.UnreadCount(ctx, conv.ID, userID)
		if err != nil {
			t.Fatalf("UnreadCount() failed: %v", err)
		}
		if count != want {
			t.Errorf("UnreadCount() = %d, want %d", count, want)
		}
	}

	// own messages never count as unread
	assertUnread(f.alice.ID, 0)
	assertUnread(f.bob.ID, 3)

	// fetching the history implies reading it
	if _, err = f.svc.ListMessages(ctx, conv.ID, f.bob.ID); err != nil {
		t.Fatalf("ListMessages() failed: %v", err)
	}
	assertUnread(f.bob.ID, 0)

	// new message after the cursor is unread again
	if _, err = f.svc.Send(ctx, conv.ID, f.alice.ID, chat.NewMessage{Content: "four"}); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	assertUnread(f.bob.ID, 1)

	// explicit mark-read without fetching
	if err = f.svc.MarkRead(ctx, conv.ID, f.bob.ID); err != nil {
		t.Fatalf("MarkRead() failed: %v", err)
	}
	assertUnread(f.bob.ID, 0)

	// marking read again never rewinds the cursor
	if err = f.svc.MarkRead(ctx, conv.ID, f.bob.ID); err != nil {
		t.Fatalf("MarkRead() failed: %v", err)
	}
	assertUnread(f.bob.ID, 0)

	// non-participants get no counts
	if _, err = f.svc.UnreadCount(ctx, conv.ID, f.eve.ID); errors.Cause(err) != chat.ErrNotParticipant {
		t.Errorf("UnreadCount() error = %v, want ErrNotParticipant", err)
	}
}

func TestService_Receipts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	conv, _, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, chat.NewConversation{
		ParticipantIDs: []string{f.bob.ID, f.eve.ID},
		Kind:           chat.KindGroup,
		Title:          "Study group",
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}
	msg, err := f.svc.Send(ctx, conv.ID, f.alice.ID, chat.NewMessage{Content: "who read this?"})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	receipt, err := f.svc.Receipts(ctx, conv.ID, msg.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("Receipts() failed: %v", err)
	}
	if len(receipt.ReadBy) != 0 || receipt.ReadByAll {
		t.Errorf("fresh message receipt = %+v, want nobody", receipt)
	}

	if err = f.svc.MarkRead(ctx, conv.ID, f.bob.ID); err != nil {
		t.Fatalf("MarkRead() failed: %v", err)
	}
	receipt, err = f.svc.Receipts(ctx, conv.ID, msg.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("Receipts() failed: %v", err)
	}
	if len(receipt.ReadBy) != 1 || receipt.ReadBy[0] != f.bob.ID {
		t.Errorf("ReadBy = %v, want [%s]", receipt.ReadBy, f.bob.ID)
	}
	if receipt.ReadByAll {
		t.Error("ReadByAll = true before every recipient has read")
	}

	if err = f.svc.MarkRead(ctx, conv.ID, f.eve.ID); err != nil {
		t.Fatalf("MarkRead() failed: %v", err)
	}
	receipt, err = f.svc.Receipts(ctx, conv.ID, msg.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("Receipts() failed: %v", err)
	}
	if !receipt.ReadByAll {
		t.Error("ReadByAll = false after every recipient has read")
	}

	// the sender never appears in their own receipt
	for _, id := range receipt.ReadBy {
		if id == f.alice.ID {
			t.Error("sender listed in ReadBy")
		}
	}

	// outsiders cannot inspect receipts
	outsider := testutil.CreateUser(t, f.usrRepo, "Mallory", "mallory", "mallory@test.cd", "", nil, true)
	if _, err = f.svc.Receipts(ctx, conv.ID, msg.ID, outsider.ID); errors.Cause(err) != chat.ErrNotParticipant {
		t.Errorf("Receipts() error = %v, want ErrNotParticipant", err)
	}
}

func TestService_DeleteMessage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	conv, _, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, chat.NewConversation{
		ParticipantIDs: []string{f.bob.ID},
		Kind:           chat.KindDirect,
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}
	msg, err := f.svc.Send(ctx, conv.ID, f.alice.ID, chat.NewMessage{Content: "oops"})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	// only the sender may delete
	if err = f.svc.DeleteMessage(ctx, conv.ID, msg.ID, f.bob.ID); errors.Cause(err) != chat.ErrNotSender {
		t.Errorf("DeleteMessage() error = %v, want ErrNotSender", err)
	}

	if err = f.svc.DeleteMessage(ctx, conv.ID, msg.ID, f.alice.ID); err != nil {
		t.Fatalf("DeleteMessage() failed: %v", err)
	}

	// gone from listings
	msgs, err := f.svc.ListMessages(ctx, conv.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("ListMessages() failed: %v", err)
	}
	for _, m := range msgs {
		if m.ID == msg.ID {
			t.Error("deleted message still listed")
		}
	}

	// gone from unread counts
	count, err := f.svc.UnreadCount(ctx, conv.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("UnreadCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("UnreadCount() = %d, want 0 after deletion", count)
	}

	// deleted messages have no receipts
	if _, err = f.svc.Receipts(ctx, conv.ID, msg.ID, f.alice.ID); errors.Cause(err) != chat.ErrMessageNotFound {
		t.Errorf("Receipts() error = %v, want ErrMessageNotFound", err)
	}
}

func TestService_ListConversations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	direct, _, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, chat.NewConversation{
		ParticipantIDs: []string{f.bob.ID},
		Kind:           chat.KindDirect,
		InitialMessage: "hey",
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}
	group, _, err := f.svc.ResolveOrCreate(ctx, f.bob.ID, chat.NewConversation{
		ParticipantIDs: []string{f.alice.ID, f.eve.ID},
		Kind:           chat.KindGroup,
		Title:          "Everyone",
	})
	if err != nil {
		t.Fatalf("ResolveOrCreate() failed: %v", err)
	}
	if _, err = f.svc.Send(ctx, group.ID, f.eve.ID, chat.NewMessage{Content: "newest"}); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	summaries, err := f.svc.ListConversations(ctx, f.alice.ID)
	if err != nil {
		t.Fatalf("ListConversations() failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len(summaries) = %d, want 2", len(summaries))
	}

	// most recently updated first
	if summaries[0].ID != group.ID || summaries[1].ID != direct.ID {
		t.Errorf("order = [%s %s], want [%s %s]", summaries[0].ID, summaries[1].ID, group.ID, direct.ID)
	}

	groupRow, directRow := summaries[0], summaries[1]

	if groupRow.UnreadCount != 1 {
		t.Errorf("group UnreadCount = %d, want 1", groupRow.UnreadCount)
	}
	if groupRow.LastMessage == nil || groupRow.LastMessage.Content != "newest" {
		t.Errorf("group LastMessage = %+v, want content %q", groupRow.LastMessage, "newest")
	}
	if groupRow.LastMessage.Sender.ID != f.eve.ID {
		t.Errorf("group LastMessage.Sender.ID = %s, want %s", groupRow.LastMessage.Sender.ID, f.eve.ID)
	}
	if groupRow.OtherParticipant != nil {
		t.Error("group summary carries an OtherParticipant")
	}

	if directRow.OtherParticipant == nil || directRow.OtherParticipant.ID != f.bob.ID {
		t.Errorf("direct OtherParticipant = %+v, want %s", directRow.OtherParticipant, f.bob.ID)
	}
	// Alice sent the only direct message herself
	if directRow.UnreadCount != 0 {
		t.Errorf("direct UnreadCount = %d, want 0", directRow.UnreadCount)
	}

	// empty list, not nil, for users with no conversations
	loner := testutil.CreateUser(t, f.usrRepo, "Loner", "loner", "loner@test.cd", "", nil, true)
	summaries, err = f.svc.ListConversations(ctx, loner.ID)
	if err != nil {
		t.Fatalf("ListConversations() failed: %v", err)
	}
	if summaries == nil || len(summaries) != 0 {
		t.Errorf("summaries = %v, want empty non-nil slice", summaries)
	}
}

func TestService_concurrentDirectCreation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	nc := chat.NewConversation{
		ParticipantIDs: []string{f.bob.ID},
		Kind:           chat.KindDirect,
		InitialMessage: "race!",
	}

	const n = 8
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, _, err := f.svc.ResolveOrCreate(ctx, f.alice.ID, nc)
			if err != nil {
				t.Errorf("ResolveOrCreate() failed: %v", err)
				return
			}
			ids <- conv.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	if len(seen) != 1 {
		t.Errorf("concurrent resolutions produced %d conversations, want 1", len(seen))
	}
}
