package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateConversation(
	t *testing.T,
	repo chat.Repository,
	kind chat.Kind,
	title string,
	participantIDs ...string,
) chat.Conversation {
	t.Helper()

	now := time.Now().UTC()
	conv := chat.Conversation{
		Kind:      kind,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if kind == chat.KindDirect && len(participantIDs) == 2 {
		conv.DirectKey = chat.DirectKeyFor(participantIDs[0], participantIDs[1])
	}
	participants := make([]chat.Participant, 0, len(participantIDs))
	for _, id := range participantIDs {
		participants = append(participants, chat.Participant{UserID: id})
	}
	conv, _, err := repo.CreateConversation(context.Background(), conv, participants, nil)
	if err != nil {
		t.Fatalf("CreateConversation() failed: %v", err)
	}
	return conv
}

func SendMessage(
	t *testing.T,
	repo chat.Repository,
	conversationID, senderID, content string,
) chat.Message {
	t.Helper()

	msg, err := repo.CreateMessage(context.Background(), chat.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	return msg
}
