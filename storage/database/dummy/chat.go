package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/darasahq/darasa/core/chat"
)

type chatRepository struct {
	db *chatTables
}

var _ chat.Repository = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db *DB) chat.Repository {
	return &chatRepository{db: db.chat}
}

func (repo *chatRepository) CreateConversation(
	ctx context.Context,
	conv chat.Conversation,
	participants []chat.Participant,
	initial *chat.Message,
) (chat.Conversation, *chat.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if conv.Kind == chat.KindDirect {
		for _, existing := range repo.db.conversations {
			if existing.Kind == chat.KindDirect && existing.DirectKey == conv.DirectKey {
				return chat.Conversation{}, nil, chat.ErrDirectExists
			}
		}
	}

	conv.ID = uuid.New().String()
	repo.db.conversations[conv.ID] = &conv

	rows := make([]*chat.Participant, 0, len(participants))
	for _, p := range participants {
		p.ConversationID = conv.ID
		row := p
		rows = append(rows, &row)
	}
	repo.db.participants[conv.ID] = rows

	var msg *chat.Message
	if initial != nil {
		m := *initial
		m.ConversationID = conv.ID
		stored := repo.insertMessage(m)
		msg = &stored
	}
	return conv, msg, nil
}

func (repo *chatRepository) GetConversationByID(ctx context.Context, id string) (chat.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if conv, ok := repo.db.conversations[id]; ok {
		return *conv, nil
	}
	return chat.Conversation{}, chat.ErrConversationNotFound
}

func (repo *chatRepository) GetDirectConversation(ctx context.Context, directKey string) (chat.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, conv := range repo.db.conversations {
		if conv.Kind == chat.KindDirect && conv.DirectKey == directKey {
			return *conv, nil
		}
	}
	return chat.Conversation{}, chat.ErrConversationNotFound
}

func (repo *chatRepository) QueryUserConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	convs := make([]chat.Conversation, 0)
	for convID, rows := range repo.db.participants {
		for _, p := range rows {
			if p.UserID == userID {
				convs = append(convs, *repo.db.conversations[convID])
				break
			}
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	return convs, nil
}

func (repo *chatRepository) GetParticipants(ctx context.Context, conversationID string) ([]chat.Participant, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.participants(conversationID), nil
}

func (repo *chatRepository) participants(conversationID string) []chat.Participant {
	rows := repo.db.participants[conversationID]
	participants := make([]chat.Participant, 0, len(rows))
	for _, p := range rows {
		participants = append(participants, *p)
	}
	return participants
}

func (repo *chatRepository) GetParticipant(ctx context.Context, conversationID, userID string) (chat.Participant, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, p := range repo.db.participants[conversationID] {
		if p.UserID == userID {
			return *p, nil
		}
	}
	return chat.Participant{}, chat.ErrNotParticipant
}

func (repo *chatRepository) GetParticipantsByConversation(ctx context.Context, conversationIDs []string) (map[string][]chat.Participant, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	byConv := make(map[string][]chat.Participant, len(conversationIDs))
	for _, id := range conversationIDs {
		if rows := repo.participants(id); len(rows) > 0 {
			byConv[id] = rows
		}
	}
	return byConv, nil
}

func (repo *chatRepository) GetLastMessages(ctx context.Context, conversationIDs []string) (map[string]chat.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	byConv := make(map[string]chat.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		msgs := repo.db.messages[id]
		for i := len(msgs) - 1; i >= 0; i-- {
			if !msgs[i].Deleted {
				byConv[id] = *msgs[i]
				break
			}
		}
	}
	return byConv, nil
}

func (repo *chatRepository) GetUnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	counts := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		if n := repo.unreadCount(id, userID); n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

func (repo *chatRepository) insertMessage(msg chat.Message) chat.Message {
	repo.db.msgCount++
	msg.ID = repo.db.msgCount
	repo.db.messages[msg.ConversationID] = append(repo.db.messages[msg.ConversationID], &msg)
	if conv, ok := repo.db.conversations[msg.ConversationID]; ok {
		conv.UpdatedAt = msg.CreatedAt
	}
	return msg
}

func (repo *chatRepository) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	return repo.insertMessage(msg), nil
}

func (repo *chatRepository) QueryMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := repo.db.messages[conversationID]
	msgs := make([]chat.Message, 0, len(rows))
	for _, m := range rows {
		if !m.Deleted {
			msgs = append(msgs, *m)
		}
	}
	return msgs, nil
}

func (repo *chatRepository) GetMessageByID(ctx context.Context, conversationID string, id int64) (chat.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, m := range repo.db.messages[conversationID] {
		if m.ID == id && !m.Deleted {
			return *m, nil
		}
	}
	return chat.Message{}, chat.ErrMessageNotFound
}

func (repo *chatRepository) MarkMessageDeleted(ctx context.Context, conversationID string, id int64) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, m := range repo.db.messages[conversationID] {
		if m.ID == id {
			m.Deleted = true
			return nil
		}
	}
	return chat.ErrMessageNotFound
}

func (repo *chatRepository) MaxMessageID(ctx context.Context, conversationID string) (int64, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	msgs := repo.db.messages[conversationID]
	if len(msgs) == 0 {
		return 0, nil
	}
	return msgs[len(msgs)-1].ID, nil
}

func (repo *chatRepository) AdvanceReadCursor(ctx context.Context, conversationID, userID string, toMessageID int64) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, p := range repo.db.participants[conversationID] {
		if p.UserID == userID {
			if toMessageID > p.LastReadMessageID {
				p.LastReadMessageID = toMessageID
			}
			return nil
		}
	}
	return nil
}

func (repo *chatRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.unreadCount(conversationID, userID), nil
}

func (repo *chatRepository) unreadCount(conversationID, userID string) int {
	var cursor int64
	for _, p := range repo.db.participants[conversationID] {
		if p.UserID == userID {
			cursor = p.LastReadMessageID
			break
		}
	}
	var count int
	for _, m := range repo.db.messages[conversationID] {
		if !m.Deleted && m.SenderID != userID && m.ID > cursor {
			count++
		}
	}
	return count
}
