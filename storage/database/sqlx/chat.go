package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/chat"
)

// pqUniqueViolation is the postgres error code raised when an INSERT trips a
// unique index; on conversation.direct_key it means we lost the dedup race.
const pqUniqueViolation = "23505"

type (
	conversationRow struct {
		ID        string      `db:"id"`
		Kind      string      `db:"kind"`
		Title     null.String `db:"title"`
		DirectKey null.String `db:"direct_key"`
		CreatedAt time.Time   `db:"created_at"`
		UpdatedAt time.Time   `db:"updated_at"`
	}

	participantRow struct {
		ConversationID    string `db:"conversation_id"`
		UserID            string `db:"user_id"`
		LastReadMessageID int64  `db:"last_read_message_id"`
	}

	messageRow struct {
		ID             int64       `db:"id"`
		ConversationID string      `db:"conversation_id"`
		SenderID       string      `db:"sender_id"`
		Content        string      `db:"content"`
		AttachmentRef  null.String `db:"attachment_ref"`
		AttachmentType null.String `db:"attachment_type"`
		CreatedAt      time.Time   `db:"created_at"`
		Deleted        bool        `db:"deleted"`
	}
)

func (r conversationRow) unrow() chat.Conversation {
	return chat.Conversation{
		ID:        r.ID,
		Kind:      chat.Kind(r.Kind),
		Title:     r.Title.String,
		DirectKey: r.DirectKey.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r participantRow) unrow() chat.Participant {
	return chat.Participant(r)
}

func (r messageRow) unrow() chat.Message {
	return chat.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Content:        r.Content,
		Attachment:     core.AttachmentRef{Ref: r.AttachmentRef.String, ContentType: r.AttachmentType.String},
		CreatedAt:      r.CreatedAt,
		Deleted:        r.Deleted,
	}
}

type chatRepository struct {
	db *sqlx.DB
}

var _ chat.Repository = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db *sqlx.DB) *chatRepository {
	return &chatRepository{db: db}
}

// withTx runs fn inside a transaction; fn's error rolls everything back.
func (repo chatRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning tx")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing tx")
}

func isUniqueViolation(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && string(pqErr.Code) == pqUniqueViolation
}

func (repo chatRepository) CreateConversation(
	ctx context.Context,
	conv chat.Conversation,
	participants []chat.Participant,
	initial *chat.Message,
) (chat.Conversation, *chat.Message, error) {
	conv.ID = uuid.New().String()

	var msg *chat.Message
	err := repo.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation (id, kind, title, direct_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			conv.ID, string(conv.Kind),
			null.NewString(conv.Title, conv.Title != ""),
			null.NewString(conv.DirectKey, conv.DirectKey != ""),
			conv.CreatedAt.UTC(), conv.UpdatedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return chat.ErrDirectExists
			}
			return errors.Wrap(err, "inserting conversation")
		}

		for _, p := range participants {
			if _, err = tx.ExecContext(ctx, `
				INSERT INTO participant (conversation_id, user_id) VALUES ($1, $2)`,
				conv.ID, p.UserID,
			); err != nil {
				return errors.Wrap(err, "inserting participant")
			}
		}

		if initial != nil {
			m := *initial
			m.ConversationID = conv.ID
			stored, err := repo.insertMessage(ctx, tx, m)
			if err != nil {
				return err
			}
			msg = &stored
		}
		return nil
	})
	if err != nil {
		return chat.Conversation{}, nil, err
	}
	return conv, msg, nil
}

func (repo chatRepository) GetConversationByID(ctx context.Context, id string) (chat.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return chat.Conversation{}, chat.ErrConversationNotFound
	}
	var row conversationRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM conversation WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return chat.Conversation{}, chat.ErrConversationNotFound
		}
		return chat.Conversation{}, errors.Wrap(err, "finding conversation by ID")
	}
	return row.unrow(), nil
}

func (repo chatRepository) GetDirectConversation(ctx context.Context, directKey string) (chat.Conversation, error) {
	var row conversationRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM conversation WHERE kind = 'direct' AND direct_key = $1`, directKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return chat.Conversation{}, chat.ErrConversationNotFound
		}
		return chat.Conversation{}, errors.Wrap(err, "finding direct conversation")
	}
	return row.unrow(), nil
}

func (repo chatRepository) QueryUserConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	var rows []conversationRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT c.* FROM conversation c
		JOIN participant p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying user conversations")
	}
	convs := make([]chat.Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, row.unrow())
	}
	return convs, nil
}

func (repo chatRepository) GetParticipants(ctx context.Context, conversationID string) ([]chat.Participant, error) {
	var rows []participantRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM participant WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "querying participants")
	}
	participants := make([]chat.Participant, 0, len(rows))
	for _, row := range rows {
		participants = append(participants, row.unrow())
	}
	return participants, nil
}

func (repo chatRepository) GetParticipant(ctx context.Context, conversationID, userID string) (chat.Participant, error) {
	var row participantRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM participant WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return chat.Participant{}, chat.ErrNotParticipant
		}
		return chat.Participant{}, errors.Wrap(err, "finding participant")
	}
	return row.unrow(), nil
}

func (repo chatRepository) GetParticipantsByConversation(ctx context.Context, conversationIDs []string) (map[string][]chat.Participant, error) {
	var rows []participantRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM participant WHERE conversation_id = ANY ($1)`, pq.Array(conversationIDs))
	if err != nil {
		return nil, errors.Wrap(err, "batch querying participants")
	}
	byConv := make(map[string][]chat.Participant, len(conversationIDs))
	for _, row := range rows {
		byConv[row.ConversationID] = append(byConv[row.ConversationID], row.unrow())
	}
	return byConv, nil
}

func (repo chatRepository) GetLastMessages(ctx context.Context, conversationIDs []string) (map[string]chat.Message, error) {
	var rows []messageRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (conversation_id) *
		FROM message
		WHERE conversation_id = ANY ($1) AND NOT deleted
		ORDER BY conversation_id, id DESC`,
		pq.Array(conversationIDs),
	)
	if err != nil {
		return nil, errors.Wrap(err, "batch querying last messages")
	}
	byConv := make(map[string]chat.Message, len(rows))
	for _, row := range rows {
		byConv[row.ConversationID] = row.unrow()
	}
	return byConv, nil
}

func (repo chatRepository) GetUnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	rows, err := repo.db.QueryContext(ctx, `
		SELECT m.conversation_id, COUNT(*)
		FROM message m
		JOIN participant p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		WHERE m.conversation_id = ANY ($2)
		  AND NOT m.deleted
		  AND m.sender_id <> $1
		  AND m.id > p.last_read_message_id
		GROUP BY m.conversation_id`,
		userID, pq.Array(conversationIDs),
	)
	if err != nil {
		return nil, errors.Wrap(err, "batch querying unread counts")
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int, len(conversationIDs))
	for rows.Next() {
		var convID string
		var count int
		if err = rows.Scan(&convID, &count); err != nil {
			return nil, errors.Wrap(err, "scanning unread count")
		}
		counts[convID] = count
	}
	return counts, errors.Wrap(rows.Err(), "batch querying unread counts")
}

func (repo chatRepository) insertMessage(ctx context.Context, tx *sqlx.Tx, msg chat.Message) (chat.Message, error) {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO message (conversation_id, sender_id, content, attachment_ref, attachment_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		msg.ConversationID, msg.SenderID, msg.Content,
		null.NewString(msg.Attachment.Ref, msg.Attachment.Ref != ""),
		null.NewString(msg.Attachment.ContentType, msg.Attachment.ContentType != ""),
		msg.CreatedAt.UTC(),
	).Scan(&msg.ID)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "inserting message")
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE conversation SET updated_at = $2 WHERE id = $1`,
		msg.ConversationID, msg.CreatedAt.UTC(),
	); err != nil {
		return chat.Message{}, errors.Wrap(err, "bumping conversation")
	}
	return msg, nil
}

func (repo chatRepository) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	var stored chat.Message
	err := repo.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		stored, err = repo.insertMessage(ctx, tx, msg)
		return err
	})
	if err != nil {
		return chat.Message{}, err
	}
	return stored, nil
}

func (repo chatRepository) QueryMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var rows []messageRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT * FROM message
		WHERE conversation_id = $1 AND NOT deleted
		ORDER BY id`,
		conversationID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	msgs := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.unrow())
	}
	return msgs, nil
}

func (repo chatRepository) GetMessageByID(ctx context.Context, conversationID string, id int64) (chat.Message, error) {
	var row messageRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM message WHERE conversation_id = $1 AND id = $2 AND NOT deleted`, conversationID, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return chat.Message{}, chat.ErrMessageNotFound
		}
		return chat.Message{}, errors.Wrap(err, "finding message by ID")
	}
	return row.unrow(), nil
}

func (repo chatRepository) MarkMessageDeleted(ctx context.Context, conversationID string, id int64) error {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE message SET deleted = TRUE WHERE conversation_id = $1 AND id = $2`, conversationID, id)
	if err != nil {
		return errors.Wrap(err, "marking message deleted")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return chat.ErrMessageNotFound
	}
	return nil
}

func (repo chatRepository) MaxMessageID(ctx context.Context, conversationID string) (int64, error) {
	var maxID int64
	err := repo.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM message WHERE conversation_id = $1`, conversationID).Scan(&maxID)
	return maxID, errors.Wrap(err, "resolving max message ID")
}

func (repo chatRepository) AdvanceReadCursor(ctx context.Context, conversationID, userID string, toMessageID int64) error {
	// GREATEST keeps the cursor monotonic under concurrent advances
	_, err := repo.db.ExecContext(ctx, `
		UPDATE participant
		SET last_read_message_id = GREATEST(last_read_message_id, $3)
		WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, toMessageID,
	)
	return errors.Wrap(err, "advancing read cursor")
}

func (repo chatRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := repo.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM message m
		JOIN participant p ON p.conversation_id = m.conversation_id AND p.user_id = $2
		WHERE m.conversation_id = $1
		  AND NOT m.deleted
		  AND m.sender_id <> $2
		  AND m.id > p.last_read_message_id`,
		conversationID, userID,
	).Scan(&count)
	return count, errors.Wrap(err, "counting unread messages")
}
