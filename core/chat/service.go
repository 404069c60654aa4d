package chat

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

var (
	// errors
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrNotSender            = errors.New("only the sender can delete a message")

	// ErrDirectExists is returned by Repository.CreateConversation when a
	// concurrent writer created the same direct pair first; the service
	// retries the resolution as a lookup. It must never escape this package.
	ErrDirectExists = errors.New("a direct conversation already exists for this pair")

	errEmptyParticipants = errors.New("participant list cannot be empty")
	errDirectPairSize    = errors.New("a direct conversation requires exactly 2 distinct participants")
	errUnknownUser       = errors.New("unknown participant")
	errEmptyMessage      = errors.New("one of content or attachment is required")
)

type (
	Repository interface {
		// CreateConversation stores the conversation, its participant rows and the
		// optional initial message as one atomic unit; nothing is persisted on error.
		// For direct conversations it must enforce DirectKey uniqueness and return
		// ErrDirectExists when another writer won the race.
		CreateConversation(ctx context.Context, conv Conversation, participants []Participant, initial *Message) (Conversation, *Message, error)
		GetConversationByID(ctx context.Context, id string) (Conversation, error)
		// GetDirectConversation returns ErrConversationNotFound when the pair has none.
		GetDirectConversation(ctx context.Context, directKey string) (Conversation, error)
		// QueryUserConversations returns the user's conversations, most recently updated first.
		QueryUserConversations(ctx context.Context, userID string) ([]Conversation, error)
		GetParticipants(ctx context.Context, conversationID string) ([]Participant, error)
		// GetParticipant returns ErrNotParticipant when the user has no row in the conversation.
		GetParticipant(ctx context.Context, conversationID, userID string) (Participant, error)

		// Batch loads for the conversation list; one round trip each, never per-row.
		GetParticipantsByConversation(ctx context.Context, conversationIDs []string) (map[string][]Participant, error)
		GetLastMessages(ctx context.Context, conversationIDs []string) (map[string]Message, error)
		GetUnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)

		// CreateMessage assigns an ID strictly greater than every previously assigned
		// ID in the conversation and bumps the conversation's UpdatedAt atomically.
		CreateMessage(ctx context.Context, msg Message) (Message, error)
		// QueryMessages returns non-deleted messages, oldest first.
		QueryMessages(ctx context.Context, conversationID string) ([]Message, error)
		GetMessageByID(ctx context.Context, conversationID string, id int64) (Message, error)
		MarkMessageDeleted(ctx context.Context, conversationID string, id int64) error
		// MaxMessageID returns the highest assigned message ID (deleted included); 0 when empty.
		MaxMessageID(ctx context.Context, conversationID string) (int64, error)

		// AdvanceReadCursor sets the cursor to max(current, toMessageID); it never decreases.
		AdvanceReadCursor(ctx context.Context, conversationID, userID string, toMessageID int64) error
		UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	}

	// UserDirectory is the narrow surface of the user service the messaging
	// core consumes: existence checks, display data and people search.
	UserDirectory interface {
		GetProfile(ctx context.Context, id string) (user.Profile, error)
		GetProfiles(ctx context.Context, ids []string) (map[string]user.Profile, error)
		Search(ctx context.Context, requesterID, query string) ([]user.Profile, error)
	}

	// Dispatcher fans out notifications for an appended message. Implementations
	// must be asynchronous and must never fail or block the triggering send.
	Dispatcher interface {
		MessageSent(conv Conversation, msg Message, recipientIDs []string)
	}

	ServiceInterface interface {
		ResolveOrCreate(ctx context.Context, initiatorID string, nc NewConversation) (Conversation, bool, error)
		Send(ctx context.Context, conversationID, senderID string, nm NewMessage) (Message, error)
		ListMessages(ctx context.Context, conversationID, requesterID string) ([]Message, error)
		MarkRead(ctx context.Context, conversationID, userID string) error
		ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)
		UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
		Receipts(ctx context.Context, conversationID string, messageID int64, requesterID string) (ReadReceipt, error)
		DeleteMessage(ctx context.Context, conversationID string, messageID int64, requesterID string) error
		SearchUsers(ctx context.Context, requesterID, query string) ([]user.Profile, error)
	}

	Service struct {
		repo       Repository
		users      UserDirectory
		dispatcher Dispatcher
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, users UserDirectory, dispatcher Dispatcher) *Service {
	return &Service{repo: repo, users: users, dispatcher: dispatcher}
}

// ResolveOrCreate starts a conversation, reusing the existing direct
// conversation for the pair when there is one. The initiator is always part
// of the participant set. The returned bool reports whether the conversation
// already existed; an initial message (when provided) is appended either way.
func (svc *Service) ResolveOrCreate(ctx context.Context, initiatorID string, nc NewConversation) (Conversation, bool, error) {
	if len(nc.ParticipantIDs) == 0 {
		return Conversation{}, false, core.NewValidationError(errEmptyParticipants,
			core.FieldError{Field: "participant_ids", Error: errEmptyParticipants.Error()})
	}

	participantIDs := dedupeIDs(append([]string{initiatorID}, nc.ParticipantIDs...))

	if nc.Kind == KindDirect && len(participantIDs) != 2 {
		return Conversation{}, false, core.NewValidationError(errDirectPairSize,
			core.FieldError{Field: "participant_ids", Error: errDirectPairSize.Error()})
	}

	// the user directory is the authority on who exists
	profiles, err := svc.users.GetProfiles(ctx, participantIDs)
	if err != nil {
		return Conversation{}, false, pkgerrors.Wrap(err, "resolving participants")
	}
	for _, id := range participantIDs {
		if _, ok := profiles[id]; !ok {
			return Conversation{}, false, core.NewValidationError(errUnknownUser,
				core.FieldError{Field: "participant_ids", Error: errUnknownUser.Error() + ": " + id})
		}
	}

	initial := initialMessage(initiatorID, nc)

	if nc.Kind == KindDirect {
		key := DirectKeyFor(participantIDs[0], participantIDs[1])

		conv, err := svc.repo.GetDirectConversation(ctx, key)
		if err == nil {
			return svc.appendToExisting(ctx, conv, initiatorID, nc)
		}
		if pkgerrors.Cause(err) != ErrConversationNotFound {
			return Conversation{}, false, pkgerrors.Wrap(err, "resolving direct conversation")
		}

		conv, msg, err := svc.create(ctx, nc, key, participantIDs, initial)
		if pkgerrors.Cause(err) == ErrDirectExists {
			// lost the creation race; the winner's conversation is the one
			conv, err = svc.repo.GetDirectConversation(ctx, key)
			if err != nil {
				return Conversation{}, false, pkgerrors.Wrap(err, "resolving direct conversation after lost race")
			}
			return svc.appendToExisting(ctx, conv, initiatorID, nc)
		}
		if err != nil {
			return Conversation{}, false, err
		}
		svc.dispatch(ctx, conv, msg)
		return conv, false, nil
	}

	// groups are never deduplicated
	conv, msg, err := svc.create(ctx, nc, "", participantIDs, initial)
	if err != nil {
		return Conversation{}, false, err
	}
	svc.dispatch(ctx, conv, msg)
	return conv, false, nil
}

// Send appends a message to the conversation's log. The sender must be a
// participant; content and attachment cannot both be empty. Notifications
// fan out only after the message is durably stored.
func (svc *Service) Send(ctx context.Context, conversationID, senderID string, nm NewMessage) (Message, error) {
	nm.Content = core.CleanString(nm.Content)
	if nm.Content == "" && nm.Attachment.IsZero() {
		return Message{}, core.NewValidationError(errEmptyMessage,
			core.FieldError{Field: "content", Error: errEmptyMessage.Error()})
	}

	conv, err := svc.repo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	participants, err := svc.repo.GetParticipants(ctx, conversationID)
	if err != nil {
		return Message{}, pkgerrors.Wrap(err, "loading participants")
	}
	if !isParticipant(participants, senderID) {
		return Message{}, ErrNotParticipant
	}

	msg, err := svc.repo.CreateMessage(ctx, Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        nm.Content,
		Attachment:     nm.Attachment,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return Message{}, pkgerrors.Wrap(err, "storing message")
	}

	if profile, err := svc.users.GetProfile(ctx, senderID); err == nil {
		msg.Sender = profile
	}

	svc.dispatchTo(ctx, conv, msg, participants)
	return msg, nil
}

// ListMessages returns the conversation's non-deleted messages, oldest first,
// for participants only. Viewing implies reading: a successful call advances
// the requester's read cursor to the conversation's current maximum message ID.
func (svc *Service) ListMessages(ctx context.Context, conversationID, requesterID string) ([]Message, error) {
	if _, err := svc.repo.GetConversationByID(ctx, conversationID); err != nil {
		return nil, err
	}
	if _, err := svc.repo.GetParticipant(ctx, conversationID, requesterID); err != nil {
		if pkgerrors.Cause(err) == ErrNotParticipant {
			return nil, ErrNotParticipant
		}
		return nil, pkgerrors.Wrap(err, "checking participant")
	}

	msgs, err := svc.repo.QueryMessages(ctx, conversationID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying messages")
	}

	if err = svc.markRead(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	if err = svc.enrichSenders(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead advances the user's read cursor to the conversation's latest
// message without fetching the history. The cursor never decreases.
func (svc *Service) MarkRead(ctx context.Context, conversationID, userID string) error {
	if _, err := svc.repo.GetConversationByID(ctx, conversationID); err != nil {
		return err
	}
	if _, err := svc.repo.GetParticipant(ctx, conversationID, userID); err != nil {
		if pkgerrors.Cause(err) == ErrNotParticipant {
			return ErrNotParticipant
		}
		return pkgerrors.Wrap(err, "checking participant")
	}
	return svc.markRead(ctx, conversationID, userID)
}

func (svc *Service) markRead(ctx context.Context, conversationID, userID string) error {
	maxID, err := svc.repo.MaxMessageID(ctx, conversationID)
	if err != nil {
		return pkgerrors.Wrap(err, "resolving latest message")
	}
	if maxID == 0 {
		return nil
	}
	return pkgerrors.Wrap(svc.repo.AdvanceReadCursor(ctx, conversationID, userID, maxID), "advancing read cursor")
}

// ListConversations returns the user's conversation list, most recently
// updated first, with unread counts, last messages and (for direct
// conversations) the other participant's profile. All companion data is
// batch-loaded; nothing is fetched per row.
func (svc *Service) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	convs, err := svc.repo.QueryUserConversations(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying conversations")
	}
	if len(convs) == 0 {
		return []ConversationSummary{}, nil
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	participantsBy, err := svc.repo.GetParticipantsByConversation(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "batch loading participants")
	}
	lastBy, err := svc.repo.GetLastMessages(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "batch loading last messages")
	}
	unreadBy, err := svc.repo.GetUnreadCounts(ctx, userID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "batch loading unread counts")
	}

	// one directory round trip for every profile the list needs
	profileIDs := make([]string, 0, 2*len(convs))
	for _, c := range convs {
		if c.Kind == KindDirect {
			for _, p := range participantsBy[c.ID] {
				if p.UserID != userID {
					profileIDs = append(profileIDs, p.UserID)
				}
			}
		}
		if last, ok := lastBy[c.ID]; ok {
			profileIDs = append(profileIDs, last.SenderID)
		}
	}
	profiles, err := svc.users.GetProfiles(ctx, dedupeIDs(profileIDs))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "resolving profiles")
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary := ConversationSummary{
			ID:          c.ID,
			Kind:        c.Kind,
			Title:       c.Title,
			UnreadCount: unreadBy[c.ID],
			CreatedAt:   c.CreatedAt,
			UpdatedAt:   c.UpdatedAt,
		}
		if last, ok := lastBy[c.ID]; ok {
			last.Sender = profiles[last.SenderID]
			summary.LastMessage = &last
		}
		if c.Kind == KindDirect {
			for _, p := range participantsBy[c.ID] {
				if p.UserID != userID {
					if profile, ok := profiles[p.UserID]; ok {
						summary.OtherParticipant = &profile
					}
					break
				}
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// UnreadCount reports how many non-deleted messages from other senders the
// user has not read yet in the conversation.
func (svc *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	if _, err := svc.repo.GetParticipant(ctx, conversationID, userID); err != nil {
		if pkgerrors.Cause(err) == ErrNotParticipant {
			return 0, ErrNotParticipant
		}
		return 0, pkgerrors.Wrap(err, "checking participant")
	}
	return svc.repo.UnreadCount(ctx, conversationID, userID)
}

// Receipts derives the read state of a message from the participants' read
// cursors: a participant has read the message iff their cursor caught up to it.
func (svc *Service) Receipts(ctx context.Context, conversationID string, messageID int64, requesterID string) (ReadReceipt, error) {
	participants, err := svc.repo.GetParticipants(ctx, conversationID)
	if err != nil {
		return ReadReceipt{}, pkgerrors.Wrap(err, "loading participants")
	}
	if !isParticipant(participants, requesterID) {
		return ReadReceipt{}, ErrNotParticipant
	}

	msg, err := svc.repo.GetMessageByID(ctx, conversationID, messageID)
	if err != nil {
		return ReadReceipt{}, err
	}

	receipt := ReadReceipt{MessageID: msg.ID, ReadBy: []string{}}
	for _, p := range participants {
		if p.UserID == msg.SenderID {
			continue
		}
		if p.LastReadMessageID >= msg.ID {
			receipt.ReadBy = append(receipt.ReadBy, p.UserID)
		}
	}
	receipt.ReadByAll = len(receipt.ReadBy) == len(participants)-1
	return receipt, nil
}

// DeleteMessage soft-deletes a message; only its sender may do so. The row
// stays stored but disappears from listings, counts and receipts.
func (svc *Service) DeleteMessage(ctx context.Context, conversationID string, messageID int64, requesterID string) error {
	msg, err := svc.repo.GetMessageByID(ctx, conversationID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return ErrNotSender
	}
	return pkgerrors.Wrap(svc.repo.MarkMessageDeleted(ctx, conversationID, messageID), "deleting message")
}

// SearchUsers delegates to the user directory, excluding the requester.
func (svc *Service) SearchUsers(ctx context.Context, requesterID, query string) ([]user.Profile, error) {
	return svc.users.Search(ctx, requesterID, query)
}

// helpers

func initialMessage(initiatorID string, nc NewConversation) *Message {
	if nc.InitialMessage == "" && nc.Attachment.IsZero() {
		return nil
	}
	return &Message{
		SenderID:   initiatorID,
		Content:    nc.InitialMessage,
		Attachment: nc.Attachment,
		CreatedAt:  time.Now().UTC(),
	}
}

func (svc *Service) create(ctx context.Context, nc NewConversation, directKey string, participantIDs []string, initial *Message) (Conversation, *Message, error) {
	now := time.Now().UTC()
	conv := Conversation{
		Kind:      nc.Kind,
		Title:     nc.Title,
		DirectKey: directKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	participants := make([]Participant, 0, len(participantIDs))
	for _, id := range participantIDs {
		participants = append(participants, Participant{UserID: id})
	}

	conv, msg, err := svc.repo.CreateConversation(ctx, conv, participants, initial)
	if err != nil {
		if pkgerrors.Cause(err) == ErrDirectExists {
			return Conversation{}, nil, err
		}
		return Conversation{}, nil, pkgerrors.Wrap(err, "creating conversation")
	}
	return conv, msg, nil
}

// appendToExisting resolves a create request against an already existing
// direct conversation: the optional initial message is appended rather than
// creating a duplicate conversation.
func (svc *Service) appendToExisting(ctx context.Context, conv Conversation, initiatorID string, nc NewConversation) (Conversation, bool, error) {
	if nc.InitialMessage != "" || !nc.Attachment.IsZero() {
		if _, err := svc.Send(ctx, conv.ID, initiatorID, NewMessage{Content: nc.InitialMessage, Attachment: nc.Attachment}); err != nil {
			return Conversation{}, false, pkgerrors.Wrap(err, "appending initial message")
		}
	}
	return conv, true, nil
}

func (svc *Service) dispatch(ctx context.Context, conv Conversation, msg *Message) {
	if msg == nil {
		return
	}
	participants, err := svc.repo.GetParticipants(ctx, conv.ID)
	if err != nil {
		return // notifications are best-effort
	}
	svc.dispatchTo(ctx, conv, *msg, participants)
}

func (svc *Service) dispatchTo(ctx context.Context, conv Conversation, msg Message, participants []Participant) {
	recipients := make([]string, 0, len(participants)-1)
	for _, p := range participants {
		if p.UserID != msg.SenderID {
			recipients = append(recipients, p.UserID)
		}
	}
	svc.dispatcher.MessageSent(conv, msg, recipients)
}

func (svc *Service) enrichSenders(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	senderIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.SenderID)
	}
	profiles, err := svc.users.GetProfiles(ctx, dedupeIDs(senderIDs))
	if err != nil {
		return pkgerrors.Wrap(err, "resolving sender profiles")
	}
	for i := range msgs {
		msgs[i].Sender = profiles[msgs[i].SenderID]
	}
	return nil
}

func isParticipant(participants []Participant, userID string) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
