package notifsvc

import (
	"context"
	"net/mail"
	"sync"
	"time"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
	realtimesvc "github.com/darasahq/darasa/services/realtime"
)

const (
	deliveryTimeout = 10 * time.Second
	previewLen      = 140
)

type (
	// Dispatcher fans out "new message" notifications on a bounded queue
	// worked by a fixed pool. Enqueueing never blocks the sending request:
	// when the queue is saturated the notification is dropped and logged.
	// Messages themselves are already durable by the time we run.
	Dispatcher struct {
		logger core.Logger
		prefs  core.NotificationPreferences
		hub    *realtimesvc.Hub
		email  core.EmailService
		users  user.ServiceInterface

		queue chan job
		wg    sync.WaitGroup
		once  sync.Once
	}

	job struct {
		conv       chat.Conversation
		msg        chat.Message
		recipients []string
	}

	// pushPayload is the JSON frame pushed over the websocket.
	pushPayload struct {
		Event          string       `json:"event"`
		ConversationID string       `json:"conversation_id"`
		MessageID      int64        `json:"message_id"`
		Sender         user.Profile `json:"sender"`
		Preview        string       `json:"preview"`
		SentAt         time.Time    `json:"sent_at"`
	}
)

var _ chat.Dispatcher = (*Dispatcher)(nil)

func NewDispatcher(
	conf *core.Config,
	logger core.Logger,
	prefs core.NotificationPreferences,
	hub *realtimesvc.Hub,
	email core.EmailService,
	users user.ServiceInterface,
) *Dispatcher {
	d := &Dispatcher{
		logger: logger,
		prefs:  prefs,
		hub:    hub,
		email:  email,
		users:  users,
		queue:  make(chan job, conf.Notifications.QueueSize),
	}
	for i := 0; i < conf.Notifications.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// MessageSent enqueues the fan-out; it never fails or blocks the caller.
func (d *Dispatcher) MessageSent(conv chat.Conversation, msg chat.Message, recipientIDs []string) {
	if len(recipientIDs) == 0 {
		return
	}
	select {
	case d.queue <- job{conv: conv, msg: msg, recipients: recipientIDs}:
	default:
		d.logger.Warn("notification queue saturated; dropping fan-out",
			map[string]interface{}{"conversation": conv.ID, "message": msg.ID})
	}
}

// Close drains the queue and stops the workers.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if j.msg.Sender.Name == "" {
		if profile, err := d.users.GetProfile(ctx, j.msg.SenderID); err == nil {
			j.msg.Sender = profile
		}
	}

	payload := pushPayload{
		Event:          "message",
		ConversationID: j.conv.ID,
		MessageID:      j.msg.ID,
		Sender:         j.msg.Sender,
		Preview:        preview(j.msg.Content),
		SentAt:         j.msg.CreatedAt,
	}

	for _, recipientID := range j.recipients {
		if !d.prefs.Enabled(ctx, recipientID, core.NotifyCategoryMessage) {
			continue
		}

		d.hub.Push(recipientID, payload)

		// offline recipients get an email instead
		if d.hub.Connected(recipientID) {
			continue
		}
		usr, err := d.users.GetByID(ctx, recipientID)
		if err != nil || usr.Email == "" {
			continue
		}
		d.email.SendMessages(&core.EmailMessage{
			To:          []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject:     "New message from " + j.msg.Sender.Name,
			TextContent: payload.Preview,
		})
	}
}

func preview(content string) string {
	if len(content) <= previewLen {
		return content
	}
	runes := []rune(content)
	if len(runes) <= previewLen {
		return content
	}
	return string(runes[:previewLen]) + "…"
}
