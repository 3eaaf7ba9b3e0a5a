package relay

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"teamchat/cmd/records"
	v1 "teamchat/shared/contracts/chat/v1"
)

// MessageAppender is the slice of records.Store the relay needs.
type MessageAppender interface {
	AppendMessage(ctx context.Context, in records.AppendMessageInput) (records.Message, error)
}

// Relay persists a message and then broadcasts it to the channel room.
// Persist and broadcast happen under one per-channel lock, so every room
// member observes messages in persistence order.
type Relay struct {
	store   MessageAppender
	rooms   *Rooms
	log     *slog.Logger
	metrics *Metrics
	timeout time.Duration
	now     func() time.Time

	channels keyedMutex
}

func NewRelay(store MessageAppender, rooms *Rooms, log *slog.Logger, metrics *Metrics, timeout time.Duration, now func() time.Time) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Relay{store: store, rooms: rooms, log: log, metrics: metrics, timeout: timeout, now: now}
}

// Send validates, persists and broadcasts one message, sender included.
//
// The store call runs detached from ctx cancellation (bounded by the relay
// timeout): once a send is accepted it completes and broadcasts even if the
// sender disconnects meanwhile.
func (r *Relay) Send(ctx context.Context, channelID, userID, content string) (records.Message, error) {
	channelID = strings.TrimSpace(channelID)
	content = strings.TrimSpace(content)

	switch {
	case channelID == "":
		return r.reject(ValidationError{Reason: "missing channel_id"}, "validation")
	case userID == "":
		return r.reject(ValidationError{Reason: "missing user_id"}, "validation")
	case content == "":
		return r.reject(ValidationError{Reason: "empty content"}, "validation")
	case utf8.RuneCountInString(content) > records.MaxMessageChars:
		return r.reject(ValidationError{Reason: "content too long"}, "validation")
	}

	unlock := r.channels.Lock(channelID)
	defer unlock()

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	msg, err := r.store.AppendMessage(storeCtx, records.AppendMessageInput{
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
		Now:       r.now(),
	})
	if err != nil {
		err = classifyStoreErr("relay.Send", err)
		reason := "store"
		if IsValidation(err) {
			reason = "validation"
		}
		r.log.Info("relay.send.rejected", "channel_id", channelID, "user_id", userID, "err", err)
		return r.reject(err, reason)
	}

	r.metrics.relayed()
	r.rooms.Broadcast(channelID, newEnvelope(v1.TypeNewMessage, newMessagePayload(msg), msg.CreatedAt), nil)
	return msg, nil
}

func (r *Relay) reject(err error, reason string) (records.Message, error) {
	r.metrics.rejected(reason)
	return records.Message{}, err
}

func newMessagePayload(m records.Message) v1.NewMessagePayload {
	return v1.NewMessagePayload{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		UserID:    m.UserID,
		Content:   m.Content,
		Seq:       m.Seq,
		CreatedAt: m.CreatedAt,
		Author:    userInfo(m.Author),
	}
}

func userInfo(u records.UserSummary) v1.UserInfo {
	return v1.UserInfo{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}
