package v1

import "time"

// IdentifyPayload binds the connection to a user. Token is required when the
// server enforces authentication; UserID is then optional and must match.
type IdentifyPayload struct {
	UserID string `json:"user_id,omitempty"`
	Token  string `json:"token,omitempty"`
}

type IdentifiedPayload struct {
	ConnectionID string   `json:"connection_id"`
	User         UserInfo `json:"user"`
	OnlineUsers  []string `json:"online_user_ids"`
}

type ChannelRefPayload struct {
	ChannelID string `json:"channel_id"`
}

type SendMessagePayload struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name"`
}

type NewMessagePayload struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	Author    UserInfo  `json:"author"`
}

type PresenceChangedPayload struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// TypingPayload is sent by clients (channel only) and echoed by the server as
// user-typing with the sender identity and an expiry hint filled in.
type TypingPayload struct {
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	ExpiresInMS int64  `json:"expires_in_ms,omitempty"`
}

type StopTypingPayload struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RefID   string `json:"ref_id,omitempty"`
}
