package chatapi

import (
	"time"

	"teamchat/cmd/records"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UserID      string `json:"user_id,omitempty"`
}

type membershipRequest struct {
	UserID string `json:"user_id"`
}

type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	IsOnline    bool       `json:"is_online"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type loginResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

type channelResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
}

type authorResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type messageResponse struct {
	ID        string         `json:"id"`
	ChannelID string         `json:"channel_id"`
	UserID    string         `json:"user_id"`
	Content   string         `json:"content"`
	Seq       int64          `json:"seq"`
	CreatedAt time.Time      `json:"created_at"`
	Author    authorResponse `json:"author"`
}

type messagesResponse struct {
	Messages []messageResponse `json:"messages"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type membershipResponse struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Joined    bool   `json:"joined"`
}

func toUserResponse(u records.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		IsOnline:    u.IsOnline,
		LastSeen:    u.LastSeen,
		CreatedAt:   u.CreatedAt,
	}
}

func toChannelResponse(c records.Channel) channelResponse {
	return channelResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
		MemberCount: c.MemberCount,
	}
}

func toMessageResponse(m records.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		UserID:    m.UserID,
		Content:   m.Content,
		Seq:       m.Seq,
		CreatedAt: m.CreatedAt,
		Author: authorResponse{
			ID:          m.Author.ID,
			Email:       m.Author.Email,
			DisplayName: m.Author.DisplayName,
		},
	}
}
