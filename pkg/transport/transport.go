package transport

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Transport implementations. NotFound and
// Forbidden are benign for deferred deletions and reactions: the engine
// logs and discards them without retrying.
var (
	ErrNotFound  = errors.New("transport: message not found")
	ErrForbidden = errors.New("transport: insufficient permission")
)

// MentionPolicy controls whether a reply pings the original author.
type MentionPolicy string

const (
	MentionAuthor MentionPolicy = "author"
	MentionNone   MentionPolicy = "none"
)

// Message is an inbound chat message delivered by the host listener.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	// ThreadID is set when the message was posted inside a thread;
	// ChannelID then refers to the thread's parent channel.
	ThreadID    string
	CategoryID  string
	AuthorID    string
	AuthorName  string
	ChannelName string
	GuildName   string
	Content     string
	Bot         bool
	CreatedAt   time.Time
}

// TargetID returns the conversation the message lives in: the thread when
// there is one, otherwise the channel.
func (m Message) TargetID() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return m.ChannelID
}

// Age reports how long ago the message was created.
func (m Message) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// ReplyPayload is a rendered reply. Either Content or Structured is set;
// Structured carries a platform-specific rich payload (embed and the like)
// already decoded from the rule's JSON.
type ReplyPayload struct {
	Content    string
	Structured map[string]interface{}
	Mention    MentionPolicy
	// JumpTo, when set, asks the transport to attach a link to this
	// message in whatever form the platform uses.
	JumpTo *Message
}

// SentMessage identifies a message the transport delivered, so it can be
// scheduled for deletion later.
type SentMessage struct {
	ID        string
	ChannelID string
}

// Transport is the platform collaborator that actually talks to the chat
// service. Implementations live in the host application; everything in
// this module only sees this interface.
type Transport interface {
	// SendReply posts a reply to msg and returns a handle to the sent
	// message.
	SendReply(ctx context.Context, msg Message, payload ReplyPayload) (*SentMessage, error)

	// AddReaction attaches a reaction glyph to the message.
	AddReaction(ctx context.Context, msg Message, glyph string) error

	// DeleteMessage removes a message. Returns ErrNotFound when the
	// message is already gone and ErrForbidden when the bot lacks
	// permission.
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// OldestMessage returns the first message of a channel or thread,
	// used by the bump-to-top action to build a jump link.
	OldestMessage(ctx context.Context, channelID string) (*Message, error)
}
