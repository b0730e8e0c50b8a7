package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LogTransport is a Transport that only logs what it would do. It backs
// local development and dry runs, where no chat platform is attached.
type LogTransport struct {
	seq atomic.Int64
}

func NewLogTransport() *LogTransport {
	return &LogTransport{}
}

func (t *LogTransport) SendReply(ctx context.Context, msg Message, payload ReplyPayload) (*SentMessage, error) {
	id := fmt.Sprintf("dry-%d", t.seq.Add(1))
	logrus.WithFields(logrus.Fields{
		"channel": msg.TargetID(),
		"to":      msg.AuthorID,
		"content": payload.Content,
	}).Info("dry run: send reply")
	return &SentMessage{ID: id, ChannelID: msg.TargetID()}, nil
}

func (t *LogTransport) AddReaction(ctx context.Context, msg Message, glyph string) error {
	logrus.Infof("dry run: react %s to message %s", glyph, msg.ID)
	return nil
}

func (t *LogTransport) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	logrus.Infof("dry run: delete message %s in channel %s", messageID, channelID)
	return nil
}

func (t *LogTransport) OldestMessage(ctx context.Context, channelID string) (*Message, error) {
	return &Message{ID: "0", ChannelID: channelID}, nil
}
