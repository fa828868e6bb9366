// Package mail delivers QR artifacts to visitors.
package mail

import (
	"context"

	"go.uber.org/zap"
)

type Attachment struct {
	Name    string
	Content []byte
}

type Message struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender delivers one message.  A nil error means the provider accepted it.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender logs messages instead of sending them.  Used when no provider
// key is configured.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, m Message) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		names = append(names, a.Name)
	}
	logger.Info("mail not sent: no provider configured",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.Strings("attachments", names),
	)
	return nil
}
