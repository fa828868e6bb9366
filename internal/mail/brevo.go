package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const DefaultBrevoURL = "https://api.brevo.com"

var ErrRejected = errors.New("mail: provider rejected message")

// Party is a sender or recipient in the Brevo payload.
type Party struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type brevoEmail struct {
	Sender      Party             `json:"sender"`
	To          []Party           `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

type brevoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BrevoSender sends transactional mail through the Brevo SMTP API.
type BrevoSender struct {
	http   *resty.Client
	sender Party
	logger *zap.Logger
}

func NewBrevoSender(baseURL, apiKey string, sender Party, logger *zap.Logger) *BrevoSender {
	if baseURL == "" {
		baseURL = DefaultBrevoURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		AddRetryCondition(retryable).
		SetHeader("api-key", apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &BrevoSender{http: client, sender: sender, logger: logger}
}

// retryable allows a resend only when Brevo cannot have accepted the
// message: the connection was never made, or the server failed.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial"
	}
	return resp != nil && resp.StatusCode() >= http.StatusInternalServerError
}

func (s *BrevoSender) Send(ctx context.Context, m Message) error {
	body := brevoEmail{
		Sender:      s.sender,
		To:          []Party{{Name: m.ToName, Email: m.To}},
		Subject:     m.Subject,
		HTMLContent: m.HTML,
	}
	for _, a := range m.Attachments {
		body.Attachment = append(body.Attachment, brevoAttachment{
			Name:    a.Name,
			Content: base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	var apiErr brevoError
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&apiErr).
		Post("/v3/smtp/email")
	if err != nil {
		return fmt.Errorf("brevo send to %s: %w", m.To, err)
	}
	if resp.IsError() {
		s.logger.Error("brevo rejected message",
			zap.String("to", m.To),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("code", apiErr.Code),
			zap.String("msg", apiErr.Message),
		)
		return fmt.Errorf("%w: %d %s", ErrRejected, resp.StatusCode(), apiErr.Message)
	}

	s.logger.Debug("brevo accepted message", zap.String("to", m.To), zap.String("subject", m.Subject))
	return nil
}
