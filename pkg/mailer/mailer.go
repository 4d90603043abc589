package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/pkg/config"
)

// Message is a single rendered email.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type personalization struct {
	To []address `json:"to"`
}

// sendRequest follows the SendGrid v3 mail/send body.
type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

// Client delivers email through an HTTP mail provider.
type Client struct {
	http    *resty.Client
	from    address
	enabled bool
	logger  *zap.Logger
}

// New builds a mail client. When mail is disabled Send only logs.
func New(cfg config.MailConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		from:    address{Email: cfg.SenderEmail, Name: cfg.SenderName},
		enabled: cfg.Enabled,
		logger:  logger,
	}
}

// Send posts the message to the provider. Any non-2xx answer is an error.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("mail recipient required")
	}
	if !c.enabled {
		c.logger.Info("mail disabled, skipping delivery", zap.String("to", msg.To), zap.String("subject", msg.Subject))
		return nil
	}

	body := sendRequest{
		Personalizations: []personalization{{To: []address{{Email: msg.To, Name: msg.ToName}}}},
		From:             c.from,
		Subject:          msg.Subject,
		Content:          []content{{Type: "text/html", Value: msg.HTML}},
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/v3/mail/send")
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send mail: provider status=%d body=%s", resp.StatusCode(), resp.String())
	}
	return nil
}
