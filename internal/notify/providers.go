package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	ChannelLine  = "line"
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

const lineDefaultEndpoint = "https://api.line.me/v2/bot/message/push"

type Provider interface {
	Send(ctx context.Context, message, recipient string) error
}

// ProviderConfig carries the credentials for every supported provider kind.
type ProviderConfig struct {
	LineChannelToken  string
	LineEndpoint      string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	EmailSubject      string
	WebhookURL        string
	WebhookToken      string
}

// NewProvider builds the provider named by kind for a channel. Unknown kinds
// and kinds missing credentials fall back to logging.
func NewProvider(kind, channel string, cfg ProviderConfig, logger zerolog.Logger) Provider {
	fallback := logProvider{channel: channel, logger: logger}
	switch kind {
	case "", "stub", "log":
		return fallback
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "line":
		if cfg.LineChannelToken == "" {
			logger.Warn().Str("channel", channel).Msg("LINE_CHANNEL_TOKEN missing, logging instead")
			return fallback
		}
		endpoint := cfg.LineEndpoint
		if endpoint == "" {
			endpoint = lineDefaultEndpoint
		}
		return lineProvider{endpoint: endpoint, token: cfg.LineChannelToken, client: &http.Client{Timeout: 5 * time.Second}}
	case "twilio":
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
			logger.Warn().Str("channel", channel).Msg("twilio credentials missing, logging instead")
			return fallback
		}
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username:   cfg.TwilioAccountSID,
			Password:   cfg.TwilioAuthToken,
			AccountSid: cfg.TwilioAccountSID,
		})
		return twilioProvider{client: client, from: cfg.TwilioFromNumber}
	case "sendgrid":
		if cfg.SendGridAPIKey == "" || cfg.SendGridFromEmail == "" {
			logger.Warn().Str("channel", channel).Msg("sendgrid credentials missing, logging instead")
			return fallback
		}
		subject := cfg.EmailSubject
		if subject == "" {
			subject = "ご予約のお知らせ"
		}
		return sendgridProvider{
			client:  sendgrid.NewSendClient(cfg.SendGridAPIKey),
			from:    mail.NewEmail(cfg.SendGridFromName, cfg.SendGridFromEmail),
			subject: subject,
		}
	case "webhook":
		if cfg.WebhookURL == "" {
			return fallback
		}
		return webhookProvider{channel: channel, url: cfg.WebhookURL, token: cfg.WebhookToken}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{channel: channel, url: kind}
		}
		return fallback
	}
}

type logProvider struct {
	channel string
	logger  zerolog.Logger
}

func (p logProvider) Send(ctx context.Context, message, recipient string) error {
	p.logger.Info().Str("channel", p.channel).Str("recipient", recipient).Str("message", message).Msg("notification")
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message, recipient string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message, recipient string) error {
	return errors.New("provider failure")
}

type lineProvider struct {
	endpoint string
	token    string
	client   *http.Client
}

type lineTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type linePushRequest struct {
	To       string            `json:"to"`
	Messages []lineTextMessage `json:"messages"`
}

func (p lineProvider) Send(ctx context.Context, message, recipient string) error {
	body, err := json.Marshal(linePushRequest{
		To:       recipient,
		Messages: []lineTextMessage{{Type: "text", Text: message}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("line push rejected: status %d", resp.StatusCode)
	}
	return nil
}

type twilioProvider struct {
	client *twilio.RestClient
	from   string
}

func (p twilioProvider) Send(ctx context.Context, message, recipient string) error {
	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(p.from)
	params.SetBody(message)
	if _, err := p.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}

type sendgridProvider struct {
	client  *sendgrid.Client
	from    *mail.Email
	subject string
}

func (p sendgridProvider) Send(ctx context.Context, message, recipient string) error {
	to := mail.NewEmail("", recipient)
	email := mail.NewSingleEmail(p.from, p.subject, to, message, "")
	resp, err := p.client.Send(email)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid rejected email: status %d", resp.StatusCode)
	}
	return nil
}

type webhookProvider struct {
	channel string
	url     string
	token   string
}

func (p webhookProvider) Send(ctx context.Context, message, recipient string) error {
	payload := map[string]string{
		"channel":   p.channel,
		"recipient": recipient,
		"message":   message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request")
	}
	return nil
}
