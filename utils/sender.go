package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gopkg.in/gomail.v2"

	"leadflow/config"
)

// OutboundMessage is one rendered message handed to a Sender capability.
type OutboundMessage struct {
	To      string
	Subject string
	Body    string
}

// Sender is the channel-specific transport capability. Implementations
// must respect ctx cancellation; the dispatcher bounds every call with a
// timeout so a slow provider cannot leave a send perpetually pending.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// EmailSender delivers via SMTP.
type EmailSender struct {
	cfg config.SMTPConfig
}

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) Send(ctx context.Context, msg OutboundMessage) error {
	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail))
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)

	// gomail has no context support; run the dial in a goroutine and bail
	// out when the deadline hits. A timed-out send counts as a transport
	// failure even if the provider eventually accepts it.
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.DialAndSend(m)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SMSSender delivers through a generic HTTP SMS provider: a JSON POST with
// a bearer key. Provider URL, key and sender number come from the
// environment so swapping providers needs no code change.
type SMSSender struct {
	cfg    config.SMSConfig
	client *http.Client
}

func NewSMSSender(cfg config.SMSConfig) *SMSSender {
	return &SMSSender{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (s *SMSSender) Send(ctx context.Context, msg OutboundMessage) error {
	payload, err := json.Marshal(map[string]string{
		"to":   msg.To,
		"from": s.cfg.FromNumber,
		"body": msg.Body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ProviderURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms provider returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
