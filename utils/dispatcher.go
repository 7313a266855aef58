package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/badoux/checkmail"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadflow/models"
)

// SendInput describes one message to dispatch. Subject and Body override
// the template when set; TemplateID may be nil for ad hoc sends.
type SendInput struct {
	LeadID     uint
	Channel    string
	TemplateID *uint
	Subject    string
	Body       string

	// A/B attribution tag, stamped onto the created message.
	ABKey   string
	Variant string

	// Set when the send originates from a sequence run.
	SequenceRunID *uint
	StepNumber    *int
}

// Dispatcher renders and sends one message per call through the channel's
// Sender capability, recording a Message row for every attempt that passes
// the contact precondition.
type Dispatcher struct {
	DB      *gorm.DB
	Email   Sender
	SMS     Sender
	BaseURL string
	Timeout time.Duration
}

func NewDispatcher(db *gorm.DB, email, sms Sender, baseURL string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		DB:      db,
		Email:   email,
		SMS:     sms,
		BaseURL: baseURL,
		Timeout: timeout,
	}
}

// Send dispatches one message to the lead. On transport failure the
// created Message carries status=failed and the error text, and a
// TransportFailureError is returned alongside it; retry policy belongs to
// the provider, not here.
func (d *Dispatcher) Send(input SendInput) (*models.Message, error) {
	if !models.ValidChannel(input.Channel) {
		return nil, fmt.Errorf("unknown channel: %s", input.Channel)
	}

	var lead models.Lead
	if err := d.DB.First(&lead, input.LeadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	to, err := d.contactFor(&lead, input.Channel)
	if err != nil {
		return nil, err
	}

	subject, body := input.Subject, input.Body
	if input.TemplateID != nil {
		var tmpl models.Template
		if err := d.DB.First(&tmpl, *input.TemplateID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if body == "" {
			body = tmpl.Body
		}
		if subject == "" {
			subject = tmpl.Subject
		}
	}

	vars := LeadVars(&lead)
	subject = Render(subject, vars)
	body = Render(body, vars)

	token := NewTrackToken()
	if input.Channel == models.ChannelEmail {
		body = InjectTracking(body, d.BaseURL, token)
	}

	message := models.Message{
		LeadID:        lead.ID,
		TemplateID:    input.TemplateID,
		Channel:       input.Channel,
		Subject:       subject,
		BodyRendered:  body,
		Status:        models.MessageStatusPending,
		TrackToken:    token,
		ABKey:         input.ABKey,
		Variant:       input.Variant,
		SequenceRunID: input.SequenceRunID,
		StepNumber:    input.StepNumber,
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	sendErr := d.senderFor(input.Channel).Send(ctx, OutboundMessage{
		To:      to,
		Subject: subject,
		Body:    body,
	})

	now := time.Now()
	if sendErr != nil {
		message.Status = models.MessageStatusFailed
		message.Error = sendErr.Error()
	} else {
		message.Status = models.MessageStatusSent
		message.SentAt = &now
	}

	if err := d.DB.Create(&message).Error; err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"lead_id":    lead.ID,
		"channel":    input.Channel,
		"message_id": message.ID,
	})

	if sendErr != nil {
		log.WithError(sendErr).Warn("message dispatch failed")
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("channel", input.Channel)
			scope.SetExtra("message_id", message.ID)
			sentry.CaptureException(sendErr)
		})
		return &message, &TransportFailureError{Channel: input.Channel, Err: sendErr}
	}

	log.Info("message dispatched")

	activity := models.LeadActivity{
		LeadID:       lead.ID,
		ActivityType: models.ActivityMessageSent,
		ActivityAt:   now,
		Details:      fmt.Sprintf(`{"message_id":%d,"channel":%q}`, message.ID, input.Channel),
	}
	if err := d.DB.Create(&activity).Error; err != nil {
		log.WithError(err).Warn("failed to record lead activity")
	}

	return &message, nil
}

// contactFor enforces the channel's contact precondition before anything
// is rendered or persisted.
func (d *Dispatcher) contactFor(lead *models.Lead, channel string) (string, error) {
	switch channel {
	case models.ChannelEmail:
		if lead.Email == "" {
			return "", &MissingContactInfoError{Channel: channel, Field: "email"}
		}
		if err := checkmail.ValidateFormat(lead.Email); err != nil {
			return "", &MissingContactInfoError{Channel: channel, Field: "email"}
		}
		return lead.Email, nil
	case models.ChannelSMS:
		if lead.Phone == "" {
			return "", &MissingContactInfoError{Channel: channel, Field: "phone"}
		}
		return lead.Phone, nil
	default:
		// Send rejects unknown channels before reaching here.
		return "", fmt.Errorf("unknown channel: %s", channel)
	}
}

func (d *Dispatcher) senderFor(channel string) Sender {
	if channel == models.ChannelSMS {
		return d.SMS
	}
	return d.Email
}
