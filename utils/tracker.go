package utils

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"leadflow/models"
)

// EventMeta carries per-hit details stored as JSON on a MessageEvent.
type EventMeta struct {
	URL       string `json:"url,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Tracker records engagement events and answers the point queries the
// sequence worker uses for conditional branching. Events are append-only:
// every pixel or redirect hit becomes its own row, and open_count counts
// rows, not unique openers.
type Tracker struct {
	DB *gorm.DB
}

func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{DB: db}
}

// MessageByToken resolves a tracking token to its message.
func (t *Tracker) MessageByToken(token string) (*models.Message, error) {
	var message models.Message
	if err := t.DB.Where("track_token = ?", token).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &message, nil
}

// RecordOpen appends an open event for the message.
func (t *Tracker) RecordOpen(messageID uint, meta EventMeta) (*models.MessageEvent, error) {
	return t.record(messageID, models.EventOpen, meta)
}

// RecordClick appends a click event carrying the destination URL.
func (t *Tracker) RecordClick(messageID uint, url string, meta EventMeta) (*models.MessageEvent, error) {
	meta.URL = url
	return t.record(messageID, models.EventClick, meta)
}

func (t *Tracker) record(messageID uint, eventType string, meta EventMeta) (*models.MessageEvent, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	event := models.MessageEvent{
		MessageID: messageID,
		Type:      eventType,
		TS:        time.Now(),
		Meta:      string(metaJSON),
	}
	if err := t.DB.Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// HasOpened reports whether any open event exists for the message. Reads
// go straight to the store; the worker's branching must never see stale
// engagement.
func (t *Tracker) HasOpened(messageID uint) (bool, error) {
	return t.hasEvent(messageID, models.EventOpen)
}

// HasClicked reports whether any click event exists for the message.
func (t *Tracker) HasClicked(messageID uint) (bool, error) {
	return t.hasEvent(messageID, models.EventClick)
}

func (t *Tracker) hasEvent(messageID uint, eventType string) (bool, error) {
	var count int64
	err := t.DB.Model(&models.MessageEvent{}).
		Where("message_id = ? AND type = ?", messageID, eventType).
		Count(&count).Error
	return count > 0, err
}

// EventCounts aggregates raw open and click rows for a message.
func (t *Tracker) EventCounts(messageID uint) (opens int64, clicks int64, err error) {
	if err = t.DB.Model(&models.MessageEvent{}).
		Where("message_id = ? AND type = ?", messageID, models.EventOpen).
		Count(&opens).Error; err != nil {
		return
	}
	err = t.DB.Model(&models.MessageEvent{}).
		Where("message_id = ? AND type = ?", messageID, models.EventClick).
		Count(&clicks).Error
	return
}
