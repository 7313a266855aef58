package models

import "gorm.io/gorm"

// Message channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// ValidChannel reports whether c is a known delivery channel.
func ValidChannel(c string) bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Template represents a parameterized message body/subject pair.
// Placeholders use {{var}} and {{var|default}} forms and are substituted
// at send time; a sent Message keeps its rendered snapshot, so editing a
// template never rewrites history.
type Template struct {
	gorm.Model

	Channel string `gorm:"not null;index" json:"channel"` // email, sms
	Name    string `gorm:"not null" json:"name"`
	Subject string `json:"subject"` // email only
	Body    string `gorm:"type:text;not null" json:"body"`
}
