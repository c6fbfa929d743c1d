package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the capitalized role name used in exported transcripts.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Message is one turn in a conversation. ID, Role and Timestamp never change
// after the message is appended to a history.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Model       string       `json:"model,omitempty"` // empty for user messages
	Attachments []Attachment `json:"attachments,omitempty"`
}

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
)

// Locator is an addressable reference to attachment bytes. Temporary
// locators hold a resource that must be released exactly once.
type Locator interface {
	URI() string
	Release() error
}

// Attachment references user-supplied media on a pending or sent message.
type Attachment struct {
	Kind        AttachmentKind `json:"kind"`
	Locator     Locator        `json:"-"`
	DisplayName string         `json:"display_name"`
	Payload     []byte         `json:"-"` // owned by the attachment manager until handoff
	MimeType    string         `json:"mime_type,omitempty"`
}

// URI returns the locator address, or "" once the locator has been dropped.
func (a Attachment) URI() string {
	if a.Locator == nil {
		return ""
	}
	return a.Locator.URI()
}
