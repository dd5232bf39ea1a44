// Package models defines the shared data types exchanged between the
// gateway, the router, the orchestrator, and the persistence layer.
package models

import (
	"strings"
)

// ChannelKind classifies a conversation slot.
type ChannelKind string

const (
	ChannelDM     ChannelKind = "dm"
	ChannelGroup  ChannelKind = "group"
	ChannelServer ChannelKind = "server"
)

// User identifies the human behind a request.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// Label returns the best available human-readable name.
func (u User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

// ChannelRef describes the conversation slot a request belongs to.
type ChannelRef struct {
	ID        string      `json:"id"`
	Type      ChannelKind `json:"type"`
	Name      string      `json:"name,omitempty"`
	GuildName string      `json:"guild_name,omitempty"`
}

// Key returns the router key for this channel on the given platform.
func (c ChannelRef) Key(platform string) string {
	return platform + ":" + c.ID
}

// AttachmentKind is the tagged-variant discriminator for attachments.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentText  AttachmentKind = "text"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a file carried alongside a user message. Images carry
// base64 data and become multimodal input; text attachments carry decoded
// text inline; files are described but otherwise opaque.
type Attachment struct {
	Kind      AttachmentKind `json:"kind"`
	Filename  string         `json:"filename"`
	MediaType string         `json:"media_type,omitempty"`
	Size      int64          `json:"size,omitempty"`

	// Content holds decoded text for text attachments.
	Content string `json:"content,omitempty"`

	// Data holds base64-encoded bytes for image and file attachments.
	Data string `json:"data,omitempty"`
}

// ReplyRef is one entry in a request's reply chain.
type ReplyRef struct {
	Author  string `json:"author"`
	Content string `json:"content"`
	IsBot   bool   `json:"is_bot,omitempty"`
}

// Request is one user-submitted message requiring a response.
type Request struct {
	ID           string            `json:"id"`
	User         User              `json:"user"`
	Channel      ChannelRef        `json:"channel"`
	Content      string            `json:"content"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	ReplyChain   []ReplyRef        `json:"reply_chain,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	TierOverride ModelTier         `json:"tier_override,omitempty"`

	// Platform is the originating adapter's platform tag.
	Platform string `json:"platform,omitempty"`
}

// IsMention reports whether the adapter flagged this message as an
// explicit address of the assistant.
func (r *Request) IsMention() bool {
	return r.Metadata["is_mention"] == "true"
}

// IsVoice reports whether the message originated from a voice adapter.
func (r *Request) IsVoice() bool {
	return r.Metadata["source"] == "voice"
}

// ChannelKey returns the router key for this request's channel.
func (r *Request) ChannelKey() string {
	return r.Channel.Key(r.Platform)
}

// ContextID derives the durable session context for this request:
// dm-<user> for direct messages, channel-<id> otherwise.
func (r *Request) ContextID() string {
	if r.Channel.Type == ChannelDM {
		return "dm-" + r.User.ID
	}
	return "channel-" + r.Channel.ID
}

// AttachmentNames returns the filenames of all attachments, comma-joined.
func (r *Request) AttachmentNames() string {
	names := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		names = append(names, a.Filename)
	}
	return strings.Join(names, ", ")
}
