package relay

import (
	"github.io/infrasutra/jobmail/internal/email"
)

// Request is one tagged-action message from a UI or page context. Only the
// fields relevant to the action are populated.
type Request struct {
	Action    string           `json:"action"`
	ServerURL string           `json:"serverUrl,omitempty"`
	Data      *GeneratePayload `json:"data,omitempty"`
	EmailData *EmailPayload    `json:"emailData,omitempty"`
	MailID    string           `json:"mailId,omitempty"`
	Page      int32            `json:"page,omitempty"`
	Limit     int32            `json:"limit,omitempty"`
	Resume    *ResumePayload   `json:"resume,omitempty"`
	Settings  *SettingsPayload `json:"settings,omitempty"`
}

// Response is the uniform asynchronous reply: success plus either data or
// an error message. Errors never escape the relay as panics or crashes.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GeneratePayload is the captured page context forwarded to the backend.
type GeneratePayload struct {
	URL         string `json:"url"`
	Message     string `json:"message"`
	Title       string `json:"title"`
	ProfileData string `json:"profile_data"`
	Template    string `json:"template"`
}

// EmailPayload describes one email to send through the mail provider.
type EmailPayload struct {
	To          string                 `json:"to"`
	Subject     string                 `json:"subject"`
	Body        string                 `json:"body"`
	IsHTML      bool                   `json:"isHtml"`
	Attachments []email.WireAttachment `json:"attachments,omitempty"`
}

// ResumePayload carries an uploaded resume file, base64-encoded.
type ResumePayload struct {
	FileName string `json:"fileName"`
	Data     string `json:"data"`
}

// SettingsPayload updates user settings; nil fields are left untouched.
type SettingsPayload struct {
	ServerURL *string `json:"serverUrl,omitempty"`
	Template  *string `json:"template,omitempty"`
	DevMode   *bool   `json:"devMode,omitempty"`
}
