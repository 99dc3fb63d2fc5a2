package store

import "time"

// CredentialKind distinguishes the logically distinct tokens the relay
// manages: the general-purpose one obtained at sign-in, the elevated
// mail-send one used for the Gmail API, and the backend-issued one.
type CredentialKind string

const (
	KindGeneral CredentialKind = "general"
	KindMail    CredentialKind = "mail"
	KindBackend CredentialKind = "backend"
)

// CredentialSource records who minted a token. Backend-minted tokens cannot
// be probed against the Google userinfo endpoint.
type CredentialSource string

const (
	SourceGoogle  CredentialSource = "google"
	SourceBackend CredentialSource = "backend"
)

type Credential struct {
	Kind        CredentialKind
	AccessToken string
	ObtainedAt  time.Time
	Scopes      []string
	Source      CredentialSource
}

type Profile struct {
	Email     string
	Name      string
	Picture   string
	UpdatedAt time.Time
}

// Job is one generated-email record returned by the backend. The
// outbound_jobs table is the single source of truth for the mail queue.
type Job struct {
	ID             string
	Subject        string
	Body           string
	RecipientEmail string
	CompanyName    string
	Location       string
	TechStack      string
	CreatedAt      time.Time
}

// Setting keys used by the relay.
const (
	SettingServerURL      = "customServerUrl"
	SettingTemplate       = "emailTemplate"
	SettingDevMode        = "devMode"
	SettingResumeSummary  = "resumeSummary"
	SettingResumeFileName = "resumeFileName"
	SettingTokenCount     = "tokenCount"
)
