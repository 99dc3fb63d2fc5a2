// Package relay routes tagged-action requests from UI and page contexts to
// the identity, dispatch, backend and storage components. It is a pure
// router: all shared state lives in the store and is re-read before every
// mutation, so interleaved requests cannot clobber each other.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/jobmail/internal/backend"
	"github.io/infrasutra/jobmail/internal/dispatch"
	"github.io/infrasutra/jobmail/internal/email"
	"github.io/infrasutra/jobmail/internal/identity"
	"github.io/infrasutra/jobmail/internal/notify"
	"github.io/infrasutra/jobmail/internal/pagination"
	"github.io/infrasutra/jobmail/internal/store"
)

// Identity is the slice of the identity manager the relay uses.
type Identity interface {
	AcquireToken(ctx context.Context, kind store.CredentialKind, interactive bool) (store.Credential, error)
	FetchProfile(ctx context.Context, token string) (identity.Profile, error)
	Logout(ctx context.Context) error
}

// Dispatcher sends a built email through the mail provider.
type Dispatcher interface {
	Send(ctx context.Context, token string, msg email.Message) (dispatch.Result, error)
}

// Backend is the generic email-generation service.
type Backend interface {
	RegisterAuth(ctx context.Context, provider string, profile identity.Profile) (string, error)
	GenerateEmail(ctx context.Context, token, serverURL string, req backend.GenerateRequest) (backend.GenerateResult, bool, error)
	ParseResume(ctx context.Context, token, filename string, data []byte) (string, error)
}

type Relay struct {
	Store      *store.Store
	Identity   Identity
	Dispatcher Dispatcher
	Backend    Backend
	Hub        *notify.Hub
	Logger     *slog.Logger
	Now        func() time.Time
}

func New(st *store.Store, id Identity, dispatcher Dispatcher, be Backend, hub *notify.Hub, logger *slog.Logger) *Relay {
	return &Relay{
		Store:      st,
		Identity:   id,
		Dispatcher: dispatcher,
		Backend:    be,
		Hub:        hub,
		Logger:     logger,
		Now:        time.Now,
	}
}

// Handle routes one request. Every error is converted into a
// {success:false, error} reply and published as a status notification.
func (r *Relay) Handle(ctx context.Context, req Request) Response {
	switch req.Action {
	case "checkAuthStatus":
		return r.checkAuthStatus(ctx)
	case "authenticate":
		return r.authenticate(ctx)
	case "logout":
		return r.logout(ctx)
	case "sendToServer":
		return r.sendToServer(ctx, req)
	case "sendEmailViaGmail":
		return r.sendEmail(ctx, req)
	case "getMailList":
		return r.getMailList(ctx, req)
	case "deleteMail":
		return r.deleteMail(ctx, req)
	case "parseResume":
		return r.parseResume(ctx, req)
	case "getSettings":
		return r.getSettings(ctx)
	case "saveSettings":
		return r.saveSettings(ctx, req)
	default:
		return r.fail(fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func (r *Relay) fail(message string) Response {
	r.Hub.Publish(notify.LevelError, message)
	return Response{Success: false, Error: message}
}

func (r *Relay) checkAuthStatus(ctx context.Context) Response {
	data := map[string]any{"authenticated": false}

	_, err := r.Store.GetCredential(ctx, store.KindGeneral)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Response{Success: true, Data: data}
		}
		return r.fail("unable to read credential store")
	}

	profile, err := r.Store.GetProfile(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Response{Success: true, Data: data}
		}
		return r.fail("unable to read credential store")
	}

	data["authenticated"] = true
	data["userInfo"] = identity.Profile{Email: profile.Email, Name: profile.Name, Picture: profile.Picture}
	return Response{Success: true, Data: data}
}

func (r *Relay) authenticate(ctx context.Context) Response {
	cred, err := r.Identity.AcquireToken(ctx, store.KindGeneral, true)
	if err != nil {
		if errors.Is(err, identity.ErrAuthCancelled) {
			return r.fail("authentication cancelled")
		}
		return r.fail(fmt.Sprintf("authentication failed: %s", err))
	}

	profile, err := r.Identity.FetchProfile(ctx, cred.AccessToken)
	if err != nil {
		return r.fail(fmt.Sprintf("profile fetch failed: %s", err))
	}
	if err := r.Store.SaveProfile(ctx, store.Profile{
		Email:     profile.Email,
		Name:      profile.Name,
		Picture:   profile.Picture,
		UpdatedAt: r.Now(),
	}); err != nil {
		return r.fail("unable to save profile")
	}

	// Registration with the backend is best-effort; sign-in already
	// succeeded locally.
	backendToken, err := r.Backend.RegisterAuth(ctx, "google", profile)
	if err != nil {
		r.Logger.Warn("backend registration failed", "error", err)
		r.Hub.Publish(notify.LevelWarning, "signed in, but backend registration failed")
	} else if backendToken != "" {
		if err := r.Store.SaveCredential(ctx, store.Credential{
			Kind:        store.KindBackend,
			AccessToken: backendToken,
			ObtainedAt:  r.Now(),
			Source:      store.SourceBackend,
		}); err != nil {
			return r.fail("unable to save backend credential")
		}
	}

	r.Hub.Publish(notify.LevelSuccess, fmt.Sprintf("signed in as %s", profile.Email))
	return Response{Success: true, Data: map[string]any{"userInfo": profile}}
}

func (r *Relay) logout(ctx context.Context) Response {
	if err := r.Identity.Logout(ctx); err != nil {
		return r.fail(fmt.Sprintf("logout failed: %s", err))
	}
	r.Hub.Publish(notify.LevelSuccess, "signed out")
	return Response{Success: true, Data: map[string]any{"authenticated": false}}
}

// serverToken returns the bearer token for backend requests: the
// backend-issued credential when one exists, otherwise the stored
// general-purpose Google credential (revalidated if stale, never refreshed
// interactively from here).
func (r *Relay) serverToken(ctx context.Context) (string, error) {
	cred, err := r.Store.GetCredential(ctx, store.KindBackend)
	if err == nil {
		return cred.AccessToken, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	cred, err = r.Identity.AcquireToken(ctx, store.KindGeneral, false)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

func (r *Relay) sendToServer(ctx context.Context, req Request) Response {
	if req.Data == nil {
		return r.fail("missing job data")
	}

	token, err := r.serverToken(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrAuthRequired) || errors.Is(err, identity.ErrTokenExpired) {
			return r.fail("Unauthorized: no valid credential")
		}
		return r.fail(fmt.Sprintf("credential lookup failed: %s", err))
	}

	serverURL := req.ServerURL
	if serverURL == "" {
		if saved, err := r.Store.GetSetting(ctx, store.SettingServerURL); err == nil {
			serverURL = saved
		}
	}
	if serverURL == "" {
		return r.fail("no server URL configured")
	}

	result, ok, err := r.Backend.GenerateEmail(ctx, token, serverURL, backend.GenerateRequest{
		URL:         req.Data.URL,
		Message:     req.Data.Message,
		Title:       req.Data.Title,
		ProfileData: req.Data.ProfileData,
		Template:    req.Data.Template,
	})
	if err != nil {
		return r.fail(fmt.Sprintf("backend unreachable: %s", err))
	}

	if result.TokenCount != nil {
		if err := r.Store.SetSetting(ctx, store.SettingTokenCount, strconv.Itoa(*result.TokenCount)); err != nil {
			r.Logger.Warn("persist token count", "error", err)
		}
	}

	if ok && result.Model != nil {
		job := store.Job{
			ID:             uuid.NewString(),
			Subject:        result.Model.Subject,
			Body:           result.Model.Body,
			RecipientEmail: result.Model.RecipientMail,
			CompanyName:    result.Model.CompanyName,
			Location:       result.Model.Location,
			TechStack:      result.Model.TechStack,
			CreatedAt:      r.Now(),
		}
		if err := r.Store.InsertJob(ctx, job); err != nil {
			return r.fail("unable to save generated email")
		}
	}

	if !ok {
		r.Hub.Publish(notify.LevelError, "email generation failed")
		return Response{Success: false, Data: result, Error: "email generation failed"}
	}
	r.Hub.Publish(notify.LevelSuccess, "email generated")
	return Response{Success: true, Data: result}
}

func (r *Relay) sendEmail(ctx context.Context, req Request) Response {
	if req.EmailData == nil {
		return r.fail("missing email data")
	}

	// Mail sending needs the elevated Gmail scope, so the grant is always
	// interactive and uses the mail credential, not the general one.
	cred, err := r.Identity.AcquireToken(ctx, store.KindMail, true)
	if err != nil {
		if errors.Is(err, identity.ErrAuthCancelled) {
			return r.fail("authentication cancelled")
		}
		return r.fail(fmt.Sprintf("mail authentication failed: %s", err))
	}

	attachments, warnings := email.DecodeAttachments(req.EmailData.Attachments)
	for _, warning := range warnings {
		r.Logger.Warn("attachment dropped", "reason", warning)
		r.Hub.Publish(notify.LevelWarning, warning)
	}

	msg := email.Message{
		To:          req.EmailData.To,
		Subject:     req.EmailData.Subject,
		Body:        req.EmailData.Body,
		HTML:        req.EmailData.IsHTML,
		Attachments: attachments,
	}

	result, err := r.Dispatcher.Send(ctx, cred.AccessToken, msg)
	if err != nil {
		var rejected *dispatch.RejectedError
		if errors.As(err, &rejected) {
			return r.fail(fmt.Sprintf("send rejected: %s", rejected.Reason))
		}
		return r.fail(fmt.Sprintf("send failed: %s", err))
	}

	data := map[string]any{
		"messageId": string(result.MessageID),
		"threadId":  result.ThreadID,
	}
	if result.Echo != nil {
		data["confirmation"] = result.Echo
	}
	if len(warnings) > 0 {
		data["warnings"] = warnings
	}

	r.Hub.Publish(notify.LevelSuccess, "email sent")
	return Response{Success: true, Data: data}
}

func (r *Relay) getMailList(ctx context.Context, req Request) Response {
	params := pagination.Normalize(req.Page, req.Limit)

	jobs, total, err := r.Store.ListJobs(ctx, params.Offset, params.Limit)
	if err != nil {
		return r.fail("unable to list mail records")
	}
	if jobs == nil {
		jobs = []store.Job{}
	}

	mails := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		mails = append(mails, map[string]any{
			"id":             job.ID,
			"subject":        job.Subject,
			"body":           job.Body,
			"recipient_mail": job.RecipientEmail,
			"company_name":   job.CompanyName,
			"location":       job.Location,
			"techstack":      job.TechStack,
			"createdAt":      job.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return Response{Success: true, Data: map[string]any{
		"mails":   mails,
		"total":   total,
		"page":    params.Page,
		"limit":   params.Limit,
		"hasMore": pagination.HasNext(params.Offset, params.Limit, total),
	}}
}

func (r *Relay) deleteMail(ctx context.Context, req Request) Response {
	if req.MailID == "" {
		return r.fail("missing mail id")
	}
	deleted, err := r.Store.DeleteJob(ctx, req.MailID)
	if err != nil {
		return r.fail("unable to delete mail record")
	}
	// Deleting an id that is already gone is not an error; the list is
	// simply unchanged.
	return Response{Success: true, Data: map[string]any{"deleted": deleted}}
}

func (r *Relay) parseResume(ctx context.Context, req Request) Response {
	if req.Resume == nil || req.Resume.Data == "" {
		return r.fail("missing resume file")
	}

	token, err := r.serverToken(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrAuthRequired) || errors.Is(err, identity.ErrTokenExpired) {
			return r.fail("Unauthorized: no valid credential")
		}
		return r.fail(fmt.Sprintf("credential lookup failed: %s", err))
	}

	data, err := base64.StdEncoding.DecodeString(req.Resume.Data)
	if err != nil {
		return r.fail("invalid resume file data")
	}

	summary, err := r.Backend.ParseResume(ctx, token, req.Resume.FileName, data)
	if err != nil {
		return r.fail(fmt.Sprintf("resume parsing failed: %s", err))
	}

	if err := r.Store.SetSetting(ctx, store.SettingResumeSummary, summary); err != nil {
		return r.fail("unable to save resume summary")
	}
	if err := r.Store.SetSetting(ctx, store.SettingResumeFileName, req.Resume.FileName); err != nil {
		return r.fail("unable to save resume summary")
	}

	r.Hub.Publish(notify.LevelSuccess, "resume parsed")
	return Response{Success: true, Data: map[string]any{"summary": summary}}
}

func (r *Relay) getSettings(ctx context.Context) Response {
	data := map[string]any{
		"serverUrl": "",
		"template":  "default",
		"devMode":   false,
	}
	if value, err := r.Store.GetSetting(ctx, store.SettingServerURL); err == nil {
		data["serverUrl"] = value
	}
	if value, err := r.Store.GetSetting(ctx, store.SettingTemplate); err == nil {
		data["template"] = value
	}
	if value, err := r.Store.GetSetting(ctx, store.SettingDevMode); err == nil {
		data["devMode"] = value == "true"
	}
	if value, err := r.Store.GetSetting(ctx, store.SettingTokenCount); err == nil {
		if count, err := strconv.Atoi(value); err == nil {
			data["tokenCount"] = count
		}
	}
	if value, err := r.Store.GetSetting(ctx, store.SettingResumeFileName); err == nil {
		data["resumeFileName"] = value
	}
	return Response{Success: true, Data: data}
}

func (r *Relay) saveSettings(ctx context.Context, req Request) Response {
	if req.Settings == nil {
		return r.fail("missing settings")
	}
	if req.Settings.ServerURL != nil {
		if err := r.Store.SetSetting(ctx, store.SettingServerURL, *req.Settings.ServerURL); err != nil {
			return r.fail("unable to save settings")
		}
	}
	if req.Settings.Template != nil {
		if err := r.Store.SetSetting(ctx, store.SettingTemplate, *req.Settings.Template); err != nil {
			return r.fail("unable to save settings")
		}
	}
	if req.Settings.DevMode != nil {
		if err := r.Store.SetSetting(ctx, store.SettingDevMode, strconv.FormatBool(*req.Settings.DevMode)); err != nil {
			return r.fail("unable to save settings")
		}
	}
	return Response{Success: true, Data: map[string]any{"saved": true}}
}
