// Package backend talks to the email-generation service: sign-in
// registration, email generation and resume parsing.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.io/infrasutra/jobmail/internal/identity"
)

// ErrUnreachable marks transport-level failures reaching the backend.
var ErrUnreachable = errors.New("backend unreachable")

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
		Logger:     logger,
	}
}

// JobEmailModel is the generated email the backend returns. Field names
// follow the backend's wire format.
type JobEmailModel struct {
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	RecipientMail string `json:"recipient_mail"`
	CompanyName   string `json:"company_name"`
	Location      string `json:"location"`
	TechStack     string `json:"techstack"`
}

type GenerateRequest struct {
	URL         string `json:"url"`
	Message     string `json:"message"`
	Title       string `json:"title"`
	ProfileData string `json:"profile_data"`
	Template    string `json:"template"`
}

type GenerateResult struct {
	Model      *JobEmailModel `json:"model,omitempty"`
	TokenCount *int           `json:"tokenCount,omitempty"`
}

// RegisterAuth posts the signed-in profile to the backend. Some deployments
// answer with their own bearer token; an empty string means none was issued.
func (c *Client) RegisterAuth(ctx context.Context, provider string, profile identity.Profile) (string, error) {
	body, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("encode profile: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/Auth/%s", c.BaseURL, provider)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("register auth: status %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// Not every deployment returns a body here.
		return "", nil
	}
	return result.Token, nil
}

// GenerateEmail posts the captured page data to the mail service. The
// response body is parsed leniently: malformed JSON degrades to an empty
// result instead of failing the request. ok reflects the HTTP status.
func (c *Client) GenerateEmail(ctx context.Context, token, serverURL string, genReq GenerateRequest) (GenerateResult, bool, error) {
	body, err := json.Marshal(genReq)
	if err != nil {
		return GenerateResult{}, false, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(body))
	if err != nil {
		return GenerateResult{}, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return GenerateResult{}, false, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerateResult{}, false, fmt.Errorf("read response: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299

	var result GenerateResult
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			c.Logger.Warn("malformed backend response", "status", resp.StatusCode, "error", err)
			return GenerateResult{}, ok, nil
		}
	}
	return result, ok, nil
}

// ParseResume uploads a resume file and returns the extracted summary.
func (c *Client) ParseResume(ctx context.Context, token, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/parser", &buf)
	if err != nil {
		return "", fmt.Errorf("build parser request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("parse resume: status %d", resp.StatusCode)
	}

	var result struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode parser response: %w", err)
	}
	return result.Summary, nil
}
