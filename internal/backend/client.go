package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collab-relay/internal/middleware"
	"collab-relay/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// ErrUnauthorized is returned when the backend rejects the bearer token
var ErrUnauthorized = errors.New("backend: unauthorized")

// Client talks to the document backend: access checks, token validation
// and raw CRDT content storage. It holds no state besides the HTTP client.
type Client struct {
	BaseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type validateAccessRequest struct {
	DocumentID string `json:"documentId"`
}

type accessResponse struct {
	HasAccess bool            `json:"hasAccess"`
	UserID    json.RawMessage `json:"userId"`
	Username  string          `json:"username"`
}

type userResponse struct {
	ID       json.RawMessage `json:"id"`
	UserID   json.RawMessage `json:"userId"`
	Username string          `json:"username"`
}

// ValidateDocumentAccess asks whether token may open documentID
func (c *Client) ValidateDocumentAccess(ctx context.Context, token, documentID string) (*models.DocumentAccess, error) {
	ctx, span := middleware.StartSpan(ctx, "Backend.ValidateDocumentAccess",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	reqBody, err := json.Marshal(validateAccessRequest{DocumentID: documentID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/documents/validate-access", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.do(httpReq)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	var access accessResponse
	if err := json.NewDecoder(resp.Body).Decode(&access); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	span.SetAttributes(attribute.Bool("access.granted", access.HasAccess))
	return &models.DocumentAccess{
		HasAccess: access.HasAccess,
		UserID:    rawID(access.UserID),
		Username:  access.Username,
	}, nil
}

// ValidateUserToken resolves the user a bearer token belongs to
func (c *Client) ValidateUserToken(ctx context.Context, token string) (*models.UserIdentity, error) {
	ctx, span := middleware.StartSpan(ctx, "Backend.ValidateUserToken")
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.do(httpReq)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	userID := rawID(user.ID)
	if userID == "" {
		userID = rawID(user.UserID)
	}

	return &models.UserIdentity{Valid: true, UserID: userID, Username: user.Username}, nil
}

// LoadContent fetches the stored CRDT state; an empty body yields nil
func (c *Client) LoadContent(ctx context.Context, documentID, token string) ([]byte, error) {
	ctx, span := middleware.StartSpan(ctx, "Backend.LoadContent",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentURL(documentID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.do(httpReq)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	span.SetAttributes(attribute.Int("content.size", len(body)))
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

// SaveContent stores the full CRDT state of a document
func (c *Client) SaveContent(ctx context.Context, documentID, token string, state []byte) error {
	ctx, span := middleware.StartSpan(ctx, "Backend.SaveContent",
		attribute.String("document.id", documentID),
		attribute.Int("content.size", len(state)),
	)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL(documentID), bytes.NewReader(state))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.do(httpReq)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func (c *Client) contentURL(documentID string) string {
	return c.BaseURL + "/api/documents/" + url.PathEscape(documentID) + "/content"
}

// do sends the request and turns any non-2xx answer into an error
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("backend request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// rawID accepts both numeric and string ids
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
