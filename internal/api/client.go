// Package api is the request/response client for the remote chat service.
// The service follows HTTP status semantics; statuses are mapped onto the
// domain sentinel errors so callers never inspect raw codes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatcore/internal/domain"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// ListConversations fetches the full conversation list, most recently active
// first.
func (c *Client) ListConversations(ctx context.Context) ([]*domain.Conversation, error) {
	var out []*domain.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

type CreateConversationInput struct {
	Type      domain.ConversationType `json:"type"`
	Name      string                  `json:"name,omitempty"`
	MemberIDs []string                `json:"member_ids"`
}

// CreateConversation creates a private or group conversation. The server
// returns the existing record when an identical direct conversation already
// exists.
func (c *Client) CreateConversation(ctx context.Context, in CreateConversationInput) (*domain.Conversation, error) {
	if len(in.MemberIDs) == 0 {
		return nil, fmt.Errorf("create conversation: %w", domain.ErrInvalidInput)
	}
	var out domain.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", in, &out); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &out, nil
}

// History fetches one page of messages for a conversation. The service
// returns newest-first; the page is reversed here so callers always see
// chronological order. An empty before cursor fetches the latest page.
func (c *Client) History(ctx context.Context, conversationID string, limit int, before string) ([]*domain.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var msgs []*domain.Message
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	// Reverse to chronological order (service returns DESC).
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	for _, m := range msgs {
		if m.Delivery == "" {
			m.Delivery = domain.DeliverySent
		}
	}
	return msgs, nil
}

type SendMessageInput struct {
	ConversationID string             `json:"conversation_id"`
	ContentType    domain.ContentType `json:"content_type"`
	Body           string             `json:"body"`
	ClientRef      string             `json:"client_ref,omitempty"`
	Attachments    []Upload           `json:"-"`
}

// Upload is one attachment to send alongside the message body.
type Upload struct {
	Name     string
	MIMEType string
	Content  io.Reader
}

// SendMessage posts a message and returns the canonical persisted record.
// With attachments present the request is multipart, otherwise plain JSON.
func (c *Client) SendMessage(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	if in.ConversationID == "" {
		return nil, fmt.Errorf("send message: %w", domain.ErrInvalidInput)
	}
	path := "/conversations/" + url.PathEscape(in.ConversationID) + "/messages"

	var out domain.Message
	var err error
	if len(in.Attachments) > 0 {
		err = c.doMultipart(ctx, path, in, &out)
	} else {
		err = c.doJSON(ctx, http.MethodPost, path, in, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if out.Delivery == "" {
		out.Delivery = domain.DeliverySent
	}
	return &out, nil
}

// MarkRead acknowledges that the caller has read the conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// DeleteMessage deletes one message, either for the caller only or globally.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string, scope domain.DeleteScope) error {
	path := "/conversations/" + url.PathEscape(conversationID) +
		"/messages/" + url.PathEscape(messageID) +
		"?scope=" + url.QueryEscape(string(scope))
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation for all participants.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) doMultipart(ctx context.Context, path string, in SendMessageInput, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	_ = w.WriteField("conversation_id", in.ConversationID)
	_ = w.WriteField("content_type", string(in.ContentType))
	_ = w.WriteField("body", in.Body)
	if in.ClientRef != "" {
		_ = w.WriteField("client_ref", in.ClientRef)
	}
	for i, att := range in.Attachments {
		part, err := w.CreateFormFile(fmt.Sprintf("file_%d", i), att.Name)
		if err != nil {
			return fmt.Errorf("build multipart: %w", err)
		}
		if _, err := io.Copy(part, att.Content); err != nil {
			return fmt.Errorf("copy attachment %q: %w", att.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Msg("request failed")
		return statusError(resp.StatusCode, body)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	var sentinel error
	switch status {
	case http.StatusUnauthorized:
		sentinel = domain.ErrUnauthorized
	case http.StatusForbidden:
		sentinel = domain.ErrForbidden
	case http.StatusNotFound:
		sentinel = domain.ErrNotFound
	case http.StatusConflict:
		sentinel = domain.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		sentinel = domain.ErrInvalidInput
	default:
		return fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return fmt.Errorf("%s: %w", payload.Detail, sentinel)
	}
	return sentinel
}
