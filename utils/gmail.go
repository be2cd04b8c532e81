package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gomail "gopkg.in/gomail.v2"

	"inboxpilot/config"
	"inboxpilot/models"
)

// GmailScopes are the OAuth scopes requested at connect time. gmail.modify is
// needed so label changes made here propagate back to the mailbox.
var GmailScopes = []string{
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
}

// Credentials carries a user's decrypted OAuth tokens for a single provider call.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// CredentialsFor decrypts a user's stored tokens
func CredentialsFor(user *models.User) (Credentials, error) {
	access, err := Decrypt(user.AccessToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := Decrypt(user.RefreshToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	creds := Credentials{AccessToken: access, RefreshToken: refresh}
	if user.TokenExpiry != nil {
		creds.Expiry = *user.TokenExpiry
	}
	return creds, nil
}

// WatchInfo is the result of registering a push subscription on a mailbox.
type WatchInfo struct {
	HistoryID  string
	Expiration time.Time
}

// MailProvider abstracts the mailbox backend so workers and controllers can be
// tested against fakes.
type MailProvider interface {
	// FetchNewMessageIDs lists IDs of messages added after startCursor, in
	// arrival order, deduplicated. Returns ErrCursorExpired (wrapped) when
	// the cursor is outside the provider's retention window.
	FetchNewMessageIDs(ctx context.Context, creds Credentials, startCursor string) ([]string, error)

	// ListRecentMessageIDs lists the newest max inbox message IDs. Used to
	// resynchronize after a cursor expires.
	ListRecentMessageIDs(ctx context.Context, creds Credentials, max int64) ([]string, error)

	// GetMessage fetches the full message payload.
	GetMessage(ctx context.Context, creds Credentials, id string) (*gmail.Message, error)

	// SendRaw submits a base64url-encoded RFC 2822 message. A non-empty
	// threadID threads the message into an existing conversation.
	SendRaw(ctx context.Context, creds Credentials, raw, threadID string) (string, error)

	// StartWatch registers (or renews) the push subscription for the mailbox.
	StartWatch(ctx context.Context, creds Credentials) (*WatchInfo, error)
}

// GmailClient implements MailProvider against the Gmail REST API.
type GmailClient struct {
	oauth       *oauth2.Config
	topic       string
	logger      *log.Logger
	callTimeout time.Duration
	maxRetries  int
}

func NewGmailClient(cfg config.OAuthConfig, topic string, logger *log.Logger) *GmailClient {
	return &GmailClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       GmailScopes,
			Endpoint:     google.Endpoint,
		},
		topic:       topic,
		logger:      logger,
		callTimeout: 30 * time.Second,
		maxRetries:  3,
	}
}

// OAuthConfig exposes the underlying oauth2 config for the connect flow.
func (g *GmailClient) OAuthConfig() *oauth2.Config {
	return g.oauth
}

// service builds a per-call Gmail service. The oauth2 client refreshes the
// access token transparently when it has lapsed.
func (g *GmailClient) service(ctx context.Context, creds Credentials) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
		TokenType:    "Bearer",
	}
	httpClient := g.oauth.Client(ctx, token)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

// withRetry runs fn with a bounded per-attempt timeout and capped exponential
// backoff on transient failures.
func (g *GmailClient) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			g.logger.Printf("Retrying %s (attempt %d/%d) after %v: %v", op, attempt, g.maxRetries, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", op, g.maxRetries, lastErr)
}

// classifyProviderError maps Gmail API errors onto our sentinels.
func classifyProviderError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 404:
			// History.List returns 404 when the startHistoryId is too old.
			return fmt.Errorf("%w: %v", ErrCursorExpired, err)
		case 401, 403:
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (g *GmailClient) FetchNewMessageIDs(ctx context.Context, creds Credentials, startCursor string) ([]string, error) {
	startID, err := strconv.ParseUint(startCursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cursor %q", ErrCursorExpired, startCursor)
	}

	var ids []string
	err = g.withRetry(ctx, "history.list", func(ctx context.Context) error {
		svc, err := g.service(ctx, creds)
		if err != nil {
			return err
		}

		ids = ids[:0]
		seen := make(map[string]struct{})
		call := svc.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			MaxResults(100)
		return call.Pages(ctx, func(resp *gmail.ListHistoryResponse) error {
			for _, h := range resp.History {
				for _, added := range h.MessagesAdded {
					if added.Message == nil {
						continue
					}
					id := added.Message.Id
					if _, ok := seen[id]; ok {
						continue
					}
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return ids, nil
}

func (g *GmailClient) ListRecentMessageIDs(ctx context.Context, creds Credentials, max int64) ([]string, error) {
	var ids []string
	err := g.withRetry(ctx, "messages.list", func(ctx context.Context) error {
		svc, err := g.service(ctx, creds)
		if err != nil {
			return err
		}
		resp, err := svc.Users.Messages.List("me").
			IncludeSpamTrash(false).
			MaxResults(max).
			Context(ctx).Do()
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		return nil
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return ids, nil
}

func (g *GmailClient) GetMessage(ctx context.Context, creds Credentials, id string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := g.withRetry(ctx, "messages.get", func(ctx context.Context) error {
		svc, err := g.service(ctx, creds)
		if err != nil {
			return err
		}
		msg, err = svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return msg, nil
}

func (g *GmailClient) SendRaw(ctx context.Context, creds Credentials, raw, threadID string) (string, error) {
	var sentID string
	err := g.withRetry(ctx, "messages.send", func(ctx context.Context) error {
		svc, err := g.service(ctx, creds)
		if err != nil {
			return err
		}
		msg := &gmail.Message{Raw: raw, ThreadId: threadID}
		sent, err := svc.Users.Messages.Send("me", msg).Context(ctx).Do()
		if err != nil {
			return err
		}
		sentID = sent.Id
		return nil
	})
	if err != nil {
		return "", classifyProviderError(err)
	}
	return sentID, nil
}

func (g *GmailClient) StartWatch(ctx context.Context, creds Credentials) (*WatchInfo, error) {
	var info *WatchInfo
	err := g.withRetry(ctx, "watch", func(ctx context.Context) error {
		svc, err := g.service(ctx, creds)
		if err != nil {
			return err
		}
		resp, err := svc.Users.Watch("me", &gmail.WatchRequest{
			TopicName: g.topic,
			LabelIds:  []string{"INBOX"},
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		info = &WatchInfo{
			HistoryID:  strconv.FormatUint(resp.HistoryId, 10),
			Expiration: time.UnixMilli(resp.Expiration),
		}
		return nil
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return info, nil
}

// HeaderValue returns the named header from a message payload, case-insensitively.
func HeaderValue(payload *gmail.MessagePart, name string) string {
	if payload == nil {
		return ""
	}
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ExtractBody walks the MIME tree and returns the message text. All text/plain
// leaves are concatenated in traversal order; if there are none, the first
// text/html part is used instead.
func ExtractBody(payload *gmail.MessagePart) string {
	var plain, html []string
	collectBodyParts(payload, &plain, &html)
	if len(plain) > 0 {
		return strings.Join(plain, "\n")
	}
	if len(html) > 0 {
		return html[0]
	}
	return "(No content)"
}

func collectBodyParts(part *gmail.MessagePart, plain, html *[]string) {
	if part == nil {
		return
	}
	if part.Body != nil && part.Body.Data != "" {
		text := decodeBase64(part.Body.Data)
		switch {
		case part.MimeType == "" || part.MimeType == "text/plain":
			*plain = append(*plain, text)
		case part.MimeType == "text/html":
			*html = append(*html, text)
		}
	}
	for _, child := range part.Parts {
		collectBodyParts(child, plain, html)
	}
}

func decodeBase64(data string) string {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

// ParseReceivedAt parses the RFC 2822 Date header, falling back to now.
func ParseReceivedAt(payload *gmail.MessagePart) time.Time {
	if date := HeaderValue(payload, "Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			return t
		}
	}
	return time.Now()
}

// BuildRawMessage composes an RFC 2822 message and encodes it the way the
// Gmail API expects: base64url without padding.
func BuildRawMessage(to, subject, body string, headers map[string]string) (string, error) {
	m := gomail.NewMessage()
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	for name, value := range headers {
		m.SetHeader(name, value)
	}
	m.SetBody("text/plain", body)

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("failed to compose message: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// ReplyAddress extracts the bare address from a From header like
// `Alice <alice@example.com>`. Headers without angle brackets pass through.
func ReplyAddress(from string) string {
	open := strings.LastIndex(from, "<")
	close := strings.LastIndex(from, ">")
	if open != -1 && close > open+1 {
		return from[open+1 : close]
	}
	return strings.TrimSpace(from)
}

// ReplySubject prefixes "Re: " unless the subject already carries it.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
