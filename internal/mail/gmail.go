package mail

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Message is the metadata of one mailbox hit.
type Message struct {
	Date         time.Time
	ID           string
	ThreadID     string
	From         string
	SenderDomain string
	Subject      string
}

// Mailbox runs mailbox searches.
type Mailbox interface {
	Search(ctx context.Context, query string, limit int) ([]Message, error)
}

// GmailMailbox searches the authenticated user's Gmail.
type GmailMailbox struct {
	svc *gmail.Service
}

// NewGmailMailbox creates a mailbox over ts. Extra options are passed to
// the Gmail client.
func NewGmailMailbox(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*GmailMailbox, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &GmailMailbox{svc: svc}, nil
}

// Search lists up to limit messages matching a Gmail query and fetches
// their headers.
func (m *GmailMailbox) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var ids []string
	pageToken := ""
	for len(ids) < limit {
		call := m.svc.Users.Messages.List("me").
			Q(query).
			MaxResults(int64(min(limit-len(ids), 100))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	out := make([]Message, 0, len(ids))
	for _, id := range ids[:min(len(ids), limit)] {
		msg, err := m.svc.Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders("From", "Subject").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
		}
		out = append(out, toMessage(msg))
	}
	return out, nil
}

func toMessage(msg *gmail.Message) Message {
	out := Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Date:     time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		return out
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			out.From = h.Value
			out.SenderDomain = senderDomain(h.Value)
		case "subject":
			out.Subject = strings.TrimSpace(h.Value)
		}
	}
	return out
}

func senderDomain(from string) string {
	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(addr[at+1:], "> "))
}
