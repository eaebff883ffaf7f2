package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrExhausted is returned when every candidate for an operation has
// failed. Read operations degrade this to an empty result; the send path
// turns it into a user-visible delivery failure.
var ErrExhausted = errors.New("all endpoint candidates failed")

// Candidate is one concrete endpoint attempt for a logical operation.
// The backend flavor (Better Messages vs legacy BuddyPress) is not
// discoverable up front, so each operation carries an ordered list of
// these and the resolver probes them until one succeeds.
type Candidate struct {
	Name    string
	Method  string
	URL     string
	Payload interface{}
	// Accept decides whether a 2xx body is an interpretable result for
	// this operation. A nil Accept accepts any valid JSON body.
	Accept func(body []byte) bool
}

// Resolve tries each candidate strictly in order and returns the first
// accepted body along with the winning candidate's name. Candidates after
// the first success are never invoked. Non-2xx statuses, transport
// errors and unacceptable bodies all mean "try the next one".
func (c *Client) Resolve(ctx context.Context, op string, candidates []Candidate) ([]byte, string, error) {
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		status, body, err := c.do(ctx, cand.Method, cand.URL, cand.Payload)
		if err != nil {
			c.logger.Debug("candidate %s/%s transport error: %v", op, cand.Name, err)
			continue
		}
		if status < 200 || status >= 300 {
			c.logger.Debug("candidate %s/%s returned status %d", op, cand.Name, status)
			continue
		}
		if !acceptable(body, cand.Accept) {
			c.logger.Debug("candidate %s/%s returned uninterpretable body", op, cand.Name)
			continue
		}

		c.logger.Debug("operation %s resolved by candidate %s", op, cand.Name)
		return body, cand.Name, nil
	}

	return nil, "", fmt.Errorf("%s: %w", op, ErrExhausted)
}

// acceptable applies the candidate's Accept check. Candidates without
// one (the write operations) accept any 2xx regardless of body; read
// candidates additionally require a parseable, interpretable body.
func acceptable(body []byte, accept func([]byte) bool) bool {
	if accept == nil {
		return true
	}
	if !json.Valid(bytes.TrimSpace(body)) {
		return false
	}
	return accept(body)
}

// HasRecords accepts bodies that contain at least one record in any of
// the shapes the normalizers understand: a non-empty array, or an object
// whose threads/messages/data entry is a non-empty array.
func HasRecords(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}

	if trimmed[0] == '[' {
		var arr []json.RawMessage
		return json.Unmarshal(trimmed, &arr) == nil && len(arr) > 0
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return false
	}
	for _, key := range []string{"threads", "messages", "data", "recipients"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var arr []json.RawMessage
		if json.Unmarshal(raw, &arr) == nil && len(arr) > 0 {
			return true
		}
	}
	// A bare thread or message object still counts as one record.
	_, hasID := obj["id"]
	_, hasThreadID := obj["thread_id"]
	return hasID || hasThreadID
}

// ListThreadCandidates covers the thread-list operation: the Better
// Messages endpoint first, then the legacy BuddyPress messages index.
func (c *Client) ListThreadCandidates() []Candidate {
	return []Candidate{
		{
			Name:   "modern-threads",
			Method: http.MethodGet,
			URL:    c.cfg.ModernBase + "/threads",
			Accept: HasRecords,
		},
		{
			Name:   "legacy-messages",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/messages?per_page=%d&type=all", c.cfg.LegacyBase, c.cfg.PerPage),
			Accept: HasRecords,
		},
	}
}

// ModernConversationCandidates covers the per-thread fetch against the
// Better Messages API. Order matters: later candidates are only tried
// after the prior one definitively fails.
func (c *Client) ModernConversationCandidates(threadID int) []Candidate {
	base := c.cfg.ModernBase
	return []Candidate{
		{
			Name:   "thread-messages",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/thread/%d/messages", base, threadID),
			Accept: HasRecords,
		},
		{
			Name:   "thread-include-messages",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/thread/%d?include_messages=true", base, threadID),
			Accept: HasRecords,
		},
		{
			Name:   "thread-bare",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/thread/%d", base, threadID),
			Accept: HasRecords,
		},
		{
			Name:   "messages-by-thread",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/messages?thread_id=%d", base, threadID),
			Accept: HasRecords,
		},
		{
			Name:   "threads-plural",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/threads/%d/messages", base, threadID),
			Accept: HasRecords,
		},
	}
}

// LegacyConversationCandidates covers the BuddyPress per-thread fetch,
// used after every modern candidate and the list-payload fallback came
// up empty.
func (c *Client) LegacyConversationCandidates(threadID int) []Candidate {
	base := c.cfg.LegacyBase
	return []Candidate{
		{
			Name:   "legacy-thread-view",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/messages/%d?context=view", base, threadID),
			Accept: HasRecords,
		},
		{
			Name:   "legacy-thread-bare",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/messages/%d", base, threadID),
			Accept: HasRecords,
		},
		{
			Name:   "legacy-by-thread-id",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/messages?thread_id=%d", base, threadID),
			Accept: HasRecords,
		},
		{
			Name:   "legacy-include",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/messages?include=%d", base, threadID),
			Accept: HasRecords,
		},
	}
}

// SendCandidates covers the send operation. Payload shapes differ per
// backend generation; the first accepted response wins.
func (c *Client) SendCandidates(threadID, recipientID int, subject, text string) []Candidate {
	return []Candidate{
		{
			Name:    "modern-thread-send",
			Method:  http.MethodPost,
			URL:     fmt.Sprintf("%s/thread/%d/send", c.cfg.ModernBase, threadID),
			Payload: map[string]interface{}{"message": text, "thread_id": threadID},
		},
		{
			Name:   "modern-generic-send",
			Method: http.MethodPost,
			URL:    c.cfg.ModernBase + "/send",
			Payload: map[string]interface{}{
				"message":   text,
				"thread_id": threadID,
				"recipient": recipientID,
			},
		},
		{
			Name:   "legacy-structured",
			Method: http.MethodPost,
			URL:    c.cfg.LegacyBase + "/messages",
			Payload: map[string]interface{}{
				"subject":    subject,
				"message":    text,
				"recipients": []int{recipientID},
				"thread_id":  threadID,
			},
		},
		{
			Name:   "legacy-minimal",
			Method: http.MethodPost,
			URL:    c.cfg.LegacyBase + "/messages",
			Payload: map[string]interface{}{
				"content":    text,
				"recipients": []int{recipientID},
			},
		},
	}
}

// MarkReadCandidates covers the best-effort mark-thread-read operation.
func (c *Client) MarkReadCandidates(threadID int) []Candidate {
	return []Candidate{
		{
			Name:   "modern-thread-read",
			Method: http.MethodPost,
			URL:    fmt.Sprintf("%s/thread/%d/read", c.cfg.ModernBase, threadID),
		},
		{
			Name:    "legacy-thread-read",
			Method:  http.MethodPut,
			URL:     fmt.Sprintf("%s/messages/%d", c.cfg.LegacyBase, threadID),
			Payload: map[string]interface{}{"read": true},
		},
	}
}

// StarCandidates covers starring or unstarring a single message.
func (c *Client) StarCandidates(messageID string, starred bool) []Candidate {
	method := http.MethodPost
	if !starred {
		method = http.MethodDelete
	}
	return []Candidate{
		{
			Name:   "modern-star",
			Method: method,
			URL:    fmt.Sprintf("%s/message/%s/star", c.cfg.ModernBase, messageID),
		},
		{
			Name:   "legacy-starred",
			Method: http.MethodPut,
			URL:    fmt.Sprintf("%s/messages/starred/%s", c.cfg.LegacyBase, messageID),
		},
	}
}
