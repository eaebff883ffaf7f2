package wordpress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"buddygate/models"
	"buddygate/utils"
)

const memberCacheTTL = 10 * time.Minute

// MemberDirectory resolves BuddyPress member detail for participant ids
// the message payload referenced but did not describe. Lookups are cached
// in memory for the life of the process.
type MemberDirectory struct {
	client *Client
	cache  *utils.MemoryCache
}

// NewMemberDirectory creates a directory backed by the given client.
func NewMemberDirectory(client *Client) *MemberDirectory {
	return &MemberDirectory{
		client: client,
		cache:  utils.NewMemoryCache(),
	}
}

type memberResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// Mention name is a fallback when the display name is empty.
	MentionName string            `json:"mention_name"`
	Avatars     map[string]string `json:"avatar_urls"`
	UserLogin   string            `json:"user_login"`
}

// Lookup returns member detail for the id, or nil when the backend does
// not know the user. Callers fall back to placeholder values on nil.
func (d *MemberDirectory) Lookup(ctx context.Context, userID int) *models.Participant {
	key := fmt.Sprintf("member:%d", userID)
	if cached, ok := d.cache.Get(key); ok {
		if p, ok := cached.(*models.Participant); ok {
			return p
		}
	}

	status, body, err := d.client.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/%d", d.client.cfg.MembersBase, userID), nil)
	if err != nil || status < 200 || status >= 300 {
		return nil
	}

	var resp memberResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == 0 {
		return nil
	}

	name := resp.Name
	if name == "" {
		name = resp.MentionName
	}
	if name == "" {
		name = resp.UserLogin
	}

	participant := &models.Participant{
		UserID:      resp.ID,
		DisplayName: utils.StripHTML(name),
		AvatarThumb: resp.Avatars["thumb"],
		AvatarFull:  resp.Avatars["full"],
	}
	d.cache.Set(key, participant, memberCacheTTL)
	return participant
}

// Me returns the authenticated member's own profile. Used at login to
// learn the caller's user id for counterparty resolution.
func (d *MemberDirectory) Me(ctx context.Context) (*models.Participant, error) {
	status, body, err := d.client.do(ctx, http.MethodGet, d.client.cfg.MembersBase+"/me", nil)
	if err != nil {
		return nil, utils.InternalServerError("Member lookup failed", err)
	}
	if status < 200 || status >= 300 {
		return nil, utils.UnauthorizedError("Could not resolve the signed-in member", nil)
	}

	var resp memberResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == 0 {
		return nil, utils.UnauthorizedError("Unexpected member response", err)
	}

	return &models.Participant{
		UserID:      resp.ID,
		DisplayName: utils.StripHTML(resp.Name),
		AvatarThumb: resp.Avatars["thumb"],
		AvatarFull:  resp.Avatars["full"],
	}, nil
}
