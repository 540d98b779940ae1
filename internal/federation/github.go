package federation

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

const githubAPIURL = "https://api.github.com"

// GitHub verifies user access tokens by fetching the authenticated user.
// Accounts hiding their email fall back to the emails listing (primary and
// verified preferred, any verified accepted); accounts with no usable email
// at all get GitHub's documented no-reply address so the identity still
// maps deterministically. Suspended accounts are rejected.
type GitHub struct {
	client *http.Client

	apiURL string
}

func NewGitHub(client *http.Client) *GitHub {
	return &GitHub{
		client: client,
		apiURL: githubAPIURL,
	}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	headers := map[string]string{
		"Authorization":        "Bearer " + rawToken,
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}

	var user struct {
		ID          int64   `json:"id"`
		Login       string  `json:"login"`
		Name        string  `json:"name"`
		Email       string  `json:"email"`
		AvatarURL   string  `json:"avatar_url"`
		SuspendedAt *string `json:"suspended_at"`
	}
	if err := getJSON(ctx, g.client, g.apiURL+"/user", headers, &user); err != nil {
		return nil, fmt.Errorf("github user: %w", err)
	}

	if user.ID == 0 || user.Login == "" {
		return nil, fmt.Errorf("%w: github user response incomplete", ErrRejected)
	}
	if user.SuspendedAt != nil && *user.SuspendedAt != "" {
		return nil, fmt.Errorf("%w: github account suspended", ErrRejected)
	}

	email := user.Email
	if email == "" {
		email = g.lookupEmail(ctx, headers)
	}
	if email == "" {
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", user.ID, user.Login)
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &Identity{
		Provider:    "github",
		Subject:     strconv.FormatInt(user.ID, 10),
		Email:       email,
		DisplayName: name,
		AvatarURL:   user.AvatarURL,
	}, nil
}

// lookupEmail returns the primary verified email, else any verified email,
// else "". Failures here are not fatal: the no-reply synthesis covers them.
func (g *GitHub) lookupEmail(ctx context.Context, headers map[string]string) string {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, g.client, g.apiURL+"/user/emails", headers, &emails); err != nil {
		return ""
	}

	anyVerified := ""
	for _, e := range emails {
		if !e.Verified || e.Email == "" {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if anyVerified == "" {
			anyVerified = e.Email
		}
	}
	return anyVerified
}
