package federation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const facebookGraphURL = "https://graph.facebook.com/v19.0"

// Facebook verifies user access tokens. With app credentials configured the
// token is first checked against the debug_token endpoint (validity, owning
// app, expiry); the profile fetch then proves the token grants access to the
// account. Facebook accounts without an email are rejected outright — there
// is no synthetic fallback for this provider.
type Facebook struct {
	appID     string
	appSecret string
	client    *http.Client

	graphURL string
}

func NewFacebook(appID, appSecret string, client *http.Client) *Facebook {
	return &Facebook{
		appID:     appID,
		appSecret: appSecret,
		client:    client,
		graphURL:  facebookGraphURL,
	}
}

func (f *Facebook) Name() string { return "facebook" }

func (f *Facebook) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if f.appID != "" && f.appSecret != "" {
		if err := f.debugToken(ctx, rawToken); err != nil {
			return nil, err
		}
	}

	var profile struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	endpoint := f.graphURL + "/me?fields=id,name,email,picture&access_token=" + url.QueryEscape(rawToken)
	if err := getJSON(ctx, f.client, endpoint, nil, &profile); err != nil {
		return nil, fmt.Errorf("facebook profile: %w", err)
	}

	if profile.ID == "" {
		return nil, fmt.Errorf("%w: facebook profile missing id", ErrRejected)
	}
	if profile.Email == "" {
		return nil, fmt.Errorf("%w: facebook account has no email", ErrRejected)
	}

	return &Identity{
		Provider:    "facebook",
		Subject:     profile.ID,
		Email:       profile.Email,
		DisplayName: profile.Name,
		AvatarURL:   profile.Picture.Data.URL,
	}, nil
}

func (f *Facebook) debugToken(ctx context.Context, rawToken string) error {
	var result struct {
		Data struct {
			IsValid   bool   `json:"is_valid"`
			AppID     string `json:"app_id"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"data"`
	}

	appToken := f.appID + "|" + f.appSecret
	endpoint := f.graphURL + "/debug_token?input_token=" + url.QueryEscape(rawToken) +
		"&access_token=" + url.QueryEscape(appToken)
	if err := getJSON(ctx, f.client, endpoint, nil, &result); err != nil {
		return fmt.Errorf("facebook debug_token: %w", err)
	}

	if !result.Data.IsValid {
		return fmt.Errorf("%w: facebook token not valid", ErrRejected)
	}
	if result.Data.AppID != f.appID {
		return fmt.Errorf("%w: facebook token issued for app %q", ErrRejected, result.Data.AppID)
	}
	// expires_at = 0 means a non-expiring token; anything else must be in
	// the future.
	if result.Data.ExpiresAt != 0 && time.Now().Unix() >= result.Data.ExpiresAt {
		return fmt.Errorf("%w: facebook token expired", ErrRejected)
	}
	return nil
}
