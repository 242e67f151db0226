// Package lastfm is a client for the scrobbling web API: signed request
// construction using the shared-secret MD5 scheme, the desktop auth flow, and
// the typed error taxonomy the API reports.
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the scrobbling API endpoint.
const DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

// ErrNotAuthenticated is returned when an operation requires a session key
// and none is set.
var ErrNotAuthenticated = errors.New("not authenticated")

// Client talks to the scrobbling API.
type Client struct {
	apiKey     string
	apiSecret  string
	sessionKey string
	baseURL    string
	httpc      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// New creates a client with the given API credentials.
func New(apiKey, apiSecret string, opts ...Option) *Client {
	c := &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   DefaultBaseURL,
		httpc:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSessionKey sets the authenticated session key.
func (c *Client) SetSessionKey(key string) {
	c.sessionKey = key
}

// SessionKey returns the current session key.
func (c *Client) SessionKey() string {
	return c.sessionKey
}

// IsAuthenticated reports whether a session key is set.
func (c *Client) IsAuthenticated() bool {
	return c.sessionKey != ""
}

// AuthURL returns the URL the user must visit to authorize a token.
func (c *Client) AuthURL(token string) string {
	return fmt.Sprintf("https://www.last.fm/api/auth/?api_key=%s&token=%s", c.apiKey, token)
}

// RequestAuthToken fetches an unauthorized token to be approved by the user
// via the out-of-band browser flow.
func (c *Client) RequestAuthToken(ctx context.Context) (string, error) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodGet, "auth.getToken", nil, &payload); err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return payload.Token, nil
}

// ValidateAuthToken exchanges a user-authorized token for a session key.
func (c *Client) ValidateAuthToken(ctx context.Context, token string) (*Session, error) {
	var payload struct {
		Session struct {
			Name       string `json:"name"`
			Key        string `json:"key"`
			Subscriber int    `json:"subscriber"`
		} `json:"session"`
	}
	params := map[string]string{"token": token}
	if err := c.call(ctx, http.MethodPost, "auth.getSession", params, &payload); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &Session{
		Username:   payload.Session.Name,
		Key:        payload.Session.Key,
		Subscriber: payload.Session.Subscriber != 0,
	}, nil
}

// UpdateNowPlaying reports the currently playing track.
func (c *Client) UpdateNowPlaying(ctx context.Context, track TrackInfo) error {
	if !c.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	params := track.params()
	params["sk"] = c.sessionKey
	if err := c.call(ctx, http.MethodPost, "track.updateNowPlaying", params, nil); err != nil {
		return fmt.Errorf("update now playing: %w", err)
	}
	return nil
}

// Scrobble submits a completed play that started at startedAt.
func (c *Client) Scrobble(ctx context.Context, track TrackInfo, startedAt time.Time) (*ScrobbleResult, error) {
	if !c.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	params := track.params()
	params["timestamp"] = strconv.FormatInt(startedAt.Unix(), 10)
	params["sk"] = c.sessionKey

	var payload struct {
		Scrobbles struct {
			Attr struct {
				Ignored  int `json:"ignored"`
				Accepted int `json:"accepted"`
			} `json:"@attr"`
		} `json:"scrobbles"`
	}
	if err := c.call(ctx, http.MethodPost, "track.scrobble", params, &payload); err != nil {
		return nil, fmt.Errorf("scrobble: %w", err)
	}
	return &ScrobbleResult{Ignored: payload.Scrobbles.Attr.Ignored > 0}, nil
}

// params returns the request parameters for the track, omitting every absent
// optional field. The serialization here is the only place that decides
// inclusion, which keeps the signing contract auditable.
func (t TrackInfo) params() map[string]string {
	params := map[string]string{
		"artist": t.Artist,
		"track":  t.Track,
	}
	if t.Album != "" {
		params["album"] = t.Album
	}
	if t.AlbumArtist != "" {
		params["albumArtist"] = t.AlbumArtist
	}
	if t.TrackNumber > 0 {
		params["trackNumber"] = strconv.Itoa(t.TrackNumber)
	}
	if t.Duration > 0 {
		params["duration"] = strconv.Itoa(t.Duration)
	}
	return params
}

// sign computes the request signature: every parameter except the
// transport-only callback and format fields, keys sorted, concatenated as
// key+value with no separator, secret appended, MD5, hex. The remote API
// rejects any deviation.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "callback" || k == "format" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params[k])
	}
	sb.WriteString(c.apiSecret)

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// call performs one signed API request and decodes the response into out.
func (c *Client) call(ctx context.Context, httpMethod, apiMethod string, extra map[string]string, out any) error {
	params := map[string]string{
		"api_key": c.apiKey,
		"method":  apiMethod,
		"format":  "json",
	}
	for k, v := range extra {
		params[k] = v
	}
	params["api_sig"] = c.sign(params)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	var req *http.Request
	var err error
	if httpMethod == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+form.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, httpMethod, c.baseURL, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// The API reports failures in the JSON body; decode before checking the
	// HTTP status so typed codes take precedence over transport errors.
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("response is not a JSON document: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("response is not a JSON object: %s", trimmed)
	}

	var apiErr struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error != 0 {
		return &APIError{Code: apiErr.Error, Message: apiErr.Message}
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("lastfm http error: %s", resp.Status)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
