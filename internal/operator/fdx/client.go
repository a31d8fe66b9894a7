package fdx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/BearBump/TrackHub/internal/auth/tokencache"
)

// Client — wire-клиент fdx: OAuth client-credentials + батчевый track-запрос.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpc        *http.Client
	tokens       *tokencache.Cache
}

func NewClient(baseURL, clientID, clientSecret string) *Client {
	c := &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	c.tokens = tokencache.New(c.fetchToken, 0)
	return c
}

// SetTokenExpiryMargin переопределяет страховой запас токен-кэша.
// Вызывать до первого запроса.
func (c *Client) SetTokenExpiryMargin(margin time.Duration) {
	c.tokens = tokencache.New(c.fetchToken, margin)
}

type oauthReply struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", 0, apperrors.ErrCarrierCredentials.WithDetail("fdx credentials are not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, apperrors.ErrCarrierUnavailable.WithDetail("fdx token request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", 0, apperrors.ErrCarrierUnavailable.WithDetail("fdx token request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", 0, apperrors.ErrCarrierCredentials.WithDetail("fdx rejected credentials (http %d)", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return "", 0, apperrors.ErrCarrierUnavailable.WithDetail("fdx token endpoint http %d", resp.StatusCode)
	}

	var r oauthReply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", 0, apperrors.ErrCarrierUnavailable.WithDetail("fdx token decode: %v", err)
	}
	if r.AccessToken == "" {
		return "", 0, apperrors.ErrCarrierUnavailable.WithDetail("fdx token endpoint returned empty token")
	}
	return r.AccessToken, time.Duration(r.ExpiresIn) * time.Second, nil
}

// Имена полей wire-контракта закреплены за fdx API и не должны меняться.
type trackRequest struct {
	IncludeDetailedScans bool           `json:"includeDetailedScans"`
	TrackingInfo         []trackingInfo `json:"trackingInfo"`
}

type trackingInfo struct {
	TrackingNumberInfo trackingNumberInfo `json:"trackingNumberInfo"`
}

type trackingNumberInfo struct {
	TrackingNumber string `json:"trackingNumber"`
}

type trackReply struct {
	Output struct {
		CompleteTrackResults []completeTrackResult `json:"completeTrackResults"`
	} `json:"output"`
}

type completeTrackResult struct {
	TrackingNumber string        `json:"trackingNumber"`
	TrackResults   []trackResult `json:"trackResults"`
}

type trackResult struct {
	ScanEvents []scanEvent `json:"scanEvents"`
}

type scanEvent struct {
	Date                 string       `json:"date"`
	EventType            string       `json:"eventType"`
	EventDescription     string       `json:"eventDescription"`
	ExceptionCode        string       `json:"exceptionCode"`
	ExceptionDescription string       `json:"exceptionDescription"`
	ScanLocation         scanLocation `json:"scanLocation"`
	LocationType         string       `json:"locationType"`
	DerivedStatusCode    string       `json:"derivedStatusCode"`
}

type scanLocation struct {
	City                string `json:"city"`
	StateOrProvinceCode string `json:"stateOrProvinceCode"`
	CountryCode         string `json:"countryCode"`
}

func (l scanLocation) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.StateOrProvinceCode, l.CountryCode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Track запрашивает до BatchSize треков одним вызовом.
func (c *Client) Track(ctx context.Context, nums []string) (*trackReply, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqBody := trackRequest{IncludeDetailedScans: true}
	for _, n := range nums {
		reqBody.TrackingInfo = append(reqBody.TrackingInfo, trackingInfo{
			TrackingNumberInfo: trackingNumberInfo{TrackingNumber: n},
		})
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("fdx marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/track/v1/trackingnumbers", bytes.NewReader(b))
	if err != nil {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("fdx track request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("fdx track request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Токен отозвали раньше заявленного expiry.
		c.tokens.Invalidate()
		return nil, apperrors.ErrCarrierCredentials.WithDetail("fdx rejected bearer token")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.ErrRouteNotFound.WithDetail("fdx has no data for requested numbers")
	}
	if resp.StatusCode/100 != 2 {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("fdx track endpoint http %d", resp.StatusCode)
	}

	var r trackReply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("fdx track decode: %v", err)
	}
	return &r, nil
}
