// Package sheets mirrors operator-facing state into a Google spreadsheet.
// Auth is the service-account JWT bearer grant; each tab is rewritten whole.
package sheets

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenURL = "https://oauth2.googleapis.com/token"
	scope    = "https://www.googleapis.com/auth/spreadsheets"
	apiBase  = "https://sheets.googleapis.com/v4/spreadsheets"

	grantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Client is a minimal Sheets values API client.
type Client struct {
	clientEmail string
	key         *rsa.PrivateKey
	sheetID     string
	httpc       *http.Client
	now         func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient parses the service account's PEM private key up front so a bad
// credential fails at startup, not on the first export.
func NewClient(clientEmail, privateKeyPEM, sheetID string) (*Client, error) {
	block, _ := pem.Decode([]byte(strings.ReplaceAll(privateKeyPEM, `\n`, "\n")))
	if block == nil {
		return nil, errors.New("sheets: private key is not PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("sheets: private key is not RSA")
	}
	return &Client{
		clientEmail: clientEmail,
		key:         key,
		sheetID:     sheetID,
		httpc:       &http.Client{Timeout: 15 * time.Second},
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// accessToken returns a cached bearer token, minting a new one when the old
// is within a minute of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Add(time.Minute).Before(c.tokenExpiry) {
		return c.token, nil
	}

	claims := jwt.MapClaims{
		"iss":   c.clientEmail,
		"scope": scope,
		"aud":   tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sheets: sign assertion: %w", err)
	}

	form := url.Values{"grant_type": {grantType}, "assertion": {assertion}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("sheets: token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sheets: token exchange status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("sheets: token decode: %w", err)
	}

	c.token = body.AccessToken
	c.tokenExpiry = now.Add(time.Duration(body.ExpiresIn) * time.Second)
	return c.token, nil
}

// ClearRange wipes every value in the named range (typically a whole tab).
func (c *Client) ClearRange(ctx context.Context, rng string) error {
	u := fmt.Sprintf("%s/%s/values/%s:clear", apiBase, c.sheetID, url.PathEscape(rng))
	return c.call(ctx, http.MethodPost, u, []byte("{}"))
}

// WriteRows writes rows starting at the top-left of the named range.
func (c *Client) WriteRows(ctx context.Context, rng string, rows [][]any) error {
	payload, err := json.Marshal(map[string]any{
		"range":  rng,
		"values": rows,
	})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW", apiBase, c.sheetID, url.PathEscape(rng))
	return c.call(ctx, http.MethodPut, u, payload)
}

func (c *Client) call(ctx context.Context, method, u string, body []byte) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sheets: %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sheets: %s returned %d", u, resp.StatusCode)
	}
	return nil
}
