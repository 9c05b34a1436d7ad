package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pairlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 5 * time.Second

// credentialResponse is the payload returned by a TURN credential issuer
// (coturn REST API convention: time-limited username/credential pairs).
type credentialResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int      `json:"ttl"`
	URIs     []string `json:"uris"`
}

// CredentialClient fetches short-lived TURN credentials over HTTP.
type CredentialClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewCredentialClient creates a client for a TURN credential issuer endpoint.
func NewCredentialClient(endpoint, apiKey string, timeout time.Duration, logger *zap.SugaredLogger) *CredentialClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &CredentialClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FetchCredentials requests fresh relay credentials from the issuer.
func (c *CredentialClient) FetchCredentials(ctx context.Context) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build credential request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch TURN credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential issuer returned status %d", resp.StatusCode)
	}

	var body credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode credential response: %w", err)
	}
	if len(body.URIs) == 0 {
		return nil, fmt.Errorf("credential issuer returned no TURN URIs")
	}

	c.logger.Debugw("fetched TURN credentials",
		"uris", len(body.URIs),
		"ttl_seconds", body.TTL,
	)

	return []webrtc.ICEServer{
		{
			URLs:       body.URIs,
			Username:   body.Username,
			Credential: body.Password,
		},
	}, nil
}

var _ ports.TURNCredentialProvider = (*CredentialClient)(nil)
