// Package clazar implements the billing-API collaborator: authentication
// and usage submission against the Clazar metering endpoint.
package clazar

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/meterbridge/meterbridge/internal/config"
	ierr "github.com/meterbridge/meterbridge/internal/errors"
	"github.com/meterbridge/meterbridge/internal/httpclient"
	"github.com/meterbridge/meterbridge/internal/logger"
)

const (
	authEndpoint     = "/authenticate/"
	meteringEndpoint = "/metering/"
)

// Client talks to the billing API. Token refresh policy is the client's
// concern: Authenticate is called once per run before submissions.
type Client interface {
	Authenticate(ctx context.Context) error

	// SubmitPayload posts a previously marshalled metering request body.
	// The caller owns the body bytes so failed payloads can be persisted
	// and replayed verbatim.
	SubmitPayload(ctx context.Context, payload []byte) (*MeteringResponse, error)
}

type client struct {
	baseURL      string
	clientID     string
	clientSecret string
	cloud        string
	dryRun       bool

	token string

	// Submissions go through the plain client: retry policy for them is
	// owned by the submission engine, and transport-level retries would
	// risk double submission accounting. The auth call is idempotent, so
	// it gets transport-level retries via retryablehttp.
	http     httpclient.Client
	authHTTP *retryablehttp.Client

	logger *logger.Logger
}

func NewClient(cfg *config.Configuration, httpClient httpclient.Client, log *logger.Logger) Client {
	authHTTP := retryablehttp.NewClient()
	authHTTP.RetryMax = 4
	authHTTP.RetryWaitMin = time.Second
	authHTTP.RetryWaitMax = 10 * time.Second
	authHTTP.HTTPClient.Timeout = 30 * time.Second
	authHTTP.Logger = nil

	return &client{
		baseURL:      cfg.Clazar.BaseURL,
		clientID:     cfg.Clazar.ClientID,
		clientSecret: cfg.Clazar.ClientSecret,
		cloud:        cfg.Clazar.Cloud,
		dryRun:       cfg.Processor.DryRun,
		http:         httpClient,
		authHTTP:     authHTTP,
		logger:       log,
	}
}

func (c *client) Authenticate(ctx context.Context) error {
	if c.dryRun {
		c.logger.Infow("dry run mode: skipping authentication")
		c.token = "dry_run_token"
		return nil
	}

	if c.clientID == "" || c.clientSecret == "" {
		return ierr.NewError("client id and secret are required for authentication").
			WithHint("Set METERBRIDGE_CLAZAR_CLIENT_ID and METERBRIDGE_CLAZAR_CLIENT_SECRET").
			Mark(ierr.ErrValidation)
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	})
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrSystem)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+authEndpoint, body)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrHTTPClient)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	c.logger.Infow("authenticating with billing api")
	resp, err := c.authHTTP.Do(req)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Network error during authentication").
			Mark(ierr.ErrHTTPClient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrHTTPClient)
	}
	if resp.StatusCode != http.StatusOK {
		return ierr.NewErrorf("authentication failed: %s", string(respBody)).
			WithHint("Check the billing api credentials").
			Mark(ierr.ErrHTTPClient)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.AccessToken == "" {
		return ierr.NewError("no access token received from billing api").
			Mark(ierr.ErrHTTPClient)
	}

	c.token = parsed.AccessToken
	c.logger.Infow("authenticated with billing api")
	return nil
}

func (c *client) SubmitPayload(ctx context.Context, payload []byte) (*MeteringResponse, error) {
	if c.dryRun {
		c.logger.Infow("dry run mode: skipping metering submission",
			"url", c.baseURL+meteringEndpoint,
			"payload", json.RawMessage(payload))
		return dryRunResponse(payload), nil
	}

	if c.token == "" {
		return nil, ierr.NewError("access token is required for sending metering data").
			WithHint("Call Authenticate before submitting usage").
			Mark(ierr.ErrInvalidOperation)
	}

	resp, err := c.http.Send(ctx, &httpclient.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + meteringEndpoint,
		Headers: map[string]string{
			"accept":        "application/json",
			"Authorization": "Bearer " + c.token,
		},
		Body: payload,
	})
	if err != nil {
		return nil, err
	}

	var parsed MeteringResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || !hasResultsField(resp.Body) {
		return nil, ierr.NewError("unexpected response format from billing api").
			WithMessagef("body: %s", string(resp.Body)).
			Mark(ierr.ErrHTTPClient)
	}

	return &parsed, nil
}

func hasResultsField(body []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	_, ok := probe["results"]
	return ok
}

// dryRunResponse fabricates one success result per submitted record.
func dryRunResponse(payload []byte) *MeteringResponse {
	var req MeteringRequest
	count := 1
	if err := json.Unmarshal(bytes.TrimSpace(payload), &req); err == nil && len(req.Request) > 0 {
		count = len(req.Request)
	}

	results := make([]Result, count)
	for i := range results {
		results[i] = Result{Status: "success", Message: "Dry run mode"}
	}
	return &MeteringResponse{Results: results}
}
