// Package admin is the client for the reference server's administration
// API, used by action handlers to stage DER controls and tweak server
// behaviour mid-run.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

// Client talks to the admin API. Calls share a circuit breaker so a downed
// reference server fails fast instead of stalling every action until its
// timeout.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// New builds a Client for the admin API at baseURL. apiKey may be empty when
// the admin API is unauthenticated.
func New(baseURL, apiKey string, log *slog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing admin URL: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "admin-api",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("admin API circuit state changed", "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		base:    base,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: breaker,
		log:     log,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encoding request body: %w", err)
			}
			reader = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("admin API %s %s returned %d", method, path, resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("admin API call: %w", err)
	}
	c.log.Debug("admin API call succeeded", "method", method, "path", path)
	return nil
}

// DERControlRequest stages one DER control.
type DERControlRequest struct {
	GroupID          int64     `json:"groupId"`
	StartTime        time.Time `json:"startTime"`
	DurationSeconds  int       `json:"durationSeconds"`
	ImportLimitW     *float64  `json:"importLimitWatts,omitempty"`
	ExportLimitW     *float64  `json:"exportLimitWatts,omitempty"`
	LoadLimitW       *float64  `json:"loadLimitWatts,omitempty"`
	GenerationLimitW *float64  `json:"generationLimitWatts,omitempty"`
	RandomizeStart   *int      `json:"randomizeStartSeconds,omitempty"`
}

// DefaultControlRequest sets the sitewide default control.
type DefaultControlRequest struct {
	ImportLimitW     *float64 `json:"importLimitWatts,omitempty"`
	ExportLimitW     *float64 `json:"exportLimitWatts,omitempty"`
	LoadLimitW       *float64 `json:"loadLimitWatts,omitempty"`
	GenerationLimitW *float64 `json:"generationLimitWatts,omitempty"`
}

// DERProgramRequest creates a control group with the given primacy.
type DERProgramRequest struct {
	Primacy int `json:"primacy"`
}

// CommsRateRequest adjusts the polling and post rates the server advertises.
type CommsRateRequest struct {
	DcapPollSeconds     *int `json:"dcapPollSeconds,omitempty"`
	EdevListPollSeconds *int `json:"edevListPollSeconds,omitempty"`
	FsaListPollSeconds  *int `json:"fsaListPollSeconds,omitempty"`
	DerpListPollSeconds *int `json:"derpListPollSeconds,omitempty"`
	DercListPollSeconds *int `json:"dercListPollSeconds,omitempty"`
	MupPostSeconds      *int `json:"mupPostSeconds,omitempty"`
}

// RuntimeConfigRequest toggles optional reference-server behaviour.
type RuntimeConfigRequest struct {
	EdevRegistrationLinks *bool `json:"edevRegistrationLinks,omitempty"`
}

// CreateDERControl stages a control under the group in the request.
func (c *Client) CreateDERControl(ctx context.Context, req DERControlRequest) error {
	return c.do(ctx, http.MethodPost, "/control", req)
}

// CreateDERProgram creates a new control group.
func (c *Client) CreateDERProgram(ctx context.Context, req DERProgramRequest) error {
	return c.do(ctx, http.MethodPost, "/control-group", req)
}

// SetDefaultDERControl replaces the default control.
func (c *Client) SetDefaultDERControl(ctx context.Context, req DefaultControlRequest) error {
	return c.do(ctx, http.MethodPost, "/control-default", req)
}

// CancelActiveDERControls withdraws every control that is currently active.
func (c *Client) CancelActiveDERControls(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/control/active", nil)
}

// SetCommsRate adjusts the advertised polling rates.
func (c *Client) SetCommsRate(ctx context.Context, req CommsRateRequest) error {
	return c.do(ctx, http.MethodPost, "/config/rates", req)
}

// UpdateRuntimeConfig toggles optional server behaviour.
func (c *Client) UpdateRuntimeConfig(ctx context.Context, req RuntimeConfigRequest) error {
	return c.do(ctx, http.MethodPost, "/config", req)
}
