// Package booking talks to the booking service, which owns sessions, issues
// call credentials and records the session lifecycle.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/counselhub/room-server-go/internal/errors"
	"github.com/counselhub/room-server-go/internal/model"
)

const maxErrorBody = 4 << 10

type Client struct {
	baseURL string
	client  *http.Client
	token   string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithBearer returns a copy of the client that authenticates as the given
// end user. The copy shares the underlying HTTP client.
func (c *Client) WithBearer(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) GetSession(ctx context.Context, reservationID string) (*model.Session, error) {
	var session model.Session
	path := "/reservations/" + url.PathEscape(reservationID) + "/session"
	if err := c.do(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// FetchSessionToken issues customer-side call credentials.
func (c *Client) FetchSessionToken(ctx context.Context, reservationID string) (*model.CallCredentials, error) {
	var creds model.CallCredentials
	path := "/reservations/" + url.PathEscape(reservationID) + "/call-token"
	if err := c.do(ctx, http.MethodPost, path, nil, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// FetchCounselorSessionToken issues counselor-side call credentials.
func (c *Client) FetchCounselorSessionToken(ctx context.Context, reservationID string) (*model.CallCredentials, error) {
	var creds model.CallCredentials
	path := "/counselor/reservations/" + url.PathEscape(reservationID) + "/call-token"
	if err := c.do(ctx, http.MethodPost, path, nil, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// FetchCredentials picks the credential endpoint for the role.
func (c *Client) FetchCredentials(ctx context.Context, role model.Role, reservationID string) (*model.CallCredentials, error) {
	if role == model.RoleCounselor {
		return c.FetchCounselorSessionToken(ctx, reservationID)
	}
	return c.FetchSessionToken(ctx, reservationID)
}

type endSessionRequest struct {
	Reason model.EndReason `json:"reason"`
}

func (c *Client) EndSession(ctx context.Context, sessionID string, reason model.EndReason) error {
	path := "/sessions/" + url.PathEscape(sessionID) + "/end"
	return c.do(ctx, http.MethodPost, path, endSessionRequest{Reason: reason}, nil)
}

func (c *Client) GetNextConsecutiveBooking(ctx context.Context, sessionID string) (*model.NextBooking, error) {
	var next model.NextBooking
	path := "/sessions/" + url.PathEscape(sessionID) + "/next-consecutive"
	if err := c.do(ctx, http.MethodGet, path, nil, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (c *Client) ExtendSession(ctx context.Context, params model.ExtendSessionParams) (*model.Extension, error) {
	var ext model.Extension
	path := "/sessions/" + url.PathEscape(params.SessionID) + "/extend"
	if err := c.do(ctx, http.MethodPost, path, params, &ext); err != nil {
		return nil, err
	}
	return &ext, nil
}

func (c *Client) MarkOperatorReady(ctx context.Context, sessionID string) error {
	path := "/sessions/" + url.PathEscape(sessionID) + "/operator-ready"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("booking API request error")
		return apperrors.External("booking API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("booking API request failed")
		return statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("booking API request successful")

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.External("booking API", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(status int, body string) error {
	switch status {
	case http.StatusUnauthorized:
		return apperrors.Unauthorized("Booking service rejected the credentials")
	case http.StatusForbidden:
		return apperrors.Forbidden("Not allowed to access this reservation")
	case http.StatusNotFound:
		return apperrors.NotFound("Session")
	case http.StatusConflict:
		return apperrors.Conflict("Booking service reported a conflict")
	default:
		return apperrors.External("booking API", fmt.Errorf("status %d: %s", status, body))
	}
}
