// Package api is the REST client for the drop server. Calls are
// fire-to-completion: transport failures are reported, never retried
// here — the only retry layer in this client is the push channel's
// reconnect.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dropwatch/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Client talks to the server's /api surface.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient returns a client rooted at baseURL (without the /api prefix).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.http.Timeout = d
}

// SetToken attaches a bearer token to subsequent requests. Token storage
// across reloads belongs to the auth collaborator; the client only
// carries what it is given.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken drops the bearer token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// envelope is the server's response wrapper: {"message": ..., "data": ...}.
type envelope struct {
	Message string          `json:"message,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(respBody) > 0 {
		// Tolerate non-JSON bodies on errors; the status code still
		// classifies them.
		_ = json.Unmarshal(respBody, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Status:  resp.StatusCode,
			Message: env.Message,
			Reason:  classify(resp.StatusCode, env.Reason, env.Message),
		}
		log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("reason", string(apiErr.Reason)).
			Msg("api request failed")
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// FetchDrops returns the full drop list in server order.
func (c *Client) FetchDrops(ctx context.Context) ([]domain.Drop, error) {
	var data struct {
		Drops []domain.Drop `json:"drops"`
	}
	if err := c.do(ctx, http.MethodGet, "/drops", nil, &data); err != nil {
		return nil, err
	}
	return data.Drops, nil
}

// FetchDrop returns a single drop.
func (c *Client) FetchDrop(ctx context.Context, id string) (domain.Drop, error) {
	var data struct {
		Drop domain.Drop `json:"drop"`
	}
	if err := c.do(ctx, http.MethodGet, "/drops/"+url.PathEscape(id), nil, &data); err != nil {
		return domain.Drop{}, err
	}
	return data.Drop, nil
}

// FetchUserReservations returns the viewer's reservations, optionally
// filtered by status.
func (c *Client) FetchUserReservations(ctx context.Context, status string) ([]domain.Reservation, error) {
	path := "/reservations/user"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var data struct {
		Reservations []domain.Reservation `json:"reservations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Reservations, nil
}

// CreateReservation places a hold on one unit of a drop.
func (c *Client) CreateReservation(ctx context.Context, dropID string) (domain.Reservation, error) {
	var data struct {
		Reservation domain.Reservation `json:"reservation"`
	}
	body := map[string]string{"dropId": dropID}
	if err := c.do(ctx, http.MethodPost, "/reservations", body, &data); err != nil {
		return domain.Reservation{}, err
	}
	return data.Reservation, nil
}

// CancelReservation releases a hold.
func (c *Client) CancelReservation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/reservations/"+url.PathEscape(id), nil, nil)
}

// CompletePurchase converts a reservation into a purchase.
func (c *Client) CompletePurchase(ctx context.Context, reservationID string) (domain.Purchase, error) {
	var data struct {
		Purchase domain.Purchase `json:"purchase"`
	}
	body := map[string]string{"reservationId": reservationID}
	if err := c.do(ctx, http.MethodPost, "/purchases", body, &data); err != nil {
		return domain.Purchase{}, err
	}
	return data.Purchase, nil
}

// FetchDropPurchases returns the most recent purchases of a drop, for the
// recent-buyer feed.
func (c *Client) FetchDropPurchases(ctx context.Context, dropID string, limit int) ([]domain.Purchase, error) {
	path := "/purchases/drop/" + url.PathEscape(dropID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var data struct {
		Purchases []domain.Purchase `json:"purchases"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Purchases, nil
}

// Session is the auth response: the user plus a bearer token.
type Session struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// Login authenticates and installs the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/users/login", body, &s); err != nil {
		return Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

// Register creates an account and installs the returned token.
func (c *Client) Register(ctx context.Context, username, email, password string) (Session, error) {
	var s Session
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/users/register", body, &s); err != nil {
		return Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

// Profile returns the authenticated viewer.
func (c *Client) Profile(ctx context.Context) (domain.User, error) {
	var data struct {
		User domain.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/profile", nil, &data); err != nil {
		return domain.User{}, err
	}
	return data.User, nil
}
