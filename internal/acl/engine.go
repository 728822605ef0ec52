// internal/acl/engine.go
package acl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Seats names the two players of an external chess game.
type Seats struct {
	WhitePlayerID   uuid.UUID `json:"whitePlayerId"`
	WhitePlayerName string    `json:"whitePlayerName"`
	BlackPlayerID   uuid.UUID `json:"blackPlayerId"`
	BlackPlayerName string    `json:"blackPlayerName"`
}

// EngineClient talks to the external chess service.
type EngineClient interface {
	// PreregisterGame reserves a game id for two players before the lobby
	// starts.
	PreregisterGame(ctx context.Context, gameID uuid.UUID, seats Seats) error
	// CreateGame creates or activates the game when the lobby starts.
	CreateGame(ctx context.Context, gameID uuid.UUID, seats Seats) error
}

// HTTPEngineClient calls the chess service's REST API.
type HTTPEngineClient struct {
	baseURL string
	client  *http.Client
	maxWait time.Duration
}

var _ EngineClient = (*HTTPEngineClient)(nil)

// NewHTTPEngineClient returns a client for baseURL. Server errors are retried
// with exponential backoff for up to maxWait; zero disables retries.
func NewHTTPEngineClient(baseURL string, timeout, maxWait time.Duration) *HTTPEngineClient {
	return &HTTPEngineClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		maxWait: maxWait,
	}
}

func (c *HTTPEngineClient) PreregisterGame(ctx context.Context, gameID uuid.UUID, seats Seats) error {
	return c.send(ctx, http.MethodPut, gameID, seats)
}

func (c *HTTPEngineClient) CreateGame(ctx context.Context, gameID uuid.UUID, seats Seats) error {
	return c.send(ctx, http.MethodPost, gameID, seats)
}

func (c *HTTPEngineClient) send(ctx context.Context, method string, gameID uuid.UUID, seats Seats) error {
	body, err := json.Marshal(seats)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/games/%s", c.baseURL, gameID)

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if c.maxWait > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = c.maxWait
		bo = exp
	}
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, url, err)
		}
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, bytes.TrimSpace(msg))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, bytes.TrimSpace(msg)))
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
