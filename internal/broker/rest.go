package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// RESTAdapter talks to a live brokerage backend over HTTP. The backend shape
// is deliberately generic: session create/validate, order submit, positions.
// Write calls are never retried (duplicate fills are worse than a failed
// request); idempotent reads get one retry on timeout.
type RESTAdapter struct {
	mu       sync.Mutex
	status   SessionStatus
	brokerID string
	baseURL  string
	client   *http.Client

	// Session credentials, memory only.
	token string
}

// NewRESTAdapter creates a disconnected adapter for the given backend.
func NewRESTAdapter(brokerID, baseURL string, timeout time.Duration) *RESTAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RESTAdapter{
		status:   StatusDisconnected,
		brokerID: brokerID,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
	}
}

type sessionResponse struct {
	Token string `json:"token"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Connect establishes a backend session. On failure the session lands back
// in DISCONNECTED and the credentials are discarded.
func (r *RESTAdapter) Connect(ctx context.Context, auth AuthData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status = StatusConnecting

	body, _ := json.Marshal(map[string]string{
		"api_key":    auth.APIKey,
		"api_secret": auth.APISecret,
	})
	var resp sessionResponse
	if err := r.do(ctx, http.MethodPost, "/session", body, &resp); err != nil {
		r.status = StatusDisconnected
		r.token = ""
		return fmt.Errorf("connect %s: %w", r.brokerID, err)
	}
	if resp.Token == "" {
		r.status = StatusDisconnected
		return fmt.Errorf("connect %s: backend returned no session token", r.brokerID)
	}

	r.token = resp.Token
	r.status = StatusConnected
	return nil
}

// ValidateSession confirms the session is still honored by the backend.
// A definitive rejection moves the session to EXPIRED; a timeout is retried
// once since the check is idempotent.
func (r *RESTAdapter) ValidateSession(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusConnected {
		return ErrSessionNotReady
	}

	err := r.do(ctx, http.MethodGet, "/session", nil, nil)
	if errors.Is(err, ErrBrokerTimeout) {
		err = r.do(ctx, http.MethodGet, "/session", nil, nil)
	}
	if err != nil {
		if !errors.Is(err, ErrBrokerTimeout) {
			r.status = StatusExpired
			r.token = ""
		}
		return err
	}
	return nil
}

// PlaceOrder submits one order. Valid only in CONNECTED; a timeout surfaces
// as ErrBrokerTimeout with no retry.
func (r *RESTAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusConnected {
		return "", ErrSessionNotReady
	}

	body, _ := json.Marshal(map[string]any{
		"symbol":   req.Symbol,
		"side":     req.Side,
		"quantity": req.Quantity,
		"price":    req.Price,
		"product":  req.Product,
	})
	var resp orderResponse
	if err := r.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("place order: backend returned no order id")
	}
	return resp.OrderID, nil
}

// GetPositions fetches the live book. Idempotent; one retry on timeout.
func (r *RESTAdapter) GetPositions(ctx context.Context) ([]Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusConnected {
		return nil, ErrSessionNotReady
	}

	var positions []Position
	err := r.do(ctx, http.MethodGet, "/positions", nil, &positions)
	if errors.Is(err, ErrBrokerTimeout) {
		err = r.do(ctx, http.MethodGet, "/positions", nil, &positions)
	}
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// Disconnect is idempotent and always terminates in DISCONNECTED.
func (r *RESTAdapter) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusDisconnected
	r.token = ""
}

// Status returns the current session status.
func (r *RESTAdapter) Status() SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// BrokerID identifies the backend.
func (r *RESTAdapter) BrokerID() string {
	return r.brokerID
}

// do issues one HTTP call. Callers hold r.mu, which also serializes all
// backend access for the session.
func (r *RESTAdapter) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrBrokerTimeout
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrBrokerTimeout
		}
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrSessionNotReady
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: backend status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
