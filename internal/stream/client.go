package stream

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"PaymentReconciler/internal/models"

	gw "github.com/gorilla/websocket"
)

const streamPath = "/audit/stream"

// Subscriber reads the audit feed of a running API.
type Subscriber struct {
	Endpoint string
	Conn     *Conn
}

func NewSubscriber(endpoint string) *Subscriber {
	return &Subscriber{Endpoint: endpoint}
}

func (s *Subscriber) Connect(ctx context.Context, f Filter) error {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return err
	}
	q := u.Query()
	if f.OrderID != "" {
		q.Set("order_id", f.OrderID)
	}
	if f.PaymentID != 0 {
		q.Set("payment_id", strconv.FormatInt(f.PaymentID, 10))
	}
	u.RawQuery = q.Encode()

	dialer := gw.Dialer{}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	s.Conn = conn
	return nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		_ = s.Conn.Close()
	}
}

// Next blocks until the next audit entry arrives.
func (s *Subscriber) Next() (*models.AuditLogEntry, error) {
	_, msg, err := s.Conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var e models.AuditLogEntry
	if err := json.Unmarshal(msg, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// EndpointFor derives the audit feed URL from an API base URL. ws and wss
// URLs that already name the feed pass through unchanged.
func EndpointFor(api string) string {
	api = strings.TrimRight(api, "/")
	switch {
	case strings.HasPrefix(api, "ws://"), strings.HasPrefix(api, "wss://"):
		if strings.HasSuffix(api, streamPath) {
			return api
		}
		return api + streamPath
	case strings.HasPrefix(api, "https://"):
		return "wss://" + strings.TrimPrefix(api, "https://") + streamPath
	case strings.HasPrefix(api, "http://"):
		return "ws://" + strings.TrimPrefix(api, "http://") + streamPath
	}
	return ""
}
