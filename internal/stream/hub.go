// Package stream tails the audit log and fans new entries out to websocket
// subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"PaymentReconciler/internal/models"
)

const pollBatch = 100

type AuditSource interface {
	ListAuditAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditLogEntry, error)
	ListRecentAudit(ctx context.Context, limit int) ([]models.AuditLogEntry, error)
}

// Filter narrows a subscription. Zero values match everything.
type Filter struct {
	OrderID   string
	PaymentID int64
}

func (f Filter) match(e models.AuditLogEntry) bool {
	if f.OrderID != "" && (e.OrderID == nil || *e.OrderID != f.OrderID) {
		return false
	}
	if f.PaymentID != 0 && (e.PaymentID == nil || *e.PaymentID != f.PaymentID) {
		return false
	}
	return true
}

type Client struct {
	hub    *Hub
	conn   *Conn
	send   chan []byte
	filter Filter
}

// Hub polls the audit log so that entries written by any process, the
// worker included, reach subscribers.
type Hub struct {
	source     AuditSource
	interval   time.Duration
	logger     *slog.Logger
	register   chan *Client
	unregister chan *Client
	clients    map[*Client]bool
	done       chan struct{}
	lastID     int64
}

func NewHub(source AuditSource, interval time.Duration, logger *slog.Logger) *Hub {
	if interval <= 0 {
		interval = time.Second
	}
	return &Hub{
		source:     source,
		interval:   interval,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if recent, err := h.source.ListRecentAudit(ctx, 1); err != nil {
		h.logger.Warn("audit stream: read log head failed", "err", err)
	} else if len(recent) > 0 {
		h.lastID = recent[0].LogID
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case <-ticker.C:
			if len(h.clients) > 0 {
				h.poll(ctx)
			}
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			h.clients = map[*Client]bool{}
			return
		}
	}
}

// poll forwards new entries. The cursor advances even with no subscribers
// matching so that a reconnect does not replay old entries.
func (h *Hub) poll(ctx context.Context) {
	for {
		entries, err := h.source.ListAuditAfter(ctx, h.lastID, pollBatch)
		if err != nil {
			h.logger.Warn("audit stream: poll failed", "err", err)
			return
		}
		for _, e := range entries {
			h.lastID = e.LogID
			h.broadcast(e)
		}
		if len(entries) < pollBatch {
			return
		}
	}
}

func (h *Hub) broadcast(e models.AuditLogEntry) {
	msg, err := json.Marshal(e)
	if err != nil {
		return
	}
	for c := range h.clients {
		if !c.filter.match(e) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Slow consumer.
			delete(h.clients, c)
			close(c.send)
		}
	}
}
