package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PaymentReconciler/internal/models"
	"PaymentReconciler/internal/testutil"
)

func TestFilterMatch(t *testing.T) {
	pid := int64(7)
	oid := "ORD1"
	e := models.AuditLogEntry{PaymentID: &pid, OrderID: &oid}

	cases := []struct {
		f    Filter
		want bool
	}{
		{Filter{}, true},
		{Filter{OrderID: "ORD1"}, true},
		{Filter{OrderID: "ORD2"}, false},
		{Filter{PaymentID: 7}, true},
		{Filter{PaymentID: 8}, false},
		{Filter{OrderID: "ORD1", PaymentID: 7}, true},
	}
	for _, c := range cases {
		if got := c.f.match(e); got != c.want {
			t.Fatalf("%+v.match() = %v, want %v", c.f, got, c.want)
		}
	}
	if (Filter{PaymentID: 7}).match(models.AuditLogEntry{}) {
		t.Fatal("entry without payment id matched a payment filter")
	}
}

func TestHubDeliversNewEntries(t *testing.T) {
	l := testutil.NewLedger()
	l.SeedOrder(testutil.NewOrder("ORD1", "100.00"))
	l.SeedOrder(testutil.NewOrder("ORD2", "100.00"))

	// Entries before the hub starts are not replayed.
	old := "ORD1"
	if err := l.AppendAudit(context.Background(), &models.AuditLogEntry{OrderID: &old, Action: "before"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(l, 10*time.Millisecond, testutil.DiscardLogger())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	sub := NewSubscriber("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err := sub.Connect(ctx, Filter{OrderID: "ORD1"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sub.Close()

	// Give the hub a moment to register the client.
	time.Sleep(50 * time.Millisecond)
	other, mine := "ORD2", "ORD1"
	_ = l.AppendAudit(ctx, &models.AuditLogEntry{OrderID: &other, Action: "skipped"})
	_ = l.AppendAudit(ctx, &models.AuditLogEntry{OrderID: &mine, Action: models.ActionReconciled})

	_ = sub.Conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	e, err := sub.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if e.Action != models.ActionReconciled || e.OrderID == nil || *e.OrderID != "ORD1" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestEndpointFor(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":              "ws://localhost:8080/audit/stream",
		"https://pay.example.com/":           "wss://pay.example.com/audit/stream",
		"ws://localhost:8080":                "ws://localhost:8080/audit/stream",
		"wss://pay.example.com/audit/stream": "wss://pay.example.com/audit/stream",
		"localhost:8080":                     "",
	}
	for in, want := range cases {
		if got := EndpointFor(in); got != want {
			t.Fatalf("EndpointFor(%q) = %q, want %q", in, got, want)
		}
	}
}
