package validation

import (
	"errors"
	"testing"
)

func TestDecodeWebhook_Valid(t *testing.T) {
	v := New()

	req, err := DecodeWebhook(v, []byte(`{"order_id":"ORD1","amount":100.00,"status":"success","gateway_id":"GW1"}`))
	if err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	if req.Amount.String() != "100" {
		t.Fatalf("amount = %s", req.Amount)
	}

	req, err = DecodeWebhook(v, []byte(`{"order_id":"ORD1","amount":"12.50","status":"partial","gateway_id":"GW2","currency":"EUR","gateway_response":{"raw":true}}`))
	if err != nil {
		t.Fatalf("expected valid string amount, got error: %v", err)
	}
	if req.Amount.StringFixed(2) != "12.50" {
		t.Fatalf("amount = %s", req.Amount)
	}
}

func TestDecodeWebhook_MissingFields(t *testing.T) {
	v := New()

	_, err := DecodeWebhook(v, []byte(`{"amount":10}`))
	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldErrors, got %v", err)
	}
	for _, field := range []string{"order_id", "status", "gateway_id"} {
		if _, ok := fe[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, fe)
		}
	}
}

func TestDecodeWebhook_InvalidValues(t *testing.T) {
	v := New()

	cases := map[string]string{
		"amount":           `{"order_id":"O","amount":0,"status":"success","gateway_id":"G"}`,
		"status":           `{"order_id":"O","amount":1,"status":"settled","gateway_id":"G"}`,
		"currency":         `{"order_id":"O","amount":1,"status":"success","gateway_id":"G","currency":"DOLLARS"}`,
		"gateway_response": `{"order_id":"O","amount":1,"status":"success","gateway_id":"G","gateway_response":[1,2]}`,
	}
	for field, body := range cases {
		_, err := DecodeWebhook(v, []byte(body))
		var fe FieldErrors
		if !errors.As(err, &fe) {
			t.Fatalf("%s: expected FieldErrors, got %v", field, err)
		}
		if _, ok := fe[field]; !ok {
			t.Fatalf("%s: expected field error, got %v", field, fe)
		}
	}
}

func TestDecodeWebhook_AmountMustFitLedger(t *testing.T) {
	v := New()
	rejected := []string{`0.001`, `0.004`, `0.005`, `"10.999"`, `1e15`, `"123456789012345.5"`, `1000000000000`}
	for _, amount := range rejected {
		body := `{"order_id":"O","amount":` + amount + `,"status":"success","gateway_id":"G"}`
		_, err := DecodeWebhook(v, []byte(body))
		var fe FieldErrors
		if !errors.As(err, &fe) || fe["amount"] == "" {
			t.Fatalf("amount %s: expected amount field error, got %v", amount, err)
		}
	}

	accepted := []string{`0.01`, `"100.00"`, `100.000`, `999999999999.99`}
	for _, amount := range accepted {
		body := `{"order_id":"O","amount":` + amount + `,"status":"success","gateway_id":"G"}`
		if _, err := DecodeWebhook(v, []byte(body)); err != nil {
			t.Fatalf("amount %s: unexpected error %v", amount, err)
		}
	}
}

func TestDecodeWebhook_Malformed(t *testing.T) {
	_, err := DecodeWebhook(New(), []byte(`{"order_id":`))
	if !errors.Is(err, ErrMalformedBody) {
		t.Fatalf("expected ErrMalformedBody, got %v", err)
	}
}
