// Package validation checks the normalized webhook envelope before anything
// touches the ledger.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// WebhookRequest is the normalized gateway event.
type WebhookRequest struct {
	OrderID         string          `json:"order_id" validate:"required,max=64"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status" validate:"required,oneof=pending success failed partial refunded cancelled"`
	GatewayID       string          `json:"gateway_id" validate:"required,max=255"`
	Currency        string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	GatewayName     string          `json:"gateway_name,omitempty" validate:"omitempty,max=64"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
}

// FieldErrors maps json field names to a short reason.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k, v := range f {
		keys = append(keys, k+": "+v)
	}
	sort.Strings(keys)
	return "invalid fields: " + strings.Join(keys, ", ")
}

var ErrMalformedBody = errors.New("malformed json body")

// Amounts are stored as NUMERIC(14,2).
const amountScale = 2

var maxAmount = decimal.New(1, 12)

// New returns a validator that reports json field names and enforces an
// amount the ledger can store exactly.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(webhookStructValidation, WebhookRequest{})
	return v
}

func webhookStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(WebhookRequest)
	switch {
	case !req.Amount.IsPositive():
		sl.ReportError(req.Amount, "amount", "Amount", "gt", "0")
	case !req.Amount.Equal(req.Amount.Round(amountScale)):
		sl.ReportError(req.Amount, "amount", "Amount", "scale", "2")
	case req.Amount.GreaterThanOrEqual(maxAmount):
		sl.ReportError(req.Amount, "amount", "Amount", "lt", maxAmount.String())
	}
	if len(req.GatewayResponse) > 0 {
		trimmed := bytes.TrimSpace(req.GatewayResponse)
		if !bytes.Equal(trimmed, []byte("null")) && (len(trimmed) == 0 || trimmed[0] != '{') {
			sl.ReportError(req.GatewayResponse, "gateway_response", "GatewayResponse", "object", "")
		}
	}
}

// DecodeWebhook parses body and validates it. Validation failures come back
// as FieldErrors; unparsable input as ErrMalformedBody.
func DecodeWebhook(v *validatorv10.Validate, body []byte) (*WebhookRequest, error) {
	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if err := v.Struct(req); err != nil {
		return nil, toFieldErrors(err)
	}
	return &req, nil
}

func toFieldErrors(err error) error {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := FieldErrors{}
	for _, fe := range ve {
		out[fe.Field()] = messageForTag(fe.Tag(), fe.Param())
	}
	return out
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + param
	case "gt":
		return "must be greater than " + param
	case "lt":
		return "must be less than " + param
	case "scale":
		return "must have at most " + param + " decimal places"
	case "len":
		return "must be " + param + " characters"
	case "max":
		return "must be at most " + param + " characters"
	case "alpha":
		return "must contain letters only"
	case "object":
		return "must be a json object"
	default:
		return "is invalid"
	}
}
