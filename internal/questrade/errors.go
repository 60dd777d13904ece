package questrade

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Provider error codes reused for locally synthesized failures. These match
// the codes Questrade itself assigns to the equivalent conditions.
const (
	codeAuthFailed      = "1000"
	codeInvalidEndpoint = "1001"
	codeMalformedArg    = "1002"
	codeRateLimit       = "1006"
	codeConnection      = "1011"
	codeTokenInvalid    = "1017"
	codeUnexpectedError = "1021"
)

// APIError is a provider-side failure: any 4xx/5xx that did not create an
// order, a network-layer failure, or an unparseable response. StatusCode is
// zero for pure network failures.
type APIError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("questrade api error %s: %s (http %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("questrade api error %s: %s", e.Code, e.Message)
}

// OrderError is an APIError for order-processing failures where the provider
// did create an order. It carries the created order id and the partial order
// records from the error body.
type OrderError struct {
	APIError
	OrderID int64
	Orders  []Order
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("questrade order error %s: %s (order id %d)", e.Code, e.Message, e.OrderID)
}

// RateLimitError reports that throttled retries were exhausted. Wait is the
// last computed wait duration, part of the caller-visible contract.
type RateLimitError struct {
	APIError
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("questrade rate limit error %s: %s (retry after %s)", e.Code, e.Message, e.Wait)
}

// AuthError reports a missing or invalid credential, or a failed token
// exchange. Fatal for the current call.
type AuthError struct {
	Code   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	code := e.Code
	if code == "" {
		code = codeAuthFailed
	}
	if e.Err != nil {
		return fmt.Sprintf("questrade auth error %s: %s: %v", code, e.Reason, e.Err)
	}
	return fmt.Sprintf("questrade auth error %s: %s", code, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

func newRateLimitError(wait time.Duration) *RateLimitError {
	return &RateLimitError{
		APIError: APIError{
			Code:       codeRateLimit,
			Message:    "rate limit exceeded, maximum retry attempts reached",
			StatusCode: 429,
		},
		Wait: wait,
	}
}

// parseAPIError turns an error response body into the matching typed error.
// Bodies that are not valid provider error JSON degrade to an APIError built
// from the HTTP status alone.
func parseAPIError(body []byte, statusCode int) error {
	parsed := gjson.ParseBytes(body)
	if parsed.Type == gjson.JSON && parsed.Get("message").Exists() {
		code := parsed.Get("code").String()
		if code == "" {
			code = "0"
		}
		msg := parsed.Get("message").String()
		orderID := parsed.Get("orderId")
		ordersRaw := parsed.Get("orders")
		if orderID.Exists() && ordersRaw.Exists() {
			var orders []Order
			_ = json.Unmarshal([]byte(ordersRaw.Raw), &orders)
			return &OrderError{
				APIError: APIError{Code: code, Message: msg, StatusCode: statusCode},
				OrderID:  orderID.Int(),
				Orders:   orders,
			}
		}
		return &APIError{Code: code, Message: msg, StatusCode: statusCode}
	}

	switch statusCode {
	case 404:
		return &APIError{Code: codeInvalidEndpoint, Message: "invalid endpoint", StatusCode: statusCode}
	case 400:
		return &APIError{Code: codeMalformedArg, Message: "invalid or malformed argument", StatusCode: statusCode}
	default:
		return &APIError{
			Code:       codeUnexpectedError,
			Message:    fmt.Sprintf("unexpected error: http %d", statusCode),
			StatusCode: statusCode,
		}
	}
}
