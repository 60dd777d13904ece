package questrade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func decodeInto(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Code: codeUnexpectedError, Message: "decoding response failed: " + err.Error()}
	}
	return nil
}

// Accounts returns all accounts associated with the user.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	body, err := c.do(ctx, http.MethodGet, "v1/accounts", nil, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Accounts []Account `json:"accounts"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Accounts, nil
}

// AccountPositions returns the open positions of one account.
func (c *Client) AccountPositions(ctx context.Context, accountID string) ([]Position, error) {
	body, err := c.do(ctx, http.MethodGet, "v1/accounts/"+accountID+"/positions", nil, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Positions []Position `json:"positions"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Positions, nil
}

// AccountBalances returns the per-currency and combined balances of one
// account.
func (c *Client) AccountBalances(ctx context.Context, accountID string) (Balances, error) {
	body, err := c.do(ctx, http.MethodGet, "v1/accounts/"+accountID+"/balances", nil, nil)
	if err != nil {
		return Balances{}, err
	}
	var balances Balances
	if err := decodeInto(body, &balances); err != nil {
		return Balances{}, err
	}
	return balances, nil
}

// AccountExecutions returns executions for one account, optionally bounded
// by a time range.
func (c *Client) AccountExecutions(ctx context.Context, accountID string, start, end time.Time) ([]Execution, error) {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("startTime", formatAPITime(start))
	}
	if !end.IsZero() {
		params.Set("endTime", formatAPITime(end))
	}
	body, err := c.do(ctx, http.MethodGet, "v1/accounts/"+accountID+"/executions", params, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Executions []Execution `json:"executions"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Executions, nil
}

// AccountOrders returns orders for one account. state filters by order state
// ("All", "Open", "Closed"); empty means no filter.
func (c *Client) AccountOrders(ctx context.Context, accountID string, start, end time.Time, state string) ([]Order, error) {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("startTime", formatAPITime(start))
	}
	if !end.IsZero() {
		params.Set("endTime", formatAPITime(end))
	}
	if state != "" {
		params.Set("stateFilter", state)
	}
	body, err := c.do(ctx, http.MethodGet, "v1/accounts/"+accountID+"/orders", params, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Orders []Order `json:"orders"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Orders, nil
}

// AccountActivities returns account activities. The API caps the range at 31
// days per request.
func (c *Client) AccountActivities(ctx context.Context, accountID string, start, end time.Time) ([]Activity, error) {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("startTime", formatAPITime(start))
	}
	if !end.IsZero() {
		params.Set("endTime", formatAPITime(end))
	}
	body, err := c.do(ctx, http.MethodGet, "v1/accounts/"+accountID+"/activities", params, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Activities []Activity `json:"activities"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Activities, nil
}

// Time returns the current server time.
func (c *Client) Time(ctx context.Context) (time.Time, error) {
	body, err := c.do(ctx, http.MethodGet, "v1/time", nil, nil)
	if err != nil {
		return time.Time{}, err
	}
	var env struct {
		Time time.Time `json:"time"`
	}
	if err := decodeInto(body, &env); err != nil {
		return time.Time{}, err
	}
	return env.Time, nil
}

// Symbols returns detailed records for the given symbol ids.
func (c *Client) Symbols(ctx context.Context, ids []int64) ([]Symbol, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one symbol id is required")
	}
	params := url.Values{"ids": []string{joinIDs(ids)}}
	body, err := c.do(ctx, http.MethodGet, "v1/symbols", params, nil)
	if err != nil {
		return nil, err
	}
	return decodeSymbols(body)
}

// SymbolsByNames returns detailed records for the given symbol names.
func (c *Client) SymbolsByNames(ctx context.Context, names []string) ([]Symbol, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one symbol name is required")
	}
	params := url.Values{"names": []string{strings.Join(names, ",")}}
	body, err := c.do(ctx, http.MethodGet, "v1/symbols", params, nil)
	if err != nil {
		return nil, err
	}
	return decodeSymbols(body)
}

// SearchSymbols searches symbols by prefix.
func (c *Client) SearchSymbols(ctx context.Context, prefix string, offset int) ([]Symbol, error) {
	params := url.Values{}
	params.Set("prefix", prefix)
	params.Set("offset", strconv.Itoa(offset))
	body, err := c.do(ctx, http.MethodGet, "v1/symbols/search", params, nil)
	if err != nil {
		return nil, err
	}
	return decodeSymbols(body)
}

// SymbolOptions returns the raw option chain for a symbol. The chain shape
// is deeply nested and caller-specific, so it is returned undecoded.
func (c *Client) SymbolOptions(ctx context.Context, symbolID int64) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/symbols/%d/options", symbolID), nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Markets returns the supported markets.
func (c *Client) Markets(ctx context.Context) ([]Market, error) {
	body, err := c.do(ctx, http.MethodGet, "v1/markets", nil, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Markets []Market `json:"markets"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Markets, nil
}

// Quotes returns level-1 quotes for the given symbol ids.
func (c *Client) Quotes(ctx context.Context, ids []int64) ([]Quote, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one symbol id is required")
	}
	params := url.Values{"ids": []string{joinIDs(ids)}}
	body, err := c.do(ctx, http.MethodGet, "v1/markets/quotes", params, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Quotes []Quote `json:"quotes"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Quotes, nil
}

// OptionQuotes returns quotes with greeks for the given option ids.
func (c *Client) OptionQuotes(ctx context.Context, optionIDs []int64) ([]OptionQuote, error) {
	if len(optionIDs) == 0 {
		return nil, fmt.Errorf("at least one option id is required")
	}
	params := url.Values{"optionIds": []string{joinIDs(optionIDs)}}
	body, err := c.do(ctx, http.MethodGet, "v1/markets/quotes/options", params, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Quotes []OptionQuote `json:"quotes"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Quotes, nil
}

// Candles returns historical OHLCV candles for a symbol id over [start, end].
func (c *Client) Candles(ctx context.Context, symbolID int64, start, end time.Time, interval Interval) ([]Candle, error) {
	if _, err := ParseInterval(string(interval)); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("startTime", formatAPITime(start))
	params.Set("endTime", formatAPITime(end))
	params.Set("interval", string(interval))
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/markets/candles/%d", symbolID), params, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Candles []Candle `json:"candles"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Candles, nil
}

func decodeSymbols(body []byte) ([]Symbol, error) {
	var env struct {
		Symbols []Symbol `json:"symbols"`
	}
	if err := decodeInto(body, &env); err != nil {
		return nil, err
	}
	return env.Symbols, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

// formatAPITime renders a timestamp the way the API expects: RFC3339 with an
// explicit UTC offset, never a naive local time.
func formatAPITime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}
