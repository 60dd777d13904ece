package questrade

import (
	"fmt"
	"time"
)

// Interval is a candle aggregation granularity accepted by the candles
// endpoint.
type Interval string

const (
	IntervalOneMinute      Interval = "OneMinute"
	IntervalTwoMinutes     Interval = "TwoMinutes"
	IntervalThreeMinutes   Interval = "ThreeMinutes"
	IntervalFourMinutes    Interval = "FourMinutes"
	IntervalFiveMinutes    Interval = "FiveMinutes"
	IntervalTenMinutes     Interval = "TenMinutes"
	IntervalFifteenMinutes Interval = "FifteenMinutes"
	IntervalTwentyMinutes  Interval = "TwentyMinutes"
	IntervalHalfHour       Interval = "HalfHour"
	IntervalOneHour        Interval = "OneHour"
	IntervalTwoHours       Interval = "TwoHours"
	IntervalFourHours      Interval = "FourHours"
	IntervalOneDay         Interval = "OneDay"
	IntervalOneWeek        Interval = "OneWeek"
	IntervalOneMonth       Interval = "OneMonth"
	IntervalOneYear        Interval = "OneYear"
)

var knownIntervals = map[Interval]bool{
	IntervalOneMinute: true, IntervalTwoMinutes: true, IntervalThreeMinutes: true,
	IntervalFourMinutes: true, IntervalFiveMinutes: true, IntervalTenMinutes: true,
	IntervalFifteenMinutes: true, IntervalTwentyMinutes: true, IntervalHalfHour: true,
	IntervalOneHour: true, IntervalTwoHours: true, IntervalFourHours: true,
	IntervalOneDay: true, IntervalOneWeek: true, IntervalOneMonth: true,
	IntervalOneYear: true,
}

// ParseInterval validates an interval name.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if !knownIntervals[iv] {
		return "", fmt.Errorf("unknown candle interval %q", s)
	}
	return iv, nil
}

type Account struct {
	Type              string `json:"type"`
	Number            string `json:"number"`
	Status            string `json:"status"`
	IsPrimary         bool   `json:"isPrimary"`
	IsBilling         bool   `json:"isBilling"`
	ClientAccountType string `json:"clientAccountType"`
}

type Position struct {
	Symbol             string  `json:"symbol"`
	SymbolID           int64   `json:"symbolId"`
	OpenQuantity       float64 `json:"openQuantity"`
	ClosedQuantity     float64 `json:"closedQuantity"`
	CurrentMarketValue float64 `json:"currentMarketValue"`
	CurrentPrice       float64 `json:"currentPrice"`
	AverageEntryPrice  float64 `json:"averageEntryPrice"`
	ClosedPnL          float64 `json:"closedPnl"`
	OpenPnL            float64 `json:"openPnl"`
	TotalCost          float64 `json:"totalCost"`
	IsRealTime         bool    `json:"isRealTime"`
}

type Balance struct {
	Currency          string  `json:"currency"`
	Cash              float64 `json:"cash"`
	MarketValue       float64 `json:"marketValue"`
	TotalEquity       float64 `json:"totalEquity"`
	BuyingPower       float64 `json:"buyingPower"`
	MaintenanceExcess float64 `json:"maintenanceExcess"`
	IsRealTime        bool    `json:"isRealTime"`
}

type Balances struct {
	PerCurrencyBalances    []Balance `json:"perCurrencyBalances"`
	CombinedBalances       []Balance `json:"combinedBalances"`
	SODPerCurrencyBalances []Balance `json:"sodPerCurrencyBalances"`
	SODCombinedBalances    []Balance `json:"sodCombinedBalances"`
}

type Execution struct {
	Symbol    string  `json:"symbol"`
	SymbolID  int64   `json:"symbolId"`
	Quantity  float64 `json:"quantity"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	ID        int64   `json:"id"`
	OrderID   int64   `json:"orderId"`
	Timestamp string  `json:"timestamp"`
	Venue     string  `json:"venue"`
	TotalCost float64 `json:"totalCost"`
}

type Order struct {
	ID             int64   `json:"id"`
	Symbol         string  `json:"symbol"`
	SymbolID       int64   `json:"symbolId"`
	TotalQuantity  float64 `json:"totalQuantity"`
	OpenQuantity   float64 `json:"openQuantity"`
	FilledQuantity float64 `json:"filledQuantity"`
	Side           string  `json:"side"`
	OrderType      string  `json:"orderType"`
	LimitPrice     float64 `json:"limitPrice"`
	StopPrice      float64 `json:"stopPrice"`
	AvgExecPrice   float64 `json:"avgExecPrice"`
	State          string  `json:"state"`
	TimeInForce    string  `json:"timeInForce"`
	CreationTime   string  `json:"creationTime"`
	UpdateTime     string  `json:"updateTime"`
}

type Activity struct {
	TradeDate      string  `json:"tradeDate"`
	TransactionDay string  `json:"transactionDate"`
	SettlementDate string  `json:"settlementDate"`
	Action         string  `json:"action"`
	Symbol         string  `json:"symbol"`
	SymbolID       int64   `json:"symbolId"`
	Description    string  `json:"description"`
	Currency       string  `json:"currency"`
	Quantity       float64 `json:"quantity"`
	Price          float64 `json:"price"`
	GrossAmount    float64 `json:"grossAmount"`
	Commission     float64 `json:"commission"`
	NetAmount      float64 `json:"netAmount"`
	Type           string  `json:"type"`
}

// Symbol is the search-result shape: the stable identity and tradability
// facts the cache persists.
type Symbol struct {
	Symbol          string `json:"symbol"`
	SymbolID        int64  `json:"symbolId"`
	Description     string `json:"description"`
	SecurityType    string `json:"securityType"`
	ListingExchange string `json:"listingExchange"`
	IsTradable      bool   `json:"isTradable"`
	IsQuotable      bool   `json:"isQuotable"`
	Currency        string `json:"currency"`
}

type Market struct {
	Name                string   `json:"name"`
	TradingVenues       []string `json:"tradingVenues"`
	DefaultTradingVenue string   `json:"defaultTradingVenue"`
	StartTime           string   `json:"startTime"`
	EndTime             string   `json:"endTime"`
	Currency            string   `json:"currency"`
	SnapQuotesLimit     int      `json:"snapQuotesLimit"`
}

type Quote struct {
	Symbol         string  `json:"symbol"`
	SymbolID       int64   `json:"symbolId"`
	BidPrice       float64 `json:"bidPrice"`
	BidSize        int64   `json:"bidSize"`
	AskPrice       float64 `json:"askPrice"`
	AskSize        int64   `json:"askSize"`
	LastTradePrice float64 `json:"lastTradePrice"`
	LastTradeSize  int64   `json:"lastTradeSize"`
	LastTradeTick  string  `json:"lastTradeTick"`
	LastTradeTime  string  `json:"lastTradeTime"`
	Volume         int64   `json:"volume"`
	OpenPrice      float64 `json:"openPrice"`
	HighPrice      float64 `json:"highPrice"`
	LowPrice       float64 `json:"lowPrice"`
	Delay          bool    `json:"delay"`
	IsHalted       bool    `json:"isHalted"`
}

type OptionQuote struct {
	Symbol         string  `json:"symbol"`
	SymbolID       int64   `json:"symbolId"`
	BidPrice       float64 `json:"bidPrice"`
	AskPrice       float64 `json:"askPrice"`
	LastTradePrice float64 `json:"lastTradePrice"`
	Volatility     float64 `json:"volatility"`
	Delta          float64 `json:"delta"`
	Gamma          float64 `json:"gamma"`
	Theta          float64 `json:"theta"`
	Vega           float64 `json:"vega"`
	Rho            float64 `json:"rho"`
	OpenInterest   int64   `json:"openInterest"`
	VWAP           float64 `json:"VWAP"`
}

// Candle is one OHLCV aggregate as returned by the candles endpoint. Start
// and End arrive as RFC3339 timestamps with an offset.
type Candle struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Low    float64   `json:"low"`
	High   float64   `json:"high"`
	Open   float64   `json:"open"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	VWAP   *float64  `json:"VWAP,omitempty"`
}
