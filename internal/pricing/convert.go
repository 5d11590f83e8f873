package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gameclaim/internal/cache"
	"gameclaim/internal/fetcher"
)

// ExchangeURL serves USD based exchange rates.
const ExchangeURL = "https://api.exchangerate-api.com/v4/latest/USD"

const ratesTTL = time.Hour

// Currencies offered in currency pickers.
var Currencies = []string{
	"USD", "EUR", "GBP", "INR", "CAD", "AUD", "BRL", "JPY", "CNY",
	"RUB", "KRW", "TRY", "MXN", "IDR", "PLN", "SEK", "CHF", "SGD",
	"HKD", "NZD", "THB", "PHP", "MYR", "ZAR", "SAR",
}

var currencySymbols = map[string]string{
	"USD": "$", "EUR": "€", "GBP": "£", "INR": "₹", "JPY": "¥", "CNY": "¥",
	"KRW": "₩", "RUB": "₽", "BRL": "R$", "AUD": "A$", "CAD": "C$",
	"TRY": "₺", "MXN": "MX$", "IDR": "Rp", "PLN": "zł", "SEK": "kr",
	"CHF": "CHF", "SGD": "S$", "HKD": "HK$", "NZD": "NZ$", "THB": "฿",
	"PHP": "₱", "MYR": "RM", "ZAR": "R", "SAR": "SAR",
}

// Money formats amounts in one currency.
type Money struct {
	Code   string
	Symbol string
	Rate   decimal.Decimal
}

// USD is the identity conversion.
var USD = Money{Code: "USD", Symbol: "$", Rate: decimal.NewFromInt(1)}

// Format converts a USD amount and renders it with two decimals.
func (m Money) Format(usd decimal.Decimal) string {
	return m.Symbol + usd.Mul(m.Rate).StringFixed(2)
}

// Converter looks up USD exchange rates, caching them for an hour.
type Converter struct {
	f     *fetcher.Fetcher
	url   string
	rates *cache.TTL[string, map[string]decimal.Decimal]
	log   *slog.Logger
}

// NewConverter creates a Converter.
func NewConverter(f *fetcher.Fetcher, log *slog.Logger) *Converter {
	return &Converter{
		f:     f,
		url:   ExchangeURL,
		rates: cache.New[string, map[string]decimal.Decimal](),
		log:   log,
	}
}

// Money returns the conversion for currency. Unknown currencies and lookup
// failures fall back to USD.
func (c *Converter) Money(ctx context.Context, currency string) Money {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" || code == "USD" {
		return USD
	}
	rates, err := c.load(ctx)
	if err != nil {
		c.log.Warn("load exchange rates", "error", err)
		return USD
	}
	rate, ok := rates[code]
	if !ok {
		return USD
	}
	sym, ok := currencySymbols[code]
	if !ok {
		sym = code + " "
	}
	return Money{Code: code, Symbol: sym, Rate: rate}
}

func (c *Converter) load(ctx context.Context) (map[string]decimal.Decimal, error) {
	if r, ok := c.rates.Get("USD"); ok {
		return r, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var body struct {
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := c.f.GetJSON(ctx, c.url, &body); err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	c.rates.Set("USD", body.Rates, ratesTTL)
	return body.Rates, nil
}
