package bridge

import (
	"encoding/json"
	"strconv"
	"strings"
)

// JSONTickerParser is a generic TickParser for venues that publish flat
// JSON ticker objects, e.g. {"symbol":"BTCUSDT","bid":"60000.1","ask":"60001.2","ts":1700000000000}.
// Field names and a symbol-normalization table are per-venue; prices may
// arrive as either a JSON number or a decimal string (§6: "normalize_symbol
// helper ... before id lookup", "numeric converter").
type JSONTickerParser struct {
	SymbolField       string
	BidField          string
	AskField          string
	TimestampField    string // microseconds; if the venue sends milliseconds, TimestampIsMillis should be set
	TimestampIsMillis bool
	SymbolAliases     map[string]string
}

// NewJSONTickerParser returns a parser for the common {symbol,bid,ask,ts} shape.
func NewJSONTickerParser(symbolAliases map[string]string) JSONTickerParser {
	return JSONTickerParser{
		SymbolField:    "symbol",
		BidField:       "bid",
		AskField:       "ask",
		TimestampField: "ts",
		SymbolAliases:  symbolAliases,
	}
}

func (p JSONTickerParser) Parse(raw []byte) (symbol string, bid, ask float64, tsUS uint64, ok bool) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", 0, 0, 0, false
	}

	rawSymbol, hasSymbol := msg[p.SymbolField]
	rawBid, hasBid := msg[p.BidField]
	rawAsk, hasAsk := msg[p.AskField]
	if !hasSymbol || !hasBid || !hasAsk {
		return "", 0, 0, 0, false
	}

	symbolStr, isStr := rawSymbol.(string)
	if !isStr {
		return "", 0, 0, 0, false
	}
	symbol = p.normalizeSymbol(symbolStr)

	bid, bidOK := toFloat(rawBid)
	ask, askOK := toFloat(rawAsk)
	if !bidOK || !askOK {
		return "", 0, 0, 0, false
	}

	ts, tsOK := toFloat(msg[p.TimestampField])
	if !tsOK {
		return "", 0, 0, 0, false
	}
	if p.TimestampIsMillis {
		ts *= 1000
	}

	return symbol, bid, ask, uint64(ts), true
}

func (p JSONTickerParser) normalizeSymbol(raw string) string {
	upper := strings.ToUpper(raw)
	if p.SymbolAliases != nil {
		if canonical, ok := p.SymbolAliases[upper]; ok {
			return canonical
		}
	}
	return upper
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
