// Package fees provides the array-based exchange taker-fee lookup: a
// fixed 256-element table keyed by a small integer venue id, with a
// case-insensitive string-keyed cold path for initialization and
// logging. Ids and default bps values are carried from the venue
// fee schedule used elsewhere in this codebase's ecosystem.
package fees

import "strings"

const (
	IDBinance uint8 = 1 + iota
	IDOKX
	IDBybit
	IDBitget
	IDKucoin
	IDHyperliquid
	IDParadex
	IDGateio
)

// defaultBps is returned for any id not explicitly set below.
const defaultBps = 6.0

var table = func() [256]float64 {
	var t [256]float64
	for i := range t {
		t[i] = defaultBps
	}
	t[IDBinance] = 4.0
	t[IDOKX] = 5.0
	t[IDBybit] = 5.5
	t[IDBitget] = 6.0
	t[IDKucoin] = 6.0
	t[IDHyperliquid] = 4.5
	t[IDParadex] = 5.0
	t[IDGateio] = 6.0
	return t
}()

var nameToID = map[string]uint8{
	"binance":     IDBinance,
	"okx":         IDOKX,
	"bybit":       IDBybit,
	"bitget":      IDBitget,
	"kucoin":      IDKucoin,
	"hyperliquid": IDHyperliquid,
	"paradex":     IDParadex,
	"gateio":      IDGateio,
}

var idToName = []string{
	"", "binance", "okx", "bybit", "bitget", "kucoin", "hyperliquid", "paradex", "gateio",
}

// ByID is the hot-path lookup: a single bounds-checked array index.
func ByID(id uint8) float64 {
	return table[id]
}

// ByName is the cold-path lookup for initialization/logging. Unknown
// names resolve to id 0, which carries the default fee.
func ByName(exchange string) float64 {
	return ByID(ToID(exchange))
}

// ToID maps an exchange name (case-insensitive) to its id, or 0 if unknown.
func ToID(exchange string) uint8 {
	return nameToID[strings.ToLower(exchange)]
}

// ToName maps an id back to its exchange name, or "" if out of range.
func ToName(id uint8) string {
	if int(id) >= len(idToName) {
		return ""
	}
	return idToName[id]
}

// AllIDs returns every known venue id, for cold-path iteration.
func AllIDs() []uint8 {
	return []uint8{IDBinance, IDOKX, IDBybit, IDBitget, IDKucoin, IDHyperliquid, IDParadex, IDGateio}
}

// AllNames returns every known venue name, for cold-path iteration.
func AllNames() []string {
	return []string{"binance", "okx", "bybit", "bitget", "kucoin", "hyperliquid", "paradex", "gateio"}
}
