package adapter

import "strings"

// NormalizeSymbol converts any exchange spelling of a symbol to its canonical
// uppercase form: separators removed, perpetual suffixes stripped, quote kept.
// BTC/USDT, btcusdt, BTCUSDT.P, BTC-PERP and BTCUSDT all collapse to the same
// canonical key, so lookups accept SYMBOL and SYMBOL.P interchangeably.
// The function is idempotent.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("/", "", "_", "", "-", "").Replace(s)
	s = strings.TrimSuffix(s, ".P")
	s = strings.TrimSuffix(s, "PERP")
	s = strings.TrimSuffix(s, "SWAP")
	if strings.HasSuffix(s, "USDTM") {
		s = strings.TrimSuffix(s, "USDTM") + "USDT"
	}
	return s
}

// EnsureQuote canonicalizes a user-entered symbol for complex alert matching:
// uppercased, and suffixed with USDT unless it already names a quote (USDT,
// USD) or is a slash pair.
func EnsureQuote(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	if strings.HasSuffix(s, "USDT") || strings.HasSuffix(s, "USD") || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "USDT"
}

// IsUSDTPair reports whether the symbol quotes in USDT, tolerating the
// futures .P alias.
func IsUSDTPair(s string) bool {
	return strings.HasSuffix(NormalizeSymbol(s), "USDT")
}
