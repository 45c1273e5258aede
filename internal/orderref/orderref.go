// Package orderref encodes and parses the order reference string that round-trips
// through the gateway's hosted payment page: written into ReturnValue when a page
// is created, handed back verbatim in the webhook.
package orderref

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const prefix = "ORDER-"

// Ref is the identity recovered from an order reference. Amount is nil when
// the reference predates the amount segment or the segment is unparseable.
type Ref struct {
	UserID string
	Amount *int64 // minor units
}

// Encode builds the current reference shape:
// ORDER-{userID}-{amount with 2 decimals}-{yyyymmddhhmmss}.
func Encode(userID string, amount int64, now time.Time) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(userID)
	b.WriteByte('-')
	b.WriteString(formatAmount(amount))
	b.WriteByte('-')
	b.WriteString(now.UTC().Format("20060102150405"))
	return b.String()
}

// Parse recovers the user identity (and amount, when present) from a
// reference. Both the current 4-segment shape and the legacy 3-segment shape
// (no amount) are accepted; a reference whose amount segment cannot be parsed
// still yields the user id. The prefix match is case-insensitive.
func Parse(raw string) (Ref, bool) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return Ref{}, false
	}

	rest := trimmed[len(prefix):]
	parts := strings.Split(rest, "-")
	if len(parts) < 2 {
		return Ref{}, false
	}

	// The trailing segment is always the timestamp. When the segment before
	// it parses as a number it is the amount; otherwise the reference is the
	// legacy shape without one. User ids containing dashes rejoin cleanly.
	userEnd := len(parts) - 1
	var amount *int64
	if userEnd >= 2 {
		if v, ok := parseAmount(parts[userEnd-1]); ok {
			amount = &v
			userEnd--
		} else if len(parts) == 3 {
			// Exactly user-amount-timestamp with a mangled amount: keep the
			// user rather than folding the bad segment into it.
			userEnd = 1
		}
	}

	user := strings.TrimSpace(strings.Join(parts[:userEnd], "-"))
	if user == "" {
		return Ref{}, false
	}
	return Ref{UserID: user, Amount: amount}, true
}

func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return sign + strconv.FormatInt(minor/100, 10) + "." + pad2(minor%100)
}

func pad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}

func parseAmount(s string) (int64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(f * 100)), true
}
