package utils

import (
	"math/big"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatTokenAmount renders a native token amount with the given decimals as
// human readable string, e.g. 1234567890 with 6 decimals -> "1,234.56789".
func FormatTokenAmount(amount *big.Int, decimals uint8, symbol string, digits int) string {
	formatted := trimAmount(amount, int(decimals), digits)
	if symbol != "" {
		return formatted + " " + symbol
	}
	return formatted
}

// FormatAddCommas groups the digits of a whole number.
func FormatAddCommas(n uint64) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%d", n)
}

func trimAmount(amount *big.Int, unitDigits int, digits int) string {
	if amount == nil {
		return "0"
	}

	sign := ""
	s := amount.String()
	if amount.Sign() < 0 {
		sign = "-"
		s = strings.TrimPrefix(s, "-")
	}

	preComma := "0"
	postComma := ""
	l := len(s)
	if l > unitDigits {
		preComma = s[:l-unitDigits]
		postComma = strings.TrimRight(s[l-unitDigits:], "0")
	} else {
		// pad with leading zeros below one whole unit
		postComma = strings.TrimRight(strings.Repeat("0", unitDigits-l)+s, "0")
	}

	if len(postComma) > digits {
		postComma = postComma[:digits]
	}

	if intPart, ok := new(big.Int).SetString(preComma, 10); ok && intPart.IsUint64() {
		preComma = FormatAddCommas(intPart.Uint64())
	}

	if len(postComma) > 0 {
		return sign + preComma + "." + postComma
	}
	return sign + preComma
}
