package sequence

import (
	"fmt"
	"strconv"
	"strings"
)

// Number is a parsed order number such as ALX-2025-0042.
type Number struct {
	Prefix string
	Year   int
	Seq    int64
}

// Format renders prefix-year-seq with the sequence zero padded to four
// digits. Larger sequences widen instead of truncating.
func Format(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}

func (n Number) String() string { return Format(n.Prefix, n.Year, n.Seq) }

// Parse splits an order number into its parts. The prefix may itself contain
// dashes; year and sequence are always the last two segments.
func Parse(s string) (Number, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	i := strings.LastIndex(s, "-")
	if i <= 0 {
		return Number{}, fmt.Errorf("order number %q: missing sequence", s)
	}
	j := strings.LastIndex(s[:i], "-")
	if j <= 0 {
		return Number{}, fmt.Errorf("order number %q: missing year", s)
	}
	year, err := strconv.Atoi(s[j+1 : i])
	if err != nil || len(s[j+1:i]) != 4 {
		return Number{}, fmt.Errorf("order number %q: bad year", s)
	}
	seq, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || seq <= 0 {
		return Number{}, fmt.Errorf("order number %q: bad sequence", s)
	}
	return Number{Prefix: s[:j], Year: year, Seq: seq}, nil
}
