package universe

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tickerRegex matches the symbols Build generates: 3 or 4 uppercase letters.
var tickerRegex = regexp.MustCompile(`^[A-Z]{3,4}$`)

var ErrInvalidTicker = errors.New("universe: invalid ticker format")

// ParseTicker normalizes a user-supplied symbol to upper case and validates it.
func ParseTicker(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %q (expected 3-4 letters)", ErrInvalidTicker, ticker)
	}
	return t, nil
}
