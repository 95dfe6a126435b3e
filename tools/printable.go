package tools

import (
	"strings"
	"unicode"
)

type printableType interface {
	~string | ~[]rune | ~[]byte
}

// Printable drops every rune that is not printable.
func Printable[T printableType](v T) string {
	var b strings.Builder
	for _, r := range []rune(string(v)) {
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripCRLF removes CR and LF so text cannot break out of a single reply line.
func StripCRLF(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// RedactCommand prepares control traffic for logging: the argument of every PASS line is masked
// and unprintable characters are dropped. Input may hold several CRLF separated lines.
func RedactCommand(s string) string {
	lines := strings.Split(s, "\r\n")
	for i, line := range lines {
		if len(line) >= 4 && strings.EqualFold(line[:4], "PASS") && (len(line) == 4 || line[4] == ' ') {
			if len(line) > 5 {
				line = line[:5] + "****"
			}
		}
		lines[i] = Printable(line)
	}
	return strings.Join(lines, " ")
}
