package models

import (
	"fmt"
	"strings"
)

// NormalizePhone strips separators and keeps a leading "+". Numbers must have
// 8 to 15 digits.
func NormalizePhone(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	repl := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")
	s = repl.Replace(s)
	plus := strings.HasPrefix(s, "+")
	if plus {
		s = s[1:]
	}
	if s == "" || filterDigits(s) != s {
		return "", false
	}
	if len(s) < 8 || len(s) > 15 {
		return "", false
	}
	if plus {
		return "+" + s, true
	}
	return s, true
}

func filterDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Missing returns the names of the required fields that are empty.
func (c Customer) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(c.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(c.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(c.IDNumber) == "" {
		missing = append(missing, "ID number")
	}
	return missing
}

// Validate checks the required fields and the phone format.
func (c Customer) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("required: %s", strings.Join(missing, ", "))
	}
	if _, ok := NormalizePhone(c.Phone); !ok {
		return fmt.Errorf("invalid phone number")
	}
	return nil
}
