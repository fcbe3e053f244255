package slug

import (
	"regexp"
	"strings"
)

var reSlug = regexp.MustCompile(`^[a-z0-9_]{2,40}$`)

// IsSlug reports whether s is a valid channel code: ^[a-z0-9_]{2,40}$
func IsSlug(s string) bool {
	return reSlug.MatchString(s)
}

// Slugify converts s to a channel code: lowercase, non [a-z0-9_] -> '_',
// collapsed repeats, trimmed to 40 runes without leading/trailing '_'.
func Slugify(s string) string {
	if s == "" {
		return s
	}
	out := make([]rune, 0, len(s))
	prev := false
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		if !ok {
			r = '_'
		}
		if r == '_' {
			if prev {
				continue
			}
			prev = true
		} else {
			prev = false
		}
		out = append(out, r)
	}
	res := strings.Trim(string(out), "_")
	if len(res) > 40 {
		res = strings.Trim(res[:40], "_")
	}
	return res
}
