package content

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	cjkGap        = regexp.MustCompile(`([\x{4e00}-\x{9fff}])\s+([\x{4e00}-\x{9fff}])`)
)

// NormalizeText collapses whitespace runs to single spaces, trims, and then
// removes any whitespace left between adjacent CJK characters. The CJK pass
// repeats until a fixed point because each replacement consumes the second
// character of the pair, so "中 文 表" needs two passes.
//
// Returns ok=false when nothing printable remains.
func NormalizeText(s string) (string, bool) {
	out := strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
	for {
		next := cjkGap.ReplaceAllString(out, "$1$2")
		if next == out {
			break
		}
		out = next
	}
	if out == "" {
		return "", false
	}
	return out, true
}
