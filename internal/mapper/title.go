package mapper

import (
	"regexp"
	"strings"
)

// bracketPrefixRe matches one leading tag of the known vocabulary:
// [P0]..[P4], [PERF...], [TIER n], [BUG], [FIXED], [ACTION], [EPIC], [WIP].
// Applied after lowercasing, repeatedly, so stacked tags all strip.
var bracketPrefixRe = regexp.MustCompile(`^\[(?:p[0-4]|perf[^\]]*|tier\s*\d+|bug|fixed|action|epic|wip)\]\s*`)

// minContainmentLen is the floor below which containment matching is off.
// It keeps "fix bug" from matching every longer title that mentions one.
const minContainmentLen = 10

// NormalizeTitle lowercases, trims, and strips the known bracket prefixes
// from a title. The result is only used for matching, never written back.
func NormalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	for {
		stripped := bracketPrefixRe.ReplaceAllString(t, "")
		if stripped == t {
			break
		}
		t = stripped
	}
	return strings.TrimSpace(t)
}

// TitlesMatch reports whether two raw titles refer to the same issue:
// normalized equality, or, when both normalized forms are longer than
// minContainmentLen, strict containment either way.
func TitlesMatch(a, b string) bool {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if len(na) > minContainmentLen && len(nb) > minContainmentLen {
		return strings.Contains(na, nb) || strings.Contains(nb, na)
	}
	return false
}
