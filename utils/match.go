package utils

// MatchCode reports whether a permission code matches a pattern. '*' matches
// any run of characters, including the empty run; everything else matches
// literally. Codes are flat underscore-separated strings, so '*' has no
// segment boundary to stop at.
func MatchCode(code, pattern string) bool {
	return matchFrom(code, pattern, 0, 0)
}

func matchFrom(code, pattern string, ci, pi int) bool {
	for pi < len(pattern) {
		if pattern[pi] == '*' {
			// collapse consecutive stars
			for pi < len(pattern) && pattern[pi] == '*' {
				pi++
			}
			if pi == len(pattern) {
				return true
			}
			for k := ci; k <= len(code); k++ {
				if matchFrom(code, pattern, k, pi) {
					return true
				}
			}
			return false
		}
		if ci >= len(code) || code[ci] != pattern[pi] {
			return false
		}
		ci++
		pi++
	}
	return ci == len(code)
}

// HasWildcard reports whether a pattern contains a '*'.
func HasWildcard(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' {
			return true
		}
	}
	return false
}
