package linkerscript

// MatchPattern reports whether name matches a linker-script wildcard
// pattern: '*' matches any run of characters, '?' matches exactly one,
// and '[...]' matches a character class (with optional leading '!' or '^'
// for negation), mirroring the shell-glob subset GNU ld documents for
// input-section and file-name patterns (spec.md section 6).
func MatchPattern(pattern, name string) bool {
	return matchHere(pattern, name)
}

func matchHere(pat, s string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case '*':
			// Collapse consecutive '*' and try every suffix of s.
			for len(pat) > 0 && pat[0] == '*' {
				pat = pat[1:]
			}
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchHere(pat, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			pat, s = pat[1:], s[1:]
		case '[':
			end := classEnd(pat)
			if end < 0 || len(s) == 0 {
				return false
			}
			if !matchClass(pat[1:end], s[0]) {
				return false
			}
			pat, s = pat[end+1:], s[1:]
		case '\\':
			if len(pat) < 2 || len(s) == 0 || pat[1] != s[0] {
				return false
			}
			pat, s = pat[2:], s[1:]
		default:
			if len(s) == 0 || pat[0] != s[0] {
				return false
			}
			pat, s = pat[1:], s[1:]
		}
	}
	return len(s) == 0
}

// classEnd returns the index of the closing ']' for a '[' class starting at
// pat[0], or -1 if unterminated.
func classEnd(pat string) int {
	i := 1
	if i < len(pat) && (pat[i] == '!' || pat[i] == '^') {
		i++
	}
	if i < len(pat) && pat[i] == ']' {
		i++ // a ']' immediately after the (optional) negation is literal
	}
	for i < len(pat) {
		if pat[i] == ']' {
			return i
		}
		i++
	}
	return -1
}

func matchClass(class string, b byte) bool {
	negate := false
	if len(class) > 0 && (class[0] == '!' || class[0] == '^') {
		negate = true
		class = class[1:]
	}
	found := false
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= b && b <= class[i+2] {
				found = true
			}
			i += 2
			continue
		}
		if class[i] == b {
			found = true
		}
	}
	return found != negate
}
