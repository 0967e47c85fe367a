package osc

import "strings"

// MatchesAddressPattern reports whether the message address starts with
// parts matching pattern. The pattern may be shorter than the address.
func (m *Message) MatchesAddressPattern(pattern string) bool {
	p := SplitAddress(pattern)
	if len(m.Address) < len(p) {
		return false
	}
	for i := range p {
		if !MatchPart(m.Address[i], p[i]) {
			return false
		}
	}
	return true
}

// MatchesAddress treats the message address as a pattern and reports
// whether it matches every part of address.
func (m *Message) MatchesAddress(address string) bool {
	a := SplitAddress(address)
	if len(m.Address) != len(a) {
		return false
	}
	for i := range a {
		if !MatchPart(a[i], m.Address[i]) {
			return false
		}
	}
	return true
}

// MatchPart matches one address part against one pattern part.
//
// A '*' runs to the first occurrence of the literal that follows it, with no
// backtracking. '?' matches one character, "[a-z]" and "[!abc]" match one
// character from or outside a set, and "{foo,ba}" tries each alternative
// against the rest of the part.
func MatchPart(address, pattern string) bool {
	if address == pattern {
		return true
	}

	ai, pj := 0, 0
	for ai < len(address) && pj < len(pattern) {
		switch c := pattern[pj]; c {
		case '*':
			pj++
			if pj == len(pattern) {
				return true
			}
			next := pattern[pj]
			if isSpecial(next) {
				continue
			}
			k := strings.IndexByte(address[ai:], next)
			if k < 0 {
				return false
			}
			ai += k + 1
			pj++
		case '?':
			ai++
			pj++
		case '[':
			end := strings.IndexByte(pattern[pj+1:], ']')
			if end < 0 {
				return false
			}
			if !matchClass(address[ai], pattern[pj+1:pj+1+end]) {
				return false
			}
			ai++
			pj += end + 2
		case '{':
			return matchAlternatives(address[ai:], pattern[pj+1:])
		default:
			if c != address[ai] {
				return false
			}
			ai++
			pj++
		}
	}

	return ai == len(address) && strings.Trim(pattern[pj:], "*") == ""
}

func isSpecial(c byte) bool {
	switch c {
	case '*', '?', '[', '{':
		return true
	}
	return false
}

func matchClass(c byte, list string) bool {
	negate := strings.HasPrefix(list, "!")
	if negate {
		list = list[1:]
	}

	found := false
	for i := 0; i < len(list) && !found; {
		if i+2 < len(list) && list[i+1] == '-' {
			found = list[i] <= c && c <= list[i+2]
			i += 3
			continue
		}
		found = list[i] == c
		i++
	}
	return found != negate
}

// matchAlternatives matches address against pattern, which begins just after
// an opening brace.
func matchAlternatives(address, pattern string) bool {
	end := strings.IndexByte(pattern, '}')
	if end < 0 {
		return false
	}
	rest := pattern[end+1:]
	for _, alt := range strings.Split(pattern[:end], ",") {
		if strings.HasPrefix(address, alt) && MatchPart(address[len(alt):], rest) {
			return true
		}
	}
	return false
}
