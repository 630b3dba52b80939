package dotphrase

import "strings"

// Token is one dot-phrase occurrence in source text, e.g. ".labs/a1c:last".
type Token struct {
	Raw   string `json:"raw"`
	Name  string `json:"name"`
	Tail  string `json:"tail"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// occurrence is a Token plus whether it sits inside escape braces.
type occurrence struct {
	Token
	escaped bool
}

func isLetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }
func isDigit(b byte) bool  { return b >= '0' && b <= '9' }
func isWord(b byte) bool   { return isLetter(b) || isDigit(b) || b == '_' }

func isSegmentMark(b byte) bool {
	switch b {
	case '/', ':', ',', '=', '-', '+':
		return true
	}
	return false
}

// Scan returns the expandable tokens in text, unique by Raw, in order of
// first occurrence. Escaped occurrences ("{.name}") are never returned.
func Scan(text string) []Token {
	return uniqueTokens(scanOccurrences(text))
}

func uniqueTokens(occs []occurrence) []Token {
	seen := map[string]bool{}
	var tokens []Token
	for _, o := range occs {
		if o.escaped || seen[o.Raw] {
			continue
		}
		seen[o.Raw] = true
		tokens = append(tokens, o.Token)
	}
	return tokens
}

// mayContainToken reports whether text has any '.' directly followed by a
// letter. It is the cheap pre-check before a full scan.
func mayContainToken(text string) bool {
	for i := strings.IndexByte(text, '.'); i >= 0 && i+1 < len(text); {
		if isLetter(text[i+1]) {
			return true
		}
		next := strings.IndexByte(text[i+1:], '.')
		if next < 0 {
			return false
		}
		i += next + 1
	}
	return false
}

// scanOccurrences walks text once and returns every dot-phrase, escaped ones
// included, in source order. A token starts at a '.' that is at the start of
// text or follows a non-word byte, and whose next byte is a letter.
func scanOccurrences(text string) []occurrence {
	var out []occurrence
	n := len(text)
	for i := 0; i < n; i++ {
		if text[i] != '.' {
			continue
		}
		if i > 0 && isWord(text[i-1]) {
			continue
		}
		if i+1 >= n || !isLetter(text[i+1]) {
			continue
		}

		j := i + 2
		for j < n && isWord(text[j]) {
			j++
		}
		nameEnd := j
		j = scanTail(text, j)

		occ := occurrence{Token: Token{
			Raw:   text[i:j],
			Name:  strings.ToLower(text[i+1 : nameEnd]),
			Tail:  text[nameEnd:j],
			Start: i,
			End:   j,
		}}
		occ.escaped = i > 0 && text[i-1] == '{' && j < n && text[j] == '}'
		out = append(out, occ)
		i = j - 1
	}
	return out
}

// scanTail consumes argument segments greedily. A segment is one mark byte
// (or the range separator "..") followed by at least one word byte, so
// trailing sentence punctuation is never swallowed.
func scanTail(text string, j int) int {
	n := len(text)
	for j < n {
		switch {
		case isSegmentMark(text[j]) && j+1 < n && isWord(text[j+1]):
			j++
		case text[j] == '.' && j+2 < n && text[j+1] == '.' && isWord(text[j+2]):
			j += 2
		default:
			return j
		}
		for j < n && isWord(text[j]) {
			j++
		}
	}
	return j
}
