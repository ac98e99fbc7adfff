package analyzers

import "strings"

// homoglyphs maps visually confusable characters to the ASCII letter an
// attacker is imitating.
var homoglyphs = map[rune]rune{
	'0': 'o', '1': 'l', '3': 'e', '4': 'a', '5': 's', '7': 't', '8': 'b', '9': 'g',
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y', 'і': 'i',
	'ѕ': 's', 'ԁ': 'd', 'ɡ': 'g', 'ı': 'i', 'ḷ': 'l', 'ṃ': 'm', 'ṇ': 'n',
	'@': 'a', '$': 's', '!': 'i', '|': 'l',
}

// qwertyNeighbors lists keys adjacent on a QWERTY layout; a one-character
// substitution between neighbors is a plausible typosquat.
var qwertyNeighbors = map[rune]string{
	'q': "wa", 'w': "qes", 'e': "wrd", 'r': "etf", 't': "ryg", 'y': "tuh",
	'u': "yij", 'i': "uok", 'o': "ipl", 'p': "ol",
	'a': "qsz", 's': "adwx", 'd': "sfec", 'f': "dgrv", 'g': "fhtb", 'h': "gjyn",
	'j': "hkum", 'k': "jli", 'l': "kop",
	'z': "asx", 'x': "zsc", 'c': "xdv", 'v': "cfb", 'b': "vgn", 'n': "bhm", 'm': "njk",
}

// DoppelgangerMatch describes how a domain label imitates a brand.
type DoppelgangerMatch struct {
	Brand     string `json:"brand"`
	Label     string `json:"label"`
	Technique string `json:"technique"`
	Distance  int    `json:"distance,omitempty"`
}

// detectDoppelganger checks whether any label of the host imitates a known
// brand via edit distance, homoglyph substitution or keyboard-adjacent
// typos. The brand's own domains never match (exact label == brand with the
// brand as registrable owner is filtered by the caller).
func detectDoppelganger(host, registrable string) *DoppelgangerMatch {
	ownBrand := ""
	if registrable != "" {
		ownBrand, _, _ = strings.Cut(registrable, ".")
	}

	for _, label := range splitLabels(host) {
		if len(label) < 4 {
			continue
		}
		folded := foldHomoglyphs(label)
		for _, brand := range brandTokens {
			if brand == ownBrand {
				continue
			}
			if folded != label && folded == brand {
				return &DoppelgangerMatch{Brand: brand, Label: label, Technique: "homoglyph"}
			}
			if label == brand {
				// Exact brand token inside a foreign domain; the brand
				// impersonation check handles this one.
				continue
			}
			if abs(len(label)-len(brand)) > 2 {
				continue
			}
			d := levenshtein(label, brand)
			if d > 0 && d <= 2 {
				if d == 1 && isQwertySub(label, brand) {
					return &DoppelgangerMatch{Brand: brand, Label: label, Technique: "keyboard_adjacent", Distance: d}
				}
				return &DoppelgangerMatch{Brand: brand, Label: label, Technique: "edit_distance", Distance: d}
			}
			if d2 := levenshtein(foldHomoglyphs(label), brand); folded != label && d2 > 0 && d2 <= 1 {
				return &DoppelgangerMatch{Brand: brand, Label: label, Technique: "homoglyph", Distance: d2}
			}
		}
	}
	return nil
}

// containsBrandToken reports whether a host label equals a brand token that
// the registrable domain does not own. Token-boundary matching: labels are
// split on dots, hyphens and digit runs so "paypal-login.example.tk" flags
// but "paypalace.example" does not.
func containsBrandToken(host, registrable string) (brand string, ok bool) {
	ownBrand := ""
	if registrable != "" {
		ownBrand, _, _ = strings.Cut(registrable, ".")
	}
	for _, label := range splitLabels(host) {
		for _, b := range brandTokens {
			if label == b && b != ownBrand {
				return b, true
			}
		}
	}
	return "", false
}

// splitLabels breaks a host into candidate tokens: dot labels, then each
// label split on hyphens and digit boundaries.
func splitLabels(host string) []string {
	var out []string
	for _, label := range strings.Split(strings.ToLower(host), ".") {
		out = append(out, label)
		for _, part := range strings.FieldsFunc(label, func(r rune) bool {
			return r == '-' || (r >= '0' && r <= '9')
		}) {
			if part != label {
				out = append(out, part)
			}
		}
	}
	return out
}

func foldHomoglyphs(s string) string {
	var b strings.Builder
	for _, r := range s {
		if sub, ok := homoglyphs[r]; ok {
			b.WriteRune(sub)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isQwertySub reports whether a and b differ by exactly one substitution of
// adjacent keys.
func isQwertySub(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	diff := -1
	for i := range a {
		if a[i] != b[i] {
			if diff >= 0 {
				return false
			}
			diff = i
		}
	}
	if diff < 0 {
		return false
	}
	neighbors := qwertyNeighbors[rune(b[diff])]
	return strings.ContainsRune(neighbors, rune(a[diff]))
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
