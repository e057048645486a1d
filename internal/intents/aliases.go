package intents

import "strings"

// AliasResolver maps account name variants to a canonical account entity.
// The concrete table is injected; the classifier never guesses beyond it.
type AliasResolver interface {
	Resolve(variant string) (canonical string, ok bool)
}

// StaticAliases is an in-memory alias table. Keys are matched
// case-insensitively against the query text, longest variant first.
type StaticAliases struct {
	byVariant map[string]string
	variants  []string // normalized, sorted longest-first for matching
}

// NewStaticAliases builds a resolver from variant -> canonical pairs.
func NewStaticAliases(pairs map[string]string) *StaticAliases {
	s := &StaticAliases{byVariant: make(map[string]string, len(pairs))}
	for variant, canonical := range pairs {
		norm := normalizeName(variant)
		s.byVariant[norm] = canonical
		s.variants = append(s.variants, norm)
	}
	// Longest variant first so "jp morgan chase" wins over "jp morgan".
	for i := 0; i < len(s.variants); i++ {
		for j := i + 1; j < len(s.variants); j++ {
			if len(s.variants[j]) > len(s.variants[i]) {
				s.variants[i], s.variants[j] = s.variants[j], s.variants[i]
			}
		}
	}
	return s
}

// DefaultAliases returns the known account alias table.
func DefaultAliases() *StaticAliases {
	return NewStaticAliases(map[string]string{
		"jpmc":              "jpmorgan-chase",
		"jp morgan":         "jpmorgan-chase",
		"jpmorgan":          "jpmorgan-chase",
		"jpmorgan chase":    "jpmorgan-chase",
		"adventhealth":      "adventhealth",
		"ah":                "adventhealth",
		"advent health":     "adventhealth",
		"bbw":               "bath-body-works",
		"bath & body works": "bath-body-works",
		"bath and body works": "bath-body-works",
		"wellstar":          "wellstar",
		"wellstar health":   "wellstar",
		"target":            "target",
	})
}

// Resolve resolves a single name variant.
func (s *StaticAliases) Resolve(variant string) (string, bool) {
	canonical, ok := s.byVariant[normalizeName(variant)]
	return canonical, ok
}

// match scans free text for any known variant and returns its canonical
// entity. Variants are matched on word boundaries so "ah" does not fire
// inside "ahead".
func (s *StaticAliases) match(text string) (string, bool) {
	norm := " " + normalizeName(text) + " "
	for _, v := range s.variants {
		if strings.Contains(norm, " "+v+" ") {
			return s.byVariant[v], true
		}
	}
	return "", false
}

func normalizeName(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '&':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
