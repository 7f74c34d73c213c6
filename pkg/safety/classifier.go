package safety

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxScanBytes bounds how much source text is inspected.
	MaxScanBytes = 4 << 10
	// verbWindow is how many tokens after a verb a noun may appear.
	verbWindow = 4
)

var (
	defaultVerbs = []string{
		"create", "update", "modify", "delete", "deploy", "push", "commit",
		"merge", "apply", "provision", "destroy", "terminate", "alter", "change",
	}
	defaultNouns = []string{
		"pull request", "pr", "branch", "repository", "repo", "commit",
		"infrastructure", "stack", "terraform", "instance", "bucket",
		"cluster", "resource", "code",
	}
	defaultPhrases = []string{
		"create pull request", "create pr", "push to", "commit changes", "modify infrastructure",
	}
)

// Match describes why a text was flagged.
type Match struct {
	Phrase string `json:"phrase"`
	Verb   string `json:"verb,omitempty"`
	Noun   string `json:"noun,omitempty"`
}

// Classifier flags free text that asks for a state-changing action. It is
// stateless after construction and safe for concurrent use.
type Classifier struct {
	verbs   map[string]string // inflected form -> base verb
	nouns   [][]string
	nounOf  map[string]string // joined inflected noun -> base noun
	phrases [][]string
}

// NewClassifier returns a classifier with the built-in vocabulary.
func NewClassifier() *Classifier {
	return NewClassifierWith(defaultVerbs, defaultNouns, defaultPhrases)
}

// NewClassifierWith builds a classifier from custom lists. Verbs and nouns
// are given in base form; inflections are generated.
func NewClassifierWith(verbs, nouns, phrases []string) *Classifier {
	c := &Classifier{
		verbs:  make(map[string]string),
		nounOf: make(map[string]string),
	}
	for _, v := range verbs {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		for _, form := range verbForms(v) {
			c.verbs[form] = v
		}
	}
	for _, n := range nouns {
		words := tokenize(n)
		if len(words) == 0 {
			continue
		}
		base := strings.Join(words, " ")
		for _, last := range nounForms(words[len(words)-1]) {
			form := append(append([]string{}, words[:len(words)-1]...), last)
			c.nouns = append(c.nouns, form)
			c.nounOf[strings.Join(form, " ")] = base
		}
	}
	for _, p := range phrases {
		if words := tokenize(p); len(words) > 0 {
			c.phrases = append(c.phrases, words)
		}
	}
	return c
}

// Scan reports the first dangerous-intent match in text. Only the first
// MaxScanBytes bytes are examined. Literal phrases are checked before
// verb/noun pairs.
func (c *Classifier) Scan(text string) (Match, bool) {
	tokens := tokenize(truncate(text, MaxScanBytes))
	if len(tokens) == 0 {
		return Match{}, false
	}

	for _, p := range c.phrases {
		for i := range tokens {
			if hasPrefix(tokens[i:], p) {
				return Match{Phrase: strings.Join(p, " ")}, true
			}
		}
	}

	for i, tok := range tokens {
		verb, ok := c.verbs[tok]
		if !ok {
			continue
		}
		end := i + 1 + verbWindow
		if end > len(tokens) {
			end = len(tokens)
		}
		for j := i + 1; j < end; j++ {
			for _, n := range c.nouns {
				if hasPrefix(tokens[j:], n) {
					noun := c.nounOf[strings.Join(n, " ")]
					phrase := strings.Join(tokens[i:j+len(n)], " ")
					return Match{Phrase: phrase, Verb: verb, Noun: noun}, true
				}
			}
		}
	}
	return Match{}, false
}

func hasPrefix(tokens, words []string) bool {
	if len(words) > len(tokens) {
		return false
	}
	for i, w := range words {
		if tokens[i] != w {
			return false
		}
	}
	return true
}

// tokenize lowercases s and splits it on anything that is not a letter or a
// digit, which gives word-boundary matching.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func verbForms(v string) []string {
	forms := []string{v, thirdPerson(v)}
	stem := v
	if doublesFinalConsonant(v) {
		stem = v + v[len(v)-1:]
	}
	switch {
	case strings.HasSuffix(v, "e"):
		forms = append(forms, v+"d", v[:len(v)-1]+"ing")
	case consonantY(v):
		forms = append(forms, v[:len(v)-1]+"ied", v+"ing")
	default:
		forms = append(forms, stem+"ed", stem+"ing")
	}
	return forms
}

func nounForms(n string) []string {
	return []string{n, thirdPerson(n)}
}

// thirdPerson covers both verb -s forms and regular plurals.
func thirdPerson(w string) string {
	switch {
	case consonantY(w):
		return w[:len(w)-1] + "ies"
	case strings.HasSuffix(w, "s"), strings.HasSuffix(w, "sh"), strings.HasSuffix(w, "ch"),
		strings.HasSuffix(w, "x"), strings.HasSuffix(w, "z"):
		return w + "es"
	default:
		return w + "s"
	}
}

func consonantY(w string) bool {
	return len(w) > 1 && strings.HasSuffix(w, "y") && !isVowel(w[len(w)-2])
}

// doublesFinalConsonant handles stressed final syllables such as commit and
// submit. Regular CVC verbs stressed earlier (alter) are not doubled.
func doublesFinalConsonant(v string) bool {
	switch v {
	case "commit", "submit", "permit", "admit", "omit", "refer", "transfer":
		return true
	}
	return false
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
