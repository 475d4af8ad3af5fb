package risk

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

// Entry is one weighted phrase in the lexicon.
type Entry struct {
	Phrase   string  `yaml:"phrase"`
	Weight   float64 `yaml:"weight"`
	Category string  `yaml:"category"`
	Lang     string  `yaml:"lang"`

	// lowered is the match form, computed on load.
	lowered string
}

// Lexicon is an immutable set of weighted phrases. Construct one with
// LoadLexicon or DefaultLexicon and pass it to the engine; there is no
// package-level lexicon state.
type Lexicon struct {
	entries []Entry
}

type lexiconFile struct {
	Entries []Entry `yaml:"entries"`
}

// DefaultLexicon parses the embedded lexicon.
func DefaultLexicon() (*Lexicon, error) {
	return parseLexicon(defaultLexiconYAML)
}

// LoadLexicon reads a lexicon from path, or the embedded default when path
// is empty.
func LoadLexicon(path string) (*Lexicon, error) {
	if path == "" {
		return DefaultLexicon()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	lex, err := parseLexicon(raw)
	if err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}
	return lex, nil
}

func parseLexicon(raw []byte) (*Lexicon, error) {
	var file lexiconFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unmarshal lexicon: %w", err)
	}
	if len(file.Entries) == 0 {
		return nil, fmt.Errorf("lexicon has no entries")
	}
	for i := range file.Entries {
		e := &file.Entries[i]
		if e.Phrase == "" {
			return nil, fmt.Errorf("lexicon entry %d has empty phrase", i)
		}
		if e.Weight <= 0 || e.Weight > 1 {
			return nil, fmt.Errorf("lexicon entry %q weight %v outside (0,1]", e.Phrase, e.Weight)
		}
		e.lowered = strings.ToLower(e.Phrase)
	}
	return &Lexicon{entries: file.Entries}, nil
}

// Len returns the number of entries.
func (l *Lexicon) Len() int {
	return len(l.entries)
}
