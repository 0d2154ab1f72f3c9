package retrieval

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/store"
)

// SynonymGroup lists phrases that mean the same thing in benefits and
// immigration law. Any phrase in a group expands to the others.
type SynonymGroup []string

// LegalSynonyms is the built-in table. Program acronyms come first so
// that "ei" reaches "employment insurance" within the expansion cap.
var LegalSynonyms = []SynonymGroup{
	// Federal and provincial programs
	{"ei", "employment insurance"},
	{"cpp", "canada pension plan"},
	{"oas", "old age security"},
	{"gis", "guaranteed income supplement"},
	{"ow", "ontario works"},
	{"odsp", "ontario disability support program"},

	// Eligibility vocabulary
	{"disability", "disabled", "incapacity"},
	{"eligibility", "eligible", "qualify", "qualification", "entitlement"},
	{"unemployment", "jobless", "job loss"},
	{"benefit", "benefits", "payment", "allowance"},
	{"income", "earnings"},
	{"spouse", "common law partner"},
	{"sickness", "illness", "medical"},

	// Immigration status
	{"temporary resident", "temporary foreign worker", "work permit holder"},
	{"permanent resident", "landed immigrant"},

	// Instruments and process
	{"regulation", "regulations", "rule"},
	{"statute", "act", "legislation"},
	{"appeal", "reconsideration", "review"},
}

type synonymFile struct {
	Groups []SynonymGroup `yaml:"groups"`
}

// LoadSynonyms reads a YAML file of the form
//
//	groups:
//	  - [ei, employment insurance]
//	  - [sin, social insurance number]
//
// Groups with fewer than two phrases are dropped.
func LoadSynonyms(path string) ([]SynonymGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeSynonymsFile, fmt.Sprintf("failed to read synonyms file: %v", err), err)
	}
	var f synonymFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeSynonymsFile, fmt.Sprintf("failed to parse synonyms file %s: %v", path, err), err).
			WithSuggestion("Expected a top-level 'groups' list of phrase lists")
	}
	out := make([]SynonymGroup, 0, len(f.Groups))
	for _, g := range f.Groups {
		var clean SynonymGroup
		for _, phrase := range g {
			if p := strings.Join(store.Tokenize(phrase), " "); p != "" {
				clean = append(clean, p)
			}
		}
		if len(clean) >= 2 {
			out = append(out, clean)
		}
	}
	return out, nil
}

// LoadVocabulary reads one term per line. Blank lines and lines starting
// with # are skipped.
func LoadVocabulary(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeSynonymsFile, fmt.Sprintf("failed to open vocabulary file: %v", err), err)
	}
	defer f.Close()

	var terms []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, store.Tokenize(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file %s: %w", path, err)
	}
	return terms, nil
}
