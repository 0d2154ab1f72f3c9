package retrieval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/regsearch/internal/config"
)

func TestExpander_AcronymExpandsToPhrase(t *testing.T) {
	// Given: the default expander
	e := NewExpander()

	// When: expanding a program acronym
	eq := e.Expand(Query{Text: "ei sickness"})

	// Then: the lexical variant carries the phrase; the semantic one does not
	assert.Contains(t, eq.Lexical, "employment insurance")
	assert.Contains(t, eq.Lexical, "illness")
	assert.Equal(t, "ei sickness", eq.Semantic)
	assert.Equal(t, []string{"employment insurance"}, eq.Expansions["ei"])
}

func TestExpander_PhraseExpandsToAcronym(t *testing.T) {
	e := NewExpander()

	eq := e.Expand(Query{Text: "Canada Pension Plan disability"})

	assert.Equal(t, []string{"cpp"}, eq.Expansions["canada pension plan"])
	assert.Contains(t, eq.Terms, "cpp")
	assert.Contains(t, eq.Terms, "incapacity")
}

func TestExpander_KeepsOriginalFirst(t *testing.T) {
	e := NewExpander()

	eq := e.Expand(Query{Text: "odsp income"})

	assert.Equal(t, "odsp income", eq.Lexical[:len("odsp income")])
	assert.Equal(t, "odsp", eq.Terms[0])
	assert.Equal(t, "income", eq.Terms[1])
}

func TestExpander_MaxExpansions(t *testing.T) {
	// Given: a cap of one phrase per match
	e := NewExpander(WithMaxExpansions(1))

	// When: expanding a term from a five-phrase group
	eq := e.Expand(Query{Text: "eligibility"})

	// Then: only the first other phrase is added
	assert.Equal(t, []string{"eligible"}, eq.Expansions["eligibility"])
	assert.Equal(t, "eligibility eligible", eq.Lexical)
}

func TestExpander_FuzzyCorrection(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		typo  string
		want  string
		fixed bool
	}{
		{"transposition exceeds one edit", "pensoin", "pensoin", "", false},
		{"one edit in a medium term", "disabilty", "disabilty", "disability", true},
		{"two edits in a long term", "elegibilty", "elegibilty", "eligibility", true},
		{"known term untouched", "income", "income", "", false},
		{"short term untouched", "cpq", "cpq", "", false},
		{"numbers untouched", "20190", "20190", "", false},
	}
	e := NewExpander(WithVocabulary([]string{"pension"}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq := e.Expand(Query{Text: tt.text})
			got, ok := eq.Corrections[tt.typo]
			assert.Equal(t, tt.fixed, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpander_CorrectionFeedsSynonyms(t *testing.T) {
	// Given: a misspelled multi-word program name
	e := NewExpander()

	// When: expanded
	eq := e.Expand(Query{Text: "employmnt insurance"})

	// Then: the correction is added and the corrected phrase expands
	assert.Equal(t, "employment", eq.Corrections["employmnt"])
	assert.Equal(t, []string{"ei"}, eq.Expansions["employment insurance"])
	assert.Equal(t, "employmnt insurance employment ei", eq.Lexical)
}

func TestExpander_FuzzyDisabled(t *testing.T) {
	e := NewExpander(WithFuzzy(false, 0))

	eq := e.Expand(Query{Text: "disabilty"})

	assert.Empty(t, eq.Corrections)
	assert.Equal(t, "disabilty", eq.Lexical)
}

func TestExpander_NoMatchLeavesQueryAlone(t *testing.T) {
	e := NewExpander()

	eq := e.Expand(Query{Text: "section 12(3)(b)"})

	assert.Equal(t, "section 12(3)(b)", eq.Lexical)
	assert.Empty(t, eq.Expansions)
}

func TestNewExpanderFromConfig_LoadsFiles(t *testing.T) {
	// Given: a synonyms file and a vocabulary file
	dir := t.TempDir()
	synPath := filepath.Join(dir, "synonyms.yaml")
	require.NoError(t, os.WriteFile(synPath, []byte(`groups:
  - [sin, social insurance number]
  - [lonely]
`), 0o644))
	vocabPath := filepath.Join(dir, "vocab.txt")
	require.NoError(t, os.WriteFile(vocabPath, []byte("# statute terms\nremuneration\n\narrears\n"), 0o644))

	// When: building from config
	e, err := NewExpanderFromConfig(config.ExpansionConfig{
		SynonymsFile:   synPath,
		VocabularyFile: vocabPath,
		MaxExpansions:  3,
		Fuzzy:          true,
		MinFuzzyLength: 4,
	})
	require.NoError(t, err)

	// Then: custom groups expand alongside built-ins, and the vocabulary corrects
	eq := e.Expand(Query{Text: "sin renumeration"})
	assert.Equal(t, []string{"social insurance number"}, eq.Expansions["sin"])
	assert.Equal(t, "remuneration", eq.Corrections["renumeration"])
	assert.Equal(t, []string{"employment insurance"}, e.Expand(Query{Text: "ei"}).Expansions["ei"])
}

func TestLoadSynonyms_Errors(t *testing.T) {
	_, err := LoadSynonyms(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("groups: {not: [a list"), 0o644))
	_, err = LoadSynonyms(bad)
	assert.Error(t, err)
}
