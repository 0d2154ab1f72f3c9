//go:build ignore

// Package main generates a synthetic passage corpus for load testing.
// Usage: go run scripts/generate-passages.go -passages 5000 -output testdata/bench/passages.jsonl
//
// Output is one JSON object per line in the format read by 'regsearch load'.
// Passages cite earlier sections of the same act so the citation graph has
// edges to walk.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	numPassages = flag.Int("passages", 5000, "Number of passages to generate")
	output      = flag.String("output", "testdata/bench/passages.jsonl", "Output file, or - for stdout")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
	maxCites    = flag.Int("cites", 3, "Maximum citations per passage")
)

type act struct {
	prefix  string
	title   string
	program string
}

var acts = []act{
	{"eia", "Employment Insurance Act", "ei"},
	{"cppa", "Canada Pension Plan", "cpp"},
	{"oasa", "Old Age Security Act", "oas"},
	{"irpa", "Immigration and Refugee Protection Act", "immigration"},
	{"owa", "Ontario Works Act", "ow"},
}

var jurisdictions = []string{"federal", "federal", "federal", "ontario", "quebec"}

var docTypes = []string{"statute", "statute", "regulation", "policy"}

var subjects = []string{
	"a claimant", "a beneficiary", "the applicant", "a seasonal worker",
	"a permanent resident", "a temporary resident", "the spouse",
	"a person with a disability", "a self-employed person",
}

var conditions = []string{
	"has accumulated the required hours of insurable employment",
	"has resided in Canada for at least ten years",
	"has contributed for the minimum qualifying period",
	"is unable to work because of illness or injury",
	"holds a valid work permit",
	"has filed an application within the prescribed time",
	"has income below the prescribed threshold",
}

var outcomes = []string{
	"qualifies for benefits",
	"is entitled to a monthly payment",
	"may request a reconsideration of the decision",
	"is eligible for additional weeks of benefits",
	"shall repay any overpayment",
	"may receive a supplementary allowance",
}

var headings = []string{
	"Qualification", "Benefit period", "Entitlement", "Reconsideration",
	"Overpayments", "Residence requirements", "Application", "Earnings",
}

type passage struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Citation      string   `json:"citation"`
	Jurisdiction  string   `json:"jurisdiction"`
	DocType       string   `json:"doc_type"`
	Program       string   `json:"program"`
	EffectiveDate string   `json:"effective_date"`
	Text          string   `json:"text"`
	Cites         []string `json:"cites,omitempty"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	out := os.Stdout
	if *output != "-" {
		if err := os.MkdirAll(filepath.Dir(*output), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
			os.Exit(1)
		}
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", *output, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	sections := make(map[string]int, len(acts))
	base := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < *numPassages; i++ {
		a := acts[rng.Intn(len(acts))]
		sections[a.prefix]++
		n := sections[a.prefix]

		p := passage{
			ID:            fmt.Sprintf("%s-%d", a.prefix, n),
			Title:         pick(rng, headings),
			Citation:      fmt.Sprintf("%s s. %d", strings.ToUpper(a.prefix), n),
			Jurisdiction:  pick(rng, jurisdictions),
			DocType:       pick(rng, docTypes),
			Program:       a.program,
			EffectiveDate: base.AddDate(0, 0, rng.Intn(15*365)).Format(time.DateOnly),
			Text:          sentence(rng, a),
		}
		for c := rng.Intn(*maxCites + 1); c > 0 && n > 1; c-- {
			p.Cites = append(p.Cites, fmt.Sprintf("%s-%d", a.prefix, 1+rng.Intn(n-1)))
		}
		if err := enc.Encode(p); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing passage %d: %v\n", i, err)
			os.Exit(1)
		}
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Generated %d passages across %d acts.\n", *numPassages, len(acts))
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func sentence(rng *rand.Rand, a act) string {
	return fmt.Sprintf("Under the %s, %s who %s %s.",
		a.title, pick(rng, subjects), pick(rng, conditions), pick(rng, outcomes))
}
