package tier

import (
	"time"

	"github.com/Aman-CERP/regsearch/internal/store"
)

func date(s string) time.Time {
	t, err := time.Parse(store.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testPassages() []*store.Passage {
	return []*store.Passage{
		{
			ID: "eia-7", Title: "Qualification for benefits", Citation: "EIA s. 7",
			Jurisdiction: "CA", DocType: "statute", Program: "EI",
			EffectiveDate: date("2019-01-01"),
			Text:          "Unemployment benefits are payable to an insured person who qualifies under this section and has had an interruption of earnings from employment.",
			Cites:         []string{"eir-14"},
		},
		{
			ID: "eir-14", Title: "Insurable hours", Citation: "EIR s. 14",
			Jurisdiction: "CA", DocType: "regulation", Program: "EI",
			EffectiveDate: date("2020-06-15"),
			Text:          "The number of hours of insurable employment required for benefits is determined by the regional rate of unemployment.",
		},
		{
			ID: "cpp-42", Title: "Disability pension", Citation: "CPP s. 42(2)",
			Jurisdiction: "CA", DocType: "statute", Program: "CPP",
			EffectiveDate: date("2018-03-01"),
			Text:          "A person shall be considered to be disabled only if the disability is severe and prolonged.",
			Cites:         []string{"eia-7"},
		},
		{
			ID: "on-ows-5", Title: "Ontario Works eligibility", Citation: "OWA s. 5",
			Jurisdiction: "ON", DocType: "statute", Program: "OW",
			Text: "A person is eligible for basic financial assistance if the budgetary requirements exceed income.",
		},
	}
}

func hitIDs(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocumentID
	}
	return ids
}

func testDescriptor(name string, policy FilterPolicy) Descriptor {
	return Descriptor{
		Name:    name,
		Kind:    name,
		Policy:  policy,
		Timeout: time.Second,
		MinHits: 1,
		Weight:  1,
	}
}
