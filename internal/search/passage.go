// Package search is the semantic retrieval path: it embeds a query once and
// runs nearest-neighbor search over two passage pools (10-K filing excerpts
// and earnings-call transcript excerpts), merging the results into a single
// similarity-ranked sequence.
package search

import "fmt"

// Pool identifies which corpus a passage came from.
type Pool string

const (
	PoolFiling     Pool = "10-K Filing"
	PoolTranscript Pool = "Earning Call"
)

// Passage is one retrieved excerpt with its similarity score and
// pool-specific provenance fields.
type Passage struct {
	Pool        Pool    `json:"source_type"`
	Ticker      string  `json:"ticker"`
	CompanyName string  `json:"company_name"`
	Text        string  `json:"chunk_text"`
	Similarity  float64 `json:"similarity"`

	// Filing passages carry a section label.
	SectionLabel string `json:"item_label,omitempty"`

	// Transcript passages carry a period and speaker.
	FiscalQuarter int    `json:"fiscal_quarter,omitempty"`
	Speaker       string `json:"speaker,omitempty"`

	FiscalYear int `json:"fiscal_year,omitempty"`
}

// PeriodLabel returns a human-readable period tag: "Q3 2024" for transcript
// passages, "FY 2024" for filings.
func (p Passage) PeriodLabel() string {
	if p.Pool == PoolTranscript {
		return fmt.Sprintf("Q%d %d", p.FiscalQuarter, p.FiscalYear)
	}
	return fmt.Sprintf("FY %d", p.FiscalYear)
}
