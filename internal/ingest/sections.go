package ingest

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// Section is one extracted 10-K item.
type Section struct {
	Label       string
	Description string
	Text        string
}

// prioritySections maps the 10-K items worth indexing to their standard
// descriptions. Items outside this set (exhibits, signatures, controls
// boilerplate) are skipped.
var prioritySections = map[string]string{
	"Item 1":  "Business",
	"Item 1A": "Risk Factors",
	"Item 1B": "Unresolved Staff Comments",
	"Item 1C": "Cybersecurity",
	"Item 2":  "Properties",
	"Item 3":  "Legal Proceedings",
	"Item 5":  "Market for Registrant's Common Equity",
	"Item 7":  "Management's Discussion and Analysis",
	"Item 7A": "Quantitative and Qualitative Disclosures About Market Risk",
}

// itemHeading matches item headings at a line start. Letter suffixes come
// before the bare number in the alternation so "Item 1A" does not match as
// "Item 1".
var itemHeading = regexp.MustCompile(`(?im)^\s*item\s+(1A|1B|1C|7A|1|2|3|5|7)\b\.?\s*`)

// ExtractFilingHTML pulls the priority item sections out of a 10-K HTML
// document. Tables are dropped: their cell runs chunk into noise, and the
// structured backend covers the numbers anyway.
func ExtractFilingHTML(r io.Reader) ([]Section, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing filing html: %w", err)
	}

	doc.Find("script, style, table").Remove()

	var b strings.Builder
	doc.Find("p, div, span, li, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		// Only leaf-ish nodes, so nested containers don't duplicate text.
		if s.Children().Length() > 2 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteByte('\n')
	})

	return splitIntoSections(b.String()), nil
}

// ExtractFilingPDF pulls the priority item sections out of a 10-K PDF.
func ExtractFilingPDF(path string) ([]Section, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening filing pdf: %w", err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return nil, fmt.Errorf("reading pdf text: %w", err)
	}

	return splitIntoSections(buf.String()), nil
}

// splitIntoSections walks the item headings in order and keeps the text
// between priority headings. A filing's table of contents repeats every
// heading with almost no body; those near-empty matches are skipped so the
// real section later in the document wins.
func splitIntoSections(text string) []Section {
	matches := itemHeading.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	const minSectionWords = 50

	byLabel := make(map[string]string)
	var order []string
	for i, m := range matches {
		label := "Item " + strings.ToUpper(text[m[2]:m[3]])
		if _, ok := prioritySections[label]; !ok {
			continue
		}

		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(text[m[1]:end])
		if len(strings.Fields(body)) < minSectionWords {
			continue
		}

		if _, seen := byLabel[label]; !seen {
			order = append(order, label)
		}
		// Last substantial occurrence wins over earlier summary repeats.
		byLabel[label] = body
	}

	sections := make([]Section, 0, len(order))
	for _, label := range order {
		sections = append(sections, Section{
			Label:       label,
			Description: prioritySections[label],
			Text:        byLabel[label],
		})
	}
	return sections
}
