package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/finsight/internal/search"
)

// ChunkEmbedder generates embeddings for passage text.
type ChunkEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PoolWriter persists embedded passages.
type PoolWriter interface {
	InsertFilings(ctx context.Context, records []search.FilingRecord) error
	InsertTranscripts(ctx context.Context, records []search.TranscriptRecord) error
}

// Loader ingests source documents into the local store.
type Loader struct {
	db       *sql.DB
	embedder ChunkEmbedder
	pools    PoolWriter
}

// NewLoader creates a Loader writing through the given store handles.
func NewLoader(db *sql.DB, embedder ChunkEmbedder, pools PoolWriter) *Loader {
	return &Loader{db: db, embedder: embedder, pools: pools}
}

// LoadCompanies upserts the company catalog from CSV rows of
// ticker,name[,currency[,isin]]. A header row is detected and skipped.
// Returns the number of companies written.
func (l *Loader) LoadCompanies(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("reading companies csv: %w", err)
	}

	count := 0
	for i, row := range rows {
		if len(row) < 2 {
			return count, fmt.Errorf("companies csv row %d: expected at least ticker,name", i+1)
		}
		ticker := strings.ToUpper(strings.TrimSpace(row[0]))
		name := strings.TrimSpace(row[1])
		if i == 0 && strings.EqualFold(ticker, "ticker") {
			continue
		}
		if ticker == "" || name == "" {
			return count, fmt.Errorf("companies csv row %d: empty ticker or name", i+1)
		}

		currency := "USD"
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			currency = strings.ToUpper(strings.TrimSpace(row[2]))
		}
		isin := ""
		if len(row) > 3 {
			isin = strings.TrimSpace(row[3])
		}

		_, err := l.db.ExecContext(ctx,
			`INSERT INTO companies (ticker, name, currency, isin) VALUES (?, ?, ?, ?)
			 ON CONFLICT(ticker) DO UPDATE SET name = excluded.name, currency = excluded.currency, isin = excluded.isin`,
			ticker, name, currency, isin)
		if err != nil {
			return count, fmt.Errorf("upserting company %s: %w", ticker, err)
		}
		count++
	}
	return count, nil
}

// LoadFiling extracts the priority sections from a 10-K document, chunks and
// embeds them, and stores the passages. HTML and PDF inputs are supported by
// extension; anything else is treated as pre-extracted plain text. Returns
// the number of passages stored.
func (l *Loader) LoadFiling(ctx context.Context, ticker string, fiscalYear int, path string) (int, error) {
	ticker = strings.ToUpper(ticker)

	var (
		sections []Section
		err      error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		f, openErr := os.Open(path)
		if openErr != nil {
			return 0, fmt.Errorf("opening filing: %w", openErr)
		}
		sections, err = ExtractFilingHTML(f)
		f.Close()
	case ".pdf":
		sections, err = ExtractFilingPDF(path)
	default:
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return 0, fmt.Errorf("reading filing: %w", readErr)
		}
		sections = splitIntoSections(string(raw))
	}
	if err != nil {
		return 0, err
	}
	if len(sections) == 0 {
		return 0, fmt.Errorf("no recognizable item sections in %s", path)
	}

	var records []search.FilingRecord
	var texts []string
	for _, sec := range sections {
		for idx, chunk := range ChunkText(sec.Text, ChunkWords, OverlapWords) {
			records = append(records, search.FilingRecord{
				ID:              uuid.New().String(),
				Ticker:          ticker,
				FiscalYear:      fiscalYear,
				ItemLabel:       sec.Label,
				ItemDescription: sec.Description,
				ChunkIndex:      idx,
				Text:            chunk,
			})
			texts = append(texts, chunk)
		}
	}

	vectors, err := l.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding filing passages: %w", err)
	}
	for i := range records {
		records[i].Embedding = vectors[i]
	}

	if err := l.pools.InsertFilings(ctx, records); err != nil {
		return 0, fmt.Errorf("storing filing passages: %w", err)
	}
	return len(records), nil
}

// speakerLine matches a transcript turn opener like "Tim Cook: Thanks, ...".
var speakerLine = regexp.MustCompile(`^([A-Z][A-Za-z .'\-]{1,60}?):\s+(.*)$`)

// LoadTranscript parses an earnings call transcript in "Speaker: text" form,
// chunks each speaker turn, embeds the chunks, and stores the passages.
// Returns the number of passages stored.
func (l *Loader) LoadTranscript(ctx context.Context, ticker string, fiscalYear, fiscalQuarter int, path string) (int, error) {
	ticker = strings.ToUpper(ticker)
	if fiscalQuarter < 1 || fiscalQuarter > 4 {
		return 0, fmt.Errorf("fiscal quarter must be 1..4, got %d", fiscalQuarter)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading transcript: %w", err)
	}

	turns := parseTranscript(string(raw))
	if len(turns) == 0 {
		return 0, fmt.Errorf("no speaker turns found in %s", path)
	}

	var records []search.TranscriptRecord
	var texts []string
	for _, turn := range turns {
		for idx, chunk := range ChunkText(turn.text, ChunkWords, OverlapWords) {
			records = append(records, search.TranscriptRecord{
				ID:            uuid.New().String(),
				Ticker:        ticker,
				FiscalYear:    fiscalYear,
				FiscalQuarter: fiscalQuarter,
				Speaker:       turn.speaker,
				ChunkIndex:    idx,
				Text:          chunk,
			})
			texts = append(texts, chunk)
		}
	}

	vectors, err := l.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding transcript passages: %w", err)
	}
	for i := range records {
		records[i].Embedding = vectors[i]
	}

	if err := l.pools.InsertTranscripts(ctx, records); err != nil {
		return 0, fmt.Errorf("storing transcript passages: %w", err)
	}
	return len(records), nil
}

type speakerTurn struct {
	speaker string
	text    string
}

// parseTranscript groups transcript lines under their speakers. Text before
// the first speaker line (operator boilerplate, headers) is attributed to
// "Operator" when non-trivial.
func parseTranscript(raw string) []speakerTurn {
	var turns []speakerTurn
	var current *speakerTurn

	flush := func() {
		if current != nil && strings.TrimSpace(current.text) != "" {
			current.text = strings.TrimSpace(current.text)
			turns = append(turns, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := speakerLine.FindStringSubmatch(line); m != nil {
			flush()
			current = &speakerTurn{speaker: strings.TrimSpace(m[1]), text: m[2]}
			continue
		}
		if current == nil {
			current = &speakerTurn{speaker: "Operator"}
		}
		if current.text != "" {
			current.text += " "
		}
		current.text += line
	}
	flush()

	return turns
}
