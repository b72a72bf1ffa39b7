// Package orchestrator owns the end-to-end query pipeline: classification,
// entity validation, routing to the structured and semantic backends, answer
// synthesis, and the outer failure boundary. Every envelope it returns is
// user-safe regardless of which path was taken.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/finsight/internal/catalog"
	"github.com/kalambet/finsight/internal/classify"
	"github.com/kalambet/finsight/internal/search"
	"github.com/kalambet/finsight/internal/sqlgen"
)

// Source is one citation attached to a semantic or hybrid envelope.
type Source struct {
	Company    string `json:"company"`
	Ticker     string `json:"ticker"`
	SourceType string `json:"source_type"`
	Section    string `json:"section"`
	Speaker    string `json:"speaker,omitempty"`
}

// Envelope is the uniform pipeline output. On failure, Answer always holds a
// non-empty user-safe message, never raw error text; ErrorDetail carries the
// raw failure text for diagnostics.
type Envelope struct {
	Success          bool         `json:"success"`
	Answer           string       `json:"answer"`
	Category         string       `json:"query_type"`
	ErrorKind        ErrorKind    `json:"error_type,omitempty"`
	ErrorDetail      string       `json:"error_detail,omitempty"`
	SQL              string       `json:"sql,omitempty"`
	Rows             []sqlgen.Row `json:"data,omitempty"`
	RowCount         int          `json:"row_count,omitempty"`
	Sources          []Source     `json:"sources,omitempty"`
	PassageCount     int          `json:"chunk_count,omitempty"`
	InvalidCompanies []string     `json:"invalid_companies,omitempty"`
}

// QueryClassifier maps a query to its routing category and company mentions.
type QueryClassifier interface {
	Classify(ctx context.Context, query string) classify.Classification
}

// StructuredBackend is the tabular financial-statement query path.
type StructuredBackend interface {
	Run(ctx context.Context, query string, mentioned []classify.Company) sqlgen.Result
}

// SemanticBackend is the passage retrieval path.
type SemanticBackend interface {
	SearchAllPools(ctx context.Context, query string, tickers []string, topK int, includeFilings, includeTranscripts bool) []search.Passage
}

// Synthesizer produces the final answer text.
type Synthesizer interface {
	FromRows(ctx context.Context, query string, rows []sqlgen.Row, sqlText string) string
	FromPassages(ctx context.Context, query string, passages []search.Passage) string
	FromHybrid(ctx context.Context, query string, rows []sqlgen.Row, sqlText string, passages []search.Passage) string
}

// EntityCatalog is the entity validation and display-name lookup surface.
type EntityCatalog interface {
	All(ctx context.Context) (map[string]string, error)
	Examples(ctx context.Context, n int) ([]catalog.Company, error)
}

// Orchestrator wires the pipeline components together. It holds no per-query
// state; Process may be called repeatedly.
type Orchestrator struct {
	classifier QueryClassifier
	structured StructuredBackend
	semantic   SemanticBackend
	synth      Synthesizer
	catalog    EntityCatalog
}

// New creates an Orchestrator with all collaborators injected, so tests can
// substitute fixtures for any of them.
func New(classifier QueryClassifier, structured StructuredBackend, semantic SemanticBackend, synth Synthesizer, cat EntityCatalog) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		structured: structured,
		semantic:   semantic,
		synth:      synth,
		catalog:    cat,
	}
}

const (
	// maxExampleCompanies caps how many known entities a validation-failure
	// message suggests.
	maxExampleCompanies = 5
	// maxSources caps how many citations an envelope carries.
	maxSources = 5
)

// Process runs one query through the full pipeline and always returns a safe
// envelope: any error or panic escaping a category handler is classified
// against the taxonomy rather than reaching the caller.
func (o *Orchestrator) Process(ctx context.Context, query string) (env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in query pipeline", "panic", r)
			kind, msg := classifySystemError(fmt.Errorf("%v", r))
			env = Envelope{Success: false, Answer: msg, ErrorKind: kind}
		}
	}()

	slog.Info("processing query", "query", query)

	classification := o.classifier.Classify(ctx, query)
	slog.Info("routing", "category", classification.Category, "tickers", classification.Tickers())

	if env, ok := o.validateCompanies(ctx, classification); !ok {
		return env
	}

	mentioned, err := o.normalizeCompanies(ctx, classification.Companies)
	if err != nil {
		kind, msg := classifySystemError(err)
		return Envelope{Success: false, Answer: msg, ErrorKind: kind, Category: string(classification.Category)}
	}

	switch classification.Category {
	case classify.CategoryQuantitative:
		return o.handleQuantitative(ctx, query, mentioned)
	case classify.CategoryQualitative:
		return o.handleQualitative(ctx, query, mentioned)
	case classify.CategoryHybrid:
		return o.handleHybrid(ctx, query, mentioned)
	default:
		return Envelope{
			Success:  false,
			Answer:   "I couldn't determine how to process your query. Could you try rephrasing?",
			Category: string(classify.CategoryUnknown),
		}
	}
}

// validateCompanies is the hard gate: if any mentioned entity is unknown the
// query is rejected before any backend work, even in HYBRID mode.
func (o *Orchestrator) validateCompanies(ctx context.Context, classification classify.Classification) (Envelope, bool) {
	mentioned := classification.Companies
	if len(mentioned) == 0 {
		return Envelope{}, true
	}

	known, err := o.catalog.All(ctx)
	if err != nil {
		kind, msg := classifySystemError(err)
		return Envelope{Success: false, Answer: msg, ErrorKind: kind, Category: string(classification.Category)}, false
	}

	var invalid []string
	for _, c := range mentioned {
		ticker := strings.ToUpper(c.Ticker)
		if ticker == "" {
			// The classifier could not resolve the name; report it as given.
			invalid = append(invalid, c.Name)
			continue
		}
		if _, ok := known[ticker]; !ok {
			invalid = append(invalid, ticker)
		}
	}
	if len(invalid) == 0 {
		return Envelope{}, true
	}

	examples, err := o.catalog.Examples(ctx, maxExampleCompanies)
	if err != nil {
		slog.Warn("loading example companies failed", "error", err)
	}
	parts := make([]string, len(examples))
	for i, ex := range examples {
		parts[i] = fmt.Sprintf("%s (%s)", ex.Name, ex.Ticker)
	}

	answer := fmt.Sprintf("I don't have data for %s. I only cover a fixed set of public companies.",
		strings.Join(invalid, ", "))
	if len(parts) > 0 {
		answer += fmt.Sprintf("\n\nYou can ask about companies like: %s, and more.", strings.Join(parts, ", "))
	}

	return Envelope{
		Success:          false,
		Answer:           answer,
		Category:         string(ErrValidationFailed),
		ErrorKind:        ErrValidationFailed,
		InvalidCompanies: invalid,
	}, false
}

// normalizeCompanies resolves validated tickers to display names. A miss here
// should not occur post-validation; the ticker doubles as the name if it does.
func (o *Orchestrator) normalizeCompanies(ctx context.Context, mentioned []classify.Company) ([]classify.Company, error) {
	if len(mentioned) == 0 {
		return nil, nil
	}

	known, err := o.catalog.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]classify.Company, 0, len(mentioned))
	for _, c := range mentioned {
		ticker := strings.ToUpper(c.Ticker)
		name, ok := known[ticker]
		if !ok {
			slog.Warn("company info not found post-validation", "ticker", ticker)
			name = ticker
		}
		out = append(out, classify.Company{Name: name, Ticker: ticker})
	}
	return out, nil
}

func (o *Orchestrator) handleQuantitative(ctx context.Context, query string, mentioned []classify.Company) Envelope {
	result := o.structured.Run(ctx, query, mentioned)

	if !result.Success {
		return Envelope{
			Success: false,
			Answer: "I had trouble retrieving the financial data. Please try rephrasing your question " +
				"or asking about different metrics.",
			Category:    string(classify.CategoryQuantitative),
			SQL:         result.SQL,
			ErrorKind:   ErrSQLExecutionFailed,
			ErrorDetail: result.Err,
		}
	}

	if result.RowCount == 0 {
		return Envelope{
			Success: false,
			Answer: "I couldn't find any matching financial data for your query. Try asking about " +
				"revenue, profit margins, total assets, or other financial metrics.",
			Category:  string(classify.CategoryQuantitative),
			SQL:       result.SQL,
			ErrorKind: ErrNoDataFound,
		}
	}

	answer := o.synth.FromRows(ctx, query, result.Rows, result.SQL)
	return Envelope{
		Success:  true,
		Answer:   answer,
		Category: string(classify.CategoryQuantitative),
		SQL:      result.SQL,
		Rows:     result.Rows,
		RowCount: result.RowCount,
	}
}

func (o *Orchestrator) handleQualitative(ctx context.Context, query string, mentioned []classify.Company) Envelope {
	passages := o.searchWithBreadthPolicy(ctx, query, mentioned)

	if len(passages) == 0 {
		var message string
		if len(mentioned) > 0 {
			names := tickersOf(mentioned)
			message = fmt.Sprintf("I couldn't find relevant information in the 10-K filings or transcripts for %s. "+
				"The company might not have filed a 10-K yet, or the information might not be in the sections I searched.\n\n"+
				"Try asking about risks, business strategy, or legal proceedings.", strings.Join(names, ", "))
		} else {
			message = "I couldn't find relevant information in the 10-K filings or transcripts. " +
				"Try asking about specific topics like:\n- Risk factors\n- Business model and strategy\n- Legal proceedings\n- Market risks"
		}
		return Envelope{
			Success:   false,
			Answer:    message,
			Category:  string(classify.CategoryQualitative),
			ErrorKind: ErrNoRelevantInfo,
		}
	}

	answer := o.synth.FromPassages(ctx, query, passages)
	return Envelope{
		Success:      true,
		Answer:       answer,
		Category:     string(classify.CategoryQualitative),
		Sources:      buildSources(passages),
		PassageCount: len(passages),
	}
}

func (o *Orchestrator) handleHybrid(ctx context.Context, query string, mentioned []classify.Company) Envelope {
	// The two backends are independent: neither reads the other's output, so
	// they run concurrently and the merge waits for both.
	var (
		result   sqlgen.Result
		passages []search.Passage
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result = o.structured.Run(gCtx, query, mentioned)
		return nil
	})
	g.Go(func() error {
		passages = o.searchWithBreadthPolicy(gCtx, query, mentioned)
		return nil
	})
	_ = g.Wait() // both closures always return nil; failures are in-band

	if !result.Success && len(passages) == 0 {
		return Envelope{
			Success: false,
			Answer: "I couldn't find relevant information for your query. Try being more specific " +
				"about the companies or metrics you're interested in.",
			Category:  string(classify.CategoryHybrid),
			ErrorKind: ErrNoData,
		}
	}

	answer := o.synth.FromHybrid(ctx, query, result.Rows, result.SQL, passages)
	return Envelope{
		Success:      true,
		Answer:       answer,
		Category:     string(classify.CategoryHybrid),
		SQL:          result.SQL,
		Rows:         result.Rows,
		RowCount:     result.RowCount,
		Sources:      buildSources(passages),
		PassageCount: len(passages),
	}
}

// searchWithBreadthPolicy applies the search-breadth policy: one company
// means a scoped search with topK=5; several mean a scoped search with
// topK=10; none means unscoped discovery across all companies with topK=10.
// Both pools are always enabled.
func (o *Orchestrator) searchWithBreadthPolicy(ctx context.Context, query string, mentioned []classify.Company) []search.Passage {
	tickers := tickersOf(mentioned)

	topK := 10
	if len(tickers) == 1 {
		topK = 5
	}
	return o.semantic.SearchAllPools(ctx, query, tickers, topK, true, true)
}

// buildSources converts the top passages into citations.
func buildSources(passages []search.Passage) []Source {
	n := len(passages)
	if n > maxSources {
		n = maxSources
	}
	sources := make([]Source, 0, n)
	for _, p := range passages[:n] {
		src := Source{
			Company:    p.CompanyName,
			Ticker:     p.Ticker,
			SourceType: string(p.Pool),
		}
		if p.Pool == search.PoolTranscript {
			src.Section = p.PeriodLabel() + " Earnings Call"
			src.Speaker = p.Speaker
		} else {
			src.Section = p.SectionLabel
		}
		sources = append(sources, src)
	}
	return sources
}

func tickersOf(mentioned []classify.Company) []string {
	out := make([]string, 0, len(mentioned))
	for _, c := range mentioned {
		out = append(out, c.Ticker)
	}
	return out
}
