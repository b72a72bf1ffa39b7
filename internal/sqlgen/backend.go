// Package sqlgen is the structured query path: it turns a natural-language
// question into a read-only SQL query, gates it through a safety validator,
// executes it, and returns tabular rows.
package sqlgen

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/kalambet/finsight/internal/classify"
	"github.com/kalambet/finsight/internal/openai"
)

const generationTemperature = 0.1

// Row is one result row as a column to value mapping.
type Row map[string]any

// Result is the outcome of one structured query run. Failures are reported
// in-band: Success is false and Err carries the underlying detail.
type Result struct {
	SQL      string
	Rows     []Row
	Columns  []string
	RowCount int
	Success  bool
	Err      string
}

// Chatter is the chat-completion capability used for SQL generation.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []openai.Message, opts openai.ChatOptions) (string, error)
}

// CompanyLister provides the formatted company universe for prompt grounding.
type CompanyLister interface {
	PromptList(ctx context.Context) (string, error)
}

// Backend generates and executes read-only SQL queries from natural language.
type Backend struct {
	client    Chatter
	companies CompanyLister
	db        *sql.DB
	model     string
}

// NewBackend creates a Backend using the given LLM client and database.
func NewBackend(client Chatter, companies CompanyLister, db *sql.DB, model string) *Backend {
	return &Backend{client: client, companies: companies, db: db, model: model}
}

// Run generates SQL for the query, validates it, and executes it. Every
// failure mode is captured in the Result; Run never returns an error and
// never mutates the database (the safety gate rejects anything that could).
func (b *Backend) Run(ctx context.Context, query string, mentioned []classify.Company) Result {
	generated, err := b.generate(ctx, query, mentioned)
	if err != nil {
		slog.Warn("SQL generation failed", "error", err)
		return Result{Success: false, Err: "failed to generate SQL: " + err.Error()}
	}

	if err := ValidateReadOnly(generated); err != nil {
		slog.Error("unsafe query blocked", "error", err)
		return Result{
			SQL:     generated,
			Success: false,
			Err:     "Invalid query: only SELECT statements are allowed",
		}
	}

	return b.execute(ctx, generated)
}

// generate asks the LLM for a SQL query grounded in the schema description
// and the resolved company list, then strips any markdown fencing.
func (b *Backend) generate(ctx context.Context, query string, mentioned []classify.Company) (string, error) {
	companyList, err := b.companies.PromptList(ctx)
	if err != nil {
		return "", err
	}

	messages := []openai.Message{
		{Role: "system", Content: BuildSchemaPrompt(companyList, mentioned)},
		{Role: "user", Content: "Generate SQL for: " + query},
	}

	raw, err := b.client.Chat(ctx, b.model, messages, openai.ChatOptions{
		Temperature: generationTemperature,
	})
	if err != nil {
		return "", err
	}

	generated := StripFences(raw)
	slog.Info("generated SQL", "sql", truncate(generated, 200))
	return generated, nil
}

// StripFences removes markdown code-fence wrapping from raw LLM output.
// The generated text is untrusted input; this is cleanup, not validation.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
