package classify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kalambet/finsight/internal/openai"
)

// classificationTemperature keeps routing decisions near-deterministic.
const classificationTemperature = 0.1

// Category is the routing decision for a query.
type Category string

const (
	CategoryQuantitative Category = "QUANTITATIVE"
	CategoryQualitative  Category = "QUALITATIVE"
	CategoryHybrid       Category = "HYBRID"
	CategoryUnknown      Category = "UNKNOWN"
)

// Company is a company mention extracted from the query, with best-effort
// name to ticker resolution. Ticker may be empty when unresolved.
type Company struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

// Classification is the structured result of classifying one query.
type Classification struct {
	Category  Category  `json:"query_type"`
	Reasoning string    `json:"reasoning"`
	Companies []Company `json:"mentioned_companies"`
}

// Tickers returns the tickers of all mentioned companies, in mention order.
func (c Classification) Tickers() []string {
	out := make([]string, 0, len(c.Companies))
	for _, co := range c.Companies {
		out = append(out, co.Ticker)
	}
	return out
}

// Chatter is the chat-completion capability the classifier delegates to.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []openai.Message, opts openai.ChatOptions) (string, error)
}

// CompanyLister provides the formatted company universe for prompt grounding.
type CompanyLister interface {
	PromptList(ctx context.Context) (string, error)
}

// Classifier maps free-text queries to a routing category plus mentioned
// companies, delegating the decision to an LLM.
type Classifier struct {
	client    Chatter
	companies CompanyLister
	model     string
}

// New creates a Classifier using the given client and model name.
func New(client Chatter, companies CompanyLister, model string) *Classifier {
	return &Classifier{client: client, companies: companies, model: model}
}

// fallback is returned on any classification failure: favor attempting both
// backends over refusing the query, and never retry the underlying service.
func fallback() Classification {
	return Classification{
		Category:  CategoryHybrid,
		Reasoning: "Classification failed, defaulting to hybrid search",
	}
}

// Classify analyses the query and returns its routing category and extracted
// company mentions. On any failure (network, malformed output, parse error)
// it returns the HYBRID fallback with an empty company list.
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	companyList, err := c.companies.PromptList(ctx)
	if err != nil {
		slog.Warn("classification: loading company list failed", "error", err)
		return fallback()
	}

	messages := []openai.Message{
		{Role: "system", Content: BuildPrompt(companyList)},
		{Role: "user", Content: query},
	}

	raw, err := c.client.Chat(ctx, c.model, messages, openai.ChatOptions{
		Temperature: classificationTemperature,
		JSONMode:    true,
	})
	if err != nil {
		slog.Warn("classification chat failed", "error", err)
		return fallback()
	}

	var result Classification
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Warn("failed to unmarshal classification from LLM response", "error", err, "response", raw)
		return fallback()
	}

	switch result.Category {
	case CategoryQuantitative, CategoryQualitative, CategoryHybrid:
	default:
		result.Category = CategoryUnknown
	}

	slog.Info("query classified", "category", result.Category, "companies", len(result.Companies))
	return result
}
