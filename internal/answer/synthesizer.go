// Package answer turns retrieved rows and passages into a final
// natural-language answer via a generation collaborator.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/finsight/internal/openai"
	"github.com/kalambet/finsight/internal/search"
	"github.com/kalambet/finsight/internal/sqlgen"
)

const (
	generationTemperature = 0.3
	answerMaxTokens       = 600
	hybridMaxTokens       = 800

	maxRowsShown      = 10
	maxPassagesShown  = 5
	hybridRowsShown   = 5
	hybridPassages    = 3
	hybridExcerptLen  = 300
)

// Apology is returned whenever answer generation itself fails.
const Apology = "I encountered an error generating the response."

// Chatter is the generation capability behind the Synthesizer.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []openai.Message, opts openai.ChatOptions) (string, error)
}

// Synthesizer produces plain-text answers from retrieved data.
type Synthesizer struct {
	client Chatter
	model  string
}

// New creates a Synthesizer using the given client and model name.
func New(client Chatter, model string) *Synthesizer {
	return &Synthesizer{client: client, model: model}
}

// FromRows generates an answer from structured query results.
func (s *Synthesizer) FromRows(ctx context.Context, query string, rows []sqlgen.Row, sqlText string) string {
	if len(rows) == 0 {
		return "I couldn't find any data matching your query."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results:\n", len(rows))
	for i, row := range rows {
		if i >= maxRowsShown {
			fmt.Fprintf(&sb, "... and %d more results", len(rows)-maxRowsShown)
			break
		}
		fmt.Fprintf(&sb, "%d. %v\n", i+1, row)
	}

	prompt := fmt.Sprintf(`Based on the following data from a financial database, answer the user's question clearly and concisely.

User Question: %s

Data Retrieved:
%s

Instructions:
- Answer in natural language
- Be specific with numbers and company names
- ALWAYS include the calculated values (growth rates, percentages, averages, etc.)
- Ratio/margin values are already in percentage format - add %% symbol (e.g., "23.5%%")
- Format large numbers with commas (e.g., $123,456,789)
- If multiple companies, present as a numbered list
- Keep it concise but complete
- Don't mention the SQL query or technical details
- Do NOT use asterisks, bold, or other markdown syntax`, query, sb.String())

	return s.generate(ctx,
		"You are a financial analyst providing clear, accurate answers with specific numbers and calculations.",
		prompt, answerMaxTokens)
}

// FromPassages generates an answer from semantic search results.
func (s *Synthesizer) FromPassages(ctx context.Context, query string, passages []search.Passage) string {
	if len(passages) == 0 {
		return "I couldn't find relevant information in the 10-K filings or transcripts for your query."
	}

	var sb strings.Builder
	for i, p := range passages {
		if i >= maxPassagesShown {
			break
		}
		sb.WriteString(passageHeader(i+1, p))
		sb.WriteString(p.Text)
		sb.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Based on the following excerpts from 10-K filings and earnings call transcripts, answer the user's question.

User Question: %s

Relevant Information:
%s

Instructions:
- Answer based ONLY on the information provided
- Cite which company and source (10-K section or earnings call) the information comes from
- Be specific and factual
- If information is from an earnings call, you can mention what executives said
- If information is incomplete, acknowledge it
- Keep response focused and concise
- Do NOT use asterisks, bold, or other markdown syntax`, query, sb.String())

	return s.generate(ctx,
		"You are a financial analyst providing accurate answers based on 10-K filings and earnings call transcripts.",
		prompt, answerMaxTokens)
}

// FromHybrid generates a combined answer from structured rows and passages;
// either side may be empty.
func (s *Synthesizer) FromHybrid(ctx context.Context, query string, rows []sqlgen.Row, sqlText string, passages []search.Passage) string {
	var sqlSummary strings.Builder
	if len(rows) > 0 {
		fmt.Fprintf(&sqlSummary, "SQL Results (%d rows):\n", len(rows))
		for i, row := range rows {
			if i >= hybridRowsShown {
				break
			}
			fmt.Fprintf(&sqlSummary, "%d. %v\n", i+1, row)
		}
	}

	var vectorSummary strings.Builder
	if len(passages) > 0 {
		vectorSummary.WriteString("\nAdditional Context from Filings and Transcripts:\n")
		for i, p := range passages {
			if i >= hybridPassages {
				break
			}
			vectorSummary.WriteString(passageHeader(i+1, p))
			vectorSummary.WriteString(excerpt(p.Text, hybridExcerptLen))
			vectorSummary.WriteString("\n")
		}
	}

	prompt := fmt.Sprintf(`Based on the following quantitative data and qualitative information, provide a comprehensive answer.

User Question: %s

%s
%s

Instructions:
- Combine insights from both the quantitative data and qualitative context
- Start with the key numbers/companies from the data
- Add strategic/qualitative insights from the filings/transcripts
- Be specific and cite sources (company names, earnings calls, 10-K sections)
- Format numbers clearly (use %%, commas for large numbers)
- Keep response focused and well-structured
- Do NOT use asterisks, bold, or other markdown syntax`, query, sqlSummary.String(), vectorSummary.String())

	return s.generate(ctx,
		"You are a financial analyst providing comprehensive answers combining quantitative and qualitative analysis.",
		prompt, hybridMaxTokens)
}

func (s *Synthesizer) generate(ctx context.Context, system, prompt string, maxTokens int) string {
	messages := []openai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}
	out, err := s.client.Chat(ctx, s.model, messages, openai.ChatOptions{
		Temperature: generationTemperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		slog.Warn("answer generation failed", "error", err)
		return Apology
	}
	return out
}

// passageHeader formats a source attribution line for one passage.
func passageHeader(n int, p search.Passage) string {
	if p.Pool == search.PoolTranscript {
		speaker := p.Speaker
		if speaker == "" {
			speaker = "Speaker"
		}
		return fmt.Sprintf("\n[Source %d: %s - %s Earnings Call - %s]\n", n, p.CompanyName, p.PeriodLabel(), speaker)
	}
	return fmt.Sprintf("\n[Source %d: %s - 10-K %s]\n", n, p.CompanyName, p.SectionLabel)
}

func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
