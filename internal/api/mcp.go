package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDeps holds dependencies for the MCP server. The MCP surface bypasses the
// quota guard: stdio clients are local and trusted.
type MCPDeps struct {
	Pipeline  Pipeline
	Companies CompanyLister
}

// NewMCPServer creates an MCP server exposing the financial Q&A pipeline as
// tools for agent hosts.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"finsight",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("finsight — natural-language Q&A over public-company financial statements, 10-K filings, and earnings call transcripts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about covered public companies: financial metrics, filing disclosures, or earnings call commentary. Returns an answer with supporting data and sources."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_companies",
			mcp.WithDescription("List the companies covered by the knowledge base, as ticker/name pairs."),
		),
		mcpListCompanies(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		env := deps.Pipeline.Process(ctx, question)

		b, err := json.Marshal(env)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		if !env.Success {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListCompanies(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		known, err := deps.Companies.All(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list companies: %v", err)), nil
		}

		type companyEntry struct {
			Ticker string `json:"ticker"`
			Name   string `json:"name"`
		}
		companies := make([]companyEntry, 0, len(known))
		for ticker, name := range known {
			companies = append(companies, companyEntry{Ticker: ticker, Name: name})
		}
		sort.Slice(companies, func(i, j int) bool { return companies[i].Ticker < companies[j].Ticker })

		b, err := json.Marshal(companies)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal companies: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
