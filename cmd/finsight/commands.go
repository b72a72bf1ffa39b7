package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/finsight/internal/config"
	"github.com/kalambet/finsight/internal/ingest"
	"github.com/kalambet/finsight/internal/openai"
	"github.com/kalambet/finsight/internal/orchestrator"
	"github.com/kalambet/finsight/internal/quota"
	"github.com/kalambet/finsight/internal/search"
	"github.com/kalambet/finsight/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about covered companies",
	Long: `Ask a question about covered companies.

Examples:
  finsight ask "What was Apple's revenue in FY 2024?"
  finsight ask "What risks does Nvidia highlight around supply chains?"
  finsight ask "Compare Microsoft and Google cloud margins and strategy"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/query", map[string]string{"query": question})
		if err != nil {
			return err
		}

		var env orchestrator.Envelope
		if err := decodeJSON(resp, &env); err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, env.Answer)

		if len(env.Sources) > 0 {
			fmt.Fprintln(os.Stdout)
			fmt.Fprintln(os.Stdout, colorize(colorBold, "Sources:"))
			for _, src := range env.Sources {
				line := fmt.Sprintf("  - %s (%s), %s", src.Company, src.Ticker, src.SourceType)
				if src.Section != "" {
					line += ", " + src.Section
				}
				if src.Speaker != "" {
					line += ", " + src.Speaker
				}
				fmt.Fprintln(os.Stdout, line)
			}
		}

		if !env.Success && env.ErrorKind != "" {
			printWarning("query did not succeed (%s)", env.ErrorKind)
		}
		return nil
	},
}

// --- companies ---

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List covered companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/companies")
		if err != nil {
			return err
		}

		var body struct {
			Companies []struct {
				Ticker string `json:"ticker"`
				Name   string `json:"name"`
			} `json:"companies"`
			Count int `json:"count"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		for _, c := range body.Companies {
			fmt.Fprintf(os.Stdout, "%-8s %s\n", c.Ticker, c.Name)
		}
		fmt.Fprintf(os.Stdout, "%d companies\n", body.Count)
		return nil
	},
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show today's query usage for this session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/usage")
		if err != nil {
			return err
		}

		var usage quota.Usage
		if err := decodeJSON(resp, &usage); err != nil {
			return err
		}

		printStatus("Queries today", "%d", usage.QueriesToday)
		printStatus("Remaining", "%d", usage.QueriesRemaining)
		printStatus("Daily limit", "%d", usage.DailyLimit)
		if usage.LastQueryAt != nil {
			printStatus("Last query", "%s", usage.LastQueryAt.Format("15:04:05 MST"))
		}
		return nil
	},
}

// --- load ---

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load companies, filings, or transcripts into the local store",
}

var loadCompaniesCmd = &cobra.Command{
	Use:   "companies <file.csv>",
	Short: "Load the company catalog from a CSV of ticker,name[,currency[,isin]]",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, store, err := newLoader(false)
		if err != nil {
			return err
		}
		defer store.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening csv: %w", err)
		}
		defer f.Close()

		count, err := loader.LoadCompanies(cmd.Context(), f)
		if err != nil {
			return err
		}
		printSuccess("Loaded %d companies", count)
		return nil
	},
}

var loadFilingCmd = &cobra.Command{
	Use:   "filing <file>",
	Short: "Load a 10-K filing (HTML, PDF, or plain text)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ticker, _ := cmd.Flags().GetString("ticker")
		year, _ := cmd.Flags().GetInt("year")
		if ticker == "" || year == 0 {
			return fmt.Errorf("--ticker and --year are required")
		}

		loader, store, err := newLoader(true)
		if err != nil {
			return err
		}
		defer store.Close()

		printStep("Extracting and embedding %s...", args[0])
		count, err := loader.LoadFiling(cmd.Context(), ticker, year, args[0])
		if err != nil {
			return err
		}
		printSuccess("Stored %d filing passages for %s FY %d", count, strings.ToUpper(ticker), year)
		return nil
	},
}

var loadTranscriptCmd = &cobra.Command{
	Use:   "transcript <file>",
	Short: "Load an earnings call transcript (Speaker: text format)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ticker, _ := cmd.Flags().GetString("ticker")
		year, _ := cmd.Flags().GetInt("year")
		quarter, _ := cmd.Flags().GetInt("quarter")
		if ticker == "" || year == 0 || quarter == 0 {
			return fmt.Errorf("--ticker, --year, and --quarter are required")
		}

		loader, store, err := newLoader(true)
		if err != nil {
			return err
		}
		defer store.Close()

		printStep("Parsing and embedding %s...", args[0])
		count, err := loader.LoadTranscript(cmd.Context(), ticker, year, quarter, args[0])
		if err != nil {
			return err
		}
		printSuccess("Stored %d transcript passages for %s Q%d %d", count, strings.ToUpper(ticker), quarter, year)
		return nil
	},
}

// newLoader wires an ingest.Loader against the local store directly, without
// going through the server. Catalog-only loads skip the embed client.
func newLoader(needEmbedder bool) (*ingest.Loader, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	var embedder ingest.ChunkEmbedder
	if needEmbedder {
		client := openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
		embedder = search.NewEmbedder(client, cfg.OpenAI.EmbedModel)
	}
	pools := search.NewPoolStore(store.DB())

	return ingest.NewLoader(store.DB(), embedder, pools), store, nil
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Reset a session's daily quota (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postAdmin(cmd.Context(), "/admin/sessions/"+args[0]+"/reset")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Reset quota for session %s", result["session_id"])
		return nil
	},
}

func init() {
	loadFilingCmd.Flags().String("ticker", "", "company ticker symbol")
	loadFilingCmd.Flags().Int("year", 0, "fiscal year of the filing")
	loadTranscriptCmd.Flags().String("ticker", "", "company ticker symbol")
	loadTranscriptCmd.Flags().Int("year", 0, "fiscal year of the call")
	loadTranscriptCmd.Flags().Int("quarter", 0, "fiscal quarter of the call (1-4)")

	loadCmd.AddCommand(loadCompaniesCmd)
	loadCmd.AddCommand(loadFilingCmd)
	loadCmd.AddCommand(loadTranscriptCmd)
}
