// Package catalog holds the fixed universe of covered companies: a read-only
// ticker to display-name mapping loaded from the companies table and cached
// for the process lifetime.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Company is one covered entity.
type Company struct {
	Ticker string
	Name   string
}

// Catalog caches the company universe. The cache is populated lazily on first
// access and never invalidated within a process; call Refresh after the
// underlying table changes.
type Catalog struct {
	db *sql.DB

	mu        sync.RWMutex
	companies map[string]string
	tickers   []string // sorted, for deterministic examples and prompt lists
}

// New creates a Catalog backed by the given database.
func New(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// All returns the ticker to name mapping, loading it on first call.
// A load failure is returned to the caller: there is no fallback list.
func (c *Catalog) All(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	if c.companies != nil {
		defer c.mu.RUnlock()
		return c.companies, nil
	}
	c.mu.RUnlock()

	return c.load(ctx)
}

// Lookup resolves a ticker to its display name.
func (c *Catalog) Lookup(ctx context.Context, ticker string) (string, bool, error) {
	all, err := c.All(ctx)
	if err != nil {
		return "", false, err
	}
	name, ok := all[strings.ToUpper(ticker)]
	return name, ok, nil
}

// Examples returns up to n companies in ticker order, used to suggest valid
// entities in validation-failure messages.
func (c *Catalog) Examples(ctx context.Context, n int) ([]Company, error) {
	if _, err := c.All(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if n > len(c.tickers) {
		n = len(c.tickers)
	}
	out := make([]Company, 0, n)
	for _, t := range c.tickers[:n] {
		out = append(out, Company{Ticker: t, Name: c.companies[t]})
	}
	return out, nil
}

// PromptList formats the full universe as a "TICKER: Name" block for use as
// LLM grounding context.
func (c *Catalog) PromptList(ctx context.Context) (string, error) {
	if _, err := c.All(ctx); err != nil {
		return "", err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	for _, t := range c.tickers {
		fmt.Fprintf(&sb, "%s: %s\n", t, c.companies[t])
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// Refresh discards the cache and reloads from the database.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.companies = nil
	c.tickers = nil
	c.mu.Unlock()

	_, err := c.load(ctx)
	return err
}

func (c *Catalog) load(ctx context.Context) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT ticker, name FROM companies ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("loading companies: %w", err)
	}
	defer rows.Close()

	companies := make(map[string]string)
	var tickers []string
	for rows.Next() {
		var ticker, name string
		if err := rows.Scan(&ticker, &name); err != nil {
			return nil, fmt.Errorf("scanning company row: %w", err)
		}
		companies[ticker] = name
		tickers = append(tickers, ticker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating companies: %w", err)
	}
	sort.Strings(tickers)

	c.mu.Lock()
	c.companies = companies
	c.tickers = tickers
	c.mu.Unlock()

	return companies, nil
}
