package catalog

import (
	"context"
	"reflect"
	"testing"

	"github.com/kalambet/finsight/internal/storage"
)

func newTestCatalog(t *testing.T) (*Catalog, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, row := range [][2]string{
		{"MSFT", "Microsoft Corporation"},
		{"AAPL", "Apple Inc."},
		{"NVDA", "NVIDIA Corporation"},
	} {
		if _, err := store.DB().Exec(
			`INSERT INTO companies (ticker, name, currency, isin) VALUES (?, ?, 'USD', '')`, row[0], row[1]); err != nil {
			t.Fatalf("seeding %s: %v", row[0], err)
		}
	}
	return New(store.DB()), store
}

func TestCatalog_All(t *testing.T) {
	c, _ := newTestCatalog(t)

	got, err := c.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	want := map[string]string{
		"AAPL": "Apple Inc.",
		"MSFT": "Microsoft Corporation",
		"NVDA": "NVIDIA Corporation",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
}

func TestCatalog_LookupIsCaseInsensitive(t *testing.T) {
	c, _ := newTestCatalog(t)

	name, ok, err := c.Lookup(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || name != "Apple Inc." {
		t.Errorf("Lookup(aapl) = %q, %v", name, ok)
	}

	_, ok, err = c.Lookup(context.Background(), "ACME")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Error("Lookup(ACME) should miss")
	}
}

func TestCatalog_ExamplesInTickerOrder(t *testing.T) {
	c, _ := newTestCatalog(t)

	got, err := c.Examples(context.Background(), 2)
	if err != nil {
		t.Fatalf("Examples: %v", err)
	}
	want := []Company{
		{Ticker: "AAPL", Name: "Apple Inc."},
		{Ticker: "MSFT", Name: "Microsoft Corporation"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Examples(2) = %v, want %v", got, want)
	}

	// Asking for more than exist returns everything.
	all, err := c.Examples(context.Background(), 10)
	if err != nil {
		t.Fatalf("Examples: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Examples(10) returned %d, want 3", len(all))
	}
}

func TestCatalog_PromptList(t *testing.T) {
	c, _ := newTestCatalog(t)

	got, err := c.PromptList(context.Background())
	if err != nil {
		t.Fatalf("PromptList: %v", err)
	}
	want := "AAPL: Apple Inc.\nMSFT: Microsoft Corporation\nNVDA: NVIDIA Corporation"
	if got != want {
		t.Errorf("PromptList() = %q, want %q", got, want)
	}
}

func TestCatalog_CacheServedUntilRefresh(t *testing.T) {
	c, store := newTestCatalog(t)
	ctx := context.Background()

	if _, err := c.All(ctx); err != nil {
		t.Fatalf("All: %v", err)
	}

	if _, err := store.DB().Exec(
		`INSERT INTO companies (ticker, name, currency, isin) VALUES ('TSLA', 'Tesla, Inc.', 'USD', '')`); err != nil {
		t.Fatalf("inserting: %v", err)
	}

	got, _ := c.All(ctx)
	if _, ok := got["TSLA"]; ok {
		t.Error("cache should not see rows inserted after load")
	}

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got, _ = c.All(ctx)
	if _, ok := got["TSLA"]; !ok {
		t.Error("refresh should pick up new rows")
	}
}

func TestCatalog_LoadErrorPropagates(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	c := New(store.DB())
	store.Close()

	if _, err := c.All(context.Background()); err == nil {
		t.Fatal("expected load error from a closed database")
	}
}
