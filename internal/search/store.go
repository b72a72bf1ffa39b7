package search

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// PoolStore provides vector storage and brute-force cosine similarity search
// over the two passage pools backed by SQLite.
//
// Pool sizes for ~100 companies stay well under the point where a linear scan
// of float32 blobs becomes noticeable; an ANN index would only add moving
// parts here.
type PoolStore struct {
	db *sql.DB
}

// NewPoolStore wraps an existing *sql.DB for pool operations. The
// filing_chunks and transcript_chunks tables must already exist.
func NewPoolStore(db *sql.DB) *PoolStore {
	return &PoolStore{db: db}
}

// FilingRecord is one filing passage for insertion.
type FilingRecord struct {
	ID              string
	Ticker          string
	FiscalYear      int
	ItemLabel       string
	ItemDescription string
	ChunkIndex      int
	Text            string
	Embedding       []float32
}

// TranscriptRecord is one transcript passage for insertion.
type TranscriptRecord struct {
	ID            string
	Ticker        string
	FiscalYear    int
	FiscalQuarter int
	Speaker       string
	ChunkIndex    int
	Text          string
	Embedding     []float32
}

// InsertFilings adds filing passages in one transaction.
func (s *PoolStore) InsertFilings(ctx context.Context, records []FilingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO filing_chunks (id, ticker, fiscal_year, item_label, item_description, chunk_index, chunk_text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		blob := EncodeVector(r.Embedding)
		if _, err := stmt.ExecContext(ctx, r.ID, r.Ticker, r.FiscalYear, r.ItemLabel, r.ItemDescription, r.ChunkIndex, r.Text, blob, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting filing chunk %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// InsertTranscripts adds transcript passages in one transaction.
func (s *PoolStore) InsertTranscripts(ctx context.Context, records []TranscriptRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_chunks (id, ticker, fiscal_year, fiscal_quarter, speaker, chunk_index, chunk_text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		blob := EncodeVector(r.Embedding)
		if _, err := stmt.ExecContext(ctx, r.ID, r.Ticker, r.FiscalYear, r.FiscalQuarter, r.Speaker, r.ChunkIndex, r.Text, blob, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting transcript chunk %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of a search.
// Full passage details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float64
}

// SearchFilings returns the top-K filing passages by cosine similarity,
// optionally restricted to the given tickers.
func (s *PoolStore) SearchFilings(ctx context.Context, vector []float32, tickers []string, topK int) ([]Passage, error) {
	topIDs, scores, err := s.scanPool(ctx, "filing_chunks", vector, tickers, topK)
	if err != nil || len(topIDs) == 0 {
		return nil, err
	}

	query, args, err := sq.Select("f.id", "f.ticker", "f.fiscal_year", "f.item_label", "f.chunk_text", "c.name").
		From("filing_chunks f").
		Join("companies c ON f.ticker = c.ticker").
		Where(sq.Eq{"f.id": topIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building filing fetch query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching filing passages: %w", err)
	}
	defer rows.Close()

	var results []Passage
	for rows.Next() {
		var id string
		p := Passage{Pool: PoolFiling}
		if err := rows.Scan(&id, &p.Ticker, &p.FiscalYear, &p.SectionLabel, &p.Text, &p.CompanyName); err != nil {
			return nil, fmt.Errorf("scanning filing passage: %w", err)
		}
		p.Similarity = roundSimilarity(scores[id])
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating filing passages: %w", err)
	}

	sortBySimilarity(results)
	return results, nil
}

// SearchTranscripts returns the top-K transcript passages by cosine
// similarity, optionally restricted to the given tickers.
func (s *PoolStore) SearchTranscripts(ctx context.Context, vector []float32, tickers []string, topK int) ([]Passage, error) {
	topIDs, scores, err := s.scanPool(ctx, "transcript_chunks", vector, tickers, topK)
	if err != nil || len(topIDs) == 0 {
		return nil, err
	}

	query, args, err := sq.Select("t.id", "t.ticker", "t.fiscal_year", "t.fiscal_quarter", "t.speaker", "t.chunk_text", "c.name").
		From("transcript_chunks t").
		Join("companies c ON t.ticker = c.ticker").
		Where(sq.Eq{"t.id": topIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building transcript fetch query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching transcript passages: %w", err)
	}
	defer rows.Close()

	var results []Passage
	for rows.Next() {
		var id string
		var speaker sql.NullString
		p := Passage{Pool: PoolTranscript}
		if err := rows.Scan(&id, &p.Ticker, &p.FiscalYear, &p.FiscalQuarter, &speaker, &p.Text, &p.CompanyName); err != nil {
			return nil, fmt.Errorf("scanning transcript passage: %w", err)
		}
		p.Speaker = speaker.String
		p.Similarity = roundSimilarity(scores[id])
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript passages: %w", err)
	}

	sortBySimilarity(results)
	return results, nil
}

// scanPool is phase 1 of a search: a linear scan over id + embedding keeping
// the top-K candidates in a min-heap.
func (s *PoolStore) scanPool(ctx context.Context, table string, vector []float32, tickers []string, topK int) ([]string, map[string]float64, error) {
	builder := sq.Select("id", "embedding").From(table)
	if len(tickers) > 0 {
		builder = builder.Where(sq.Eq{"ticker": tickers})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("building scan query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning %s: %w", table, err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeVectorInto(buf, blob)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosineSimilarity(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating %s: %w", table, err)
	}

	if h.Len() == 0 {
		return nil, nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float64, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}
	return topIDs, scores, nil
}

// sortBySimilarity sorts passages by similarity descending. Used for small
// slices (topK) where insertion sort is fine.
func sortBySimilarity(results []Passage) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Similarity > results[j-1].Similarity; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// roundSimilarity reports similarity rounded to 4 decimal places.
func roundSimilarity(s float64) float64 {
	return math.Round(s*10000) / 10000
}

// EncodeVector serializes a float32 slice to little-endian bytes.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVectorInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeVectorInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes dot(a,b) / (aNorm * bNorm), which equals
// 1 - cosine distance. aNorm is the precomputed L2 norm of vector a.
func cosineSimilarity(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return dot / (aNorm * bNorm)
}

// idScoreHeap is a min-heap of idScore ordered by Score, tracking top-K
// candidates during the scan phase.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
