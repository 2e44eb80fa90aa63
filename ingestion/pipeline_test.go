package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/encoding/korean"

	"daily-goods-assistant/records"
	"daily-goods-assistant/search"
)

type mockEmbedder struct {
	mu     sync.Mutex
	calls  []string
	onCall func(text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	if m.onCall != nil {
		return m.onCall(text)
	}
	return []float32{float32(len(text))}, nil
}

type mockStore struct {
	exists      bool
	existsErr   error
	createErr   error
	upsertErr   error
	createCalls int
	upserted    []search.Entry
	upsertCalls int
}

func (m *mockStore) Exists(ctx context.Context) (bool, error) { return m.exists, m.existsErr }

func (m *mockStore) Create(ctx context.Context) error {
	m.createCalls++
	return m.createErr
}

func (m *mockStore) Upsert(ctx context.Context, entries []search.Entry) error {
	m.upsertCalls++
	m.upserted = append(m.upserted, entries...)
	return m.upsertErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultOptions() Options {
	return Options{ChunkSize: 1000, ChunkOverlap: 100, Concurrency: 1}
}

const threeRowCSV = "상품명,조사일,판매가격,판매업소,제조사,세일여부,원플러스원\n" +
	"서울우유 1L,2024-01-05,2980,이마트 성수점,서울우유협동조합,Y,N\n" +
	"신라면,2024-01-05,4480,롯데마트 잠실점,농심,N,Y\n" +
	"햇반 210g,2024-01-06,1500,홈플러스 강서점,CJ제일제당,N,N\n"

func loadThreeRows(t *testing.T) []records.SourceRecord {
	t.Helper()
	encoded, err := korean.EUCKR.NewEncoder().String(threeRowCSV)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(encoded), 0644); err != nil {
		t.Fatal(err)
	}
	recs, err := records.Load(path, "euc-kr")
	if err != nil {
		t.Fatalf("failed to load fixture: %v", err)
	}
	return recs
}

func TestRunCreatesMissingIndex(t *testing.T) {
	recs := loadThreeRows(t)
	embedder := &mockEmbedder{}
	store := &mockStore{exists: false}

	report, err := NewPipeline(embedder, store, defaultOptions(), quietLogger()).Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if store.createCalls != 1 || !report.IndexCreated {
		t.Errorf("expected index creation, createCalls=%d report=%+v", store.createCalls, report)
	}
	if report.Records != 3 || report.Chunks != 3 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(embedder.calls) != report.Chunks {
		t.Errorf("embedder called %d times for %d chunks", len(embedder.calls), report.Chunks)
	}
	if len(store.upserted) != 3 {
		t.Fatalf("expected 3 uploaded entries, got %d", len(store.upserted))
	}
}

func TestRunSkipsExistingIndex(t *testing.T) {
	recs := loadThreeRows(t)
	store := &mockStore{exists: true}

	report, err := NewPipeline(&mockEmbedder{}, store, defaultOptions(), quietLogger()).Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if store.createCalls != 0 || report.IndexCreated {
		t.Errorf("existing index must not be re-created, createCalls=%d", store.createCalls)
	}

	// A second run against the same index adds entries again without touching the index definition.
	if _, err := NewPipeline(&mockEmbedder{}, store, defaultOptions(), quietLogger()).Run(context.Background(), recs); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if store.createCalls != 0 || len(store.upserted) != 6 {
		t.Errorf("createCalls=%d upserted=%d after rerun", store.createCalls, len(store.upserted))
	}
}

func TestRunEntryMetadata(t *testing.T) {
	recs := loadThreeRows(t)
	store := &mockStore{exists: true}
	pipeline := NewPipeline(&mockEmbedder{}, store, defaultOptions(), quietLogger())
	ids := 0
	pipeline.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}

	if _, err := pipeline.Run(context.Background(), recs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for i, entry := range store.upserted {
		rec := recs[i]
		if entry.ID != fmt.Sprintf("id-%d", i+1) {
			t.Errorf("entry %d has id %s", i, entry.ID)
		}
		if entry.Metadata[search.TextField] != rec.Content() {
			t.Errorf("entry %d text = %q, want %q", i, entry.Metadata[search.TextField], rec.Content())
		}
		for field, value := range rec.Metadata() {
			if entry.Metadata[field] != value {
				t.Errorf("entry %d %s = %q, want %q", i, field, entry.Metadata[field], value)
			}
		}
		if len(entry.Metadata) != len(records.Fields)+1 {
			t.Errorf("entry %d has %d metadata fields", i, len(entry.Metadata))
		}
		if len(entry.Vector) != 1 || entry.Vector[0] != float32(len(rec.Content())) {
			t.Errorf("entry %d carries the wrong vector %v", i, entry.Vector)
		}
	}
}

func TestRunLongRecordChunks(t *testing.T) {
	recs := []records.SourceRecord{
		{Row: 1, ProductName: strings.Repeat("가", 2400), Price: "100"},
		{Row: 2, ProductName: "두부"},
	}
	embedder := &mockEmbedder{}
	store := &mockStore{exists: true}

	report, err := NewPipeline(embedder, store, defaultOptions(), quietLogger()).Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantChunks := len(Split(recs[0].Content(), 1000, 100)) + 1
	if report.Chunks != wantChunks || len(embedder.calls) != wantChunks || len(store.upserted) != wantChunks {
		t.Fatalf("chunks %d, embed calls %d, uploaded %d, want %d", report.Chunks, len(embedder.calls), len(store.upserted), wantChunks)
	}
	for i := 0; i < wantChunks-1; i++ {
		if store.upserted[i].Metadata[records.FieldPrice] != "100" {
			t.Errorf("chunk %d lost its record metadata", i)
		}
	}
	if store.upserted[wantChunks-1].Metadata[records.FieldProductName] != "두부" {
		t.Error("last chunk should belong to the second record")
	}
}

func TestRunConcurrentKeepsOrder(t *testing.T) {
	var recs []records.SourceRecord
	for i := 1; i <= 40; i++ {
		recs = append(recs, records.SourceRecord{Row: i, ProductName: fmt.Sprintf("상품 %02d", i)})
	}
	embedder := &mockEmbedder{onCall: func(text string) ([]float32, error) {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		return []float32{float32(len(text))}, nil
	}}
	store := &mockStore{exists: true}
	options := defaultOptions()
	options.Concurrency = 8

	if _, err := NewPipeline(embedder, store, options, quietLogger()).Run(context.Background(), recs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(embedder.calls) != 40 {
		t.Errorf("expected 40 embed calls, got %d", len(embedder.calls))
	}
	for i, entry := range store.upserted {
		if entry.Metadata[records.FieldProductName] != recs[i].ProductName {
			t.Fatalf("entry %d is %q, want %q", i, entry.Metadata[records.FieldProductName], recs[i].ProductName)
		}
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name        string
		store       *mockStore
		embedErr    error
		wantUpserts int
	}{
		{"exists check fails", &mockStore{existsErr: errors.New("connection refused")}, nil, 0},
		{"create fails", &mockStore{createErr: errors.New("resource_already_exists_exception")}, nil, 0},
		{"embedding fails", &mockStore{exists: true}, errors.New("rate limited"), 0},
		{"upload fails", &mockStore{exists: true, upsertErr: errors.New("disk full")}, nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := &mockEmbedder{}
			if tt.embedErr != nil {
				embedder.onCall = func(string) ([]float32, error) { return nil, tt.embedErr }
			}

			_, err := NewPipeline(embedder, tt.store, defaultOptions(), quietLogger()).Run(context.Background(), loadThreeRows(t))
			if err == nil {
				t.Fatal("expected the run to fail")
			}
			if tt.store.upsertCalls != tt.wantUpserts {
				t.Errorf("upsert called %d times, want %d", tt.store.upsertCalls, tt.wantUpserts)
			}
			if tt.embedErr != nil && len(embedder.calls) != 1 {
				t.Errorf("sequential run should stop after the first failed embedding, got %d calls", len(embedder.calls))
			}
		})
	}
}

func TestRunRateLimited(t *testing.T) {
	recs := []records.SourceRecord{{Row: 1}, {Row: 2}, {Row: 3}}
	options := defaultOptions()
	options.RateLimit = 50

	start := time.Now()
	if _, err := NewPipeline(&mockEmbedder{}, &mockStore{exists: true}, options, quietLogger()).Run(context.Background(), recs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Burst of one: the second and third calls wait 20ms each.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("rate limit not applied, run took %v", elapsed)
	}
}

func TestBuildChunksEmptyInput(t *testing.T) {
	if chunks := BuildChunks(nil, 1000, 100); len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}
