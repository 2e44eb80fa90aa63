package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	requestsigner "github.com/opensearch-project/opensearch-go/v2/signer/awsv2"

	"daily-goods-assistant/config"
	"daily-goods-assistant/metrics"
)

const (
	// TextField is the metadata key holding the chunk content.
	TextField = "text"

	vectorField   = "vector_data"
	metadataField = "metadata"

	defaultBatchSize = 100
)

// Match is one nearest neighbour returned by a vector query, in the order the index ranked it.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Entry is one vector to be written into the index.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

type document struct {
	Vector   []float32         `json:"vector_data"`
	Metadata map[string]string `json:"metadata"`
}

// Opensearch API is stupid :(
type knnQuery struct {
	Size   int       `json:"size"`
	Source any       `json:"_source"`
	Query  knnClause `json:"query"`
}

type knnClause struct {
	Knn map[string]knnVector `json:"knn"`
}

type knnVector struct {
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

type sourceFilter struct {
	Excludes []string `json:"excludes"`
}

// Store reads and writes a single k-NN index.
type Store struct {
	client    *opensearch.Client
	index     string
	dimension int
	batchSize int
}

func NewStore(client *opensearch.Client, index string, dimension int, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Store{
		client:    client,
		index:     index,
		dimension: dimension,
		batchSize: batchSize,
	}
}

// NewClient builds an opensearch client from configuration, signing requests with the default AWS credentials
// chain when the domain is hosted on AWS.
func NewClient(ctx context.Context, cfg config.OpenSearchConfig) (*opensearch.Client, error) {
	clientConfig := opensearch.Config{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		},
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	if cfg.AWSSigning {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config for request signing: %w", err)
		}
		signer, err := requestsigner.NewSignerWithService(awsCfg, cfg.AWSService)
		if err != nil {
			return nil, fmt.Errorf("failed to build request signer: %w", err)
		}
		clientConfig.Signer = signer
	}

	client, err := opensearch.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

func (s *Store) Index() string {
	return s.index
}

// Exists reports whether the index has been created.
func (s *Store) Exists(ctx context.Context) (exists bool, err error) {
	defer observe(time.Now(), &err)

	resp, err := opensearchapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", s.index, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected response checking index %s: %s", s.index, resp.String())
	}
}

// Create makes the index with a cosine similarity k-NN vector field of the store's dimension.
func (s *Store) Create(ctx context.Context) (err error) {
	defer observe(time.Now(), &err)

	body := map[string]any{
		"settings": map[string]any{
			"index": map[string]any{"knn": true},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				vectorField: map[string]any{
					"type":      "knn_vector",
					"dimension": s.dimension,
					"method": map[string]any{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     "lucene",
					},
				},
				metadataField: map[string]any{"type": "object"},
			},
		},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal index definition: %w", err)
	}

	resp, err := opensearchapi.IndicesCreateRequest{
		Index: s.index,
		Body:  bytes.NewReader(bodyBytes),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("unexpected response creating index %s: %s", s.index, resp.String())
	}
	return nil
}

// EnsureIndex creates the index when it does not exist yet. An existing index is left untouched, whatever its
// mapping.
func (s *Store) EnsureIndex(ctx context.Context) (created bool, err error) {
	exists, err := s.Exists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Create(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Query returns the topK nearest stored vectors. Metadata is only fetched when includeMetadata is set.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) (matches []Match, err error) {
	defer observe(time.Now(), &err)

	q := knnQuery{
		Size:  topK,
		Query: knnClause{Knn: map[string]knnVector{vectorField: {Vector: vector, K: topK}}},
	}
	if includeMetadata {
		q.Source = sourceFilter{Excludes: []string{vectorField}}
	} else {
		q.Source = false
	}
	queryBytes, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vector query: %w", err)
	}

	resp, err := opensearchapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(queryBytes),
	}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response to vector query: %s", resp.String())
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response body: %w", err)
	}

	result := struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					Metadata map[string]any `json:"metadata"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}{}
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize search results: %w", err)
	}

	matches = make([]Match, len(result.Hits.Hits))
	for i, hit := range result.Hits.Hits {
		matches[i] = Match{
			ID:       hit.ID,
			Score:    hit.Score,
			Metadata: hit.Source.Metadata,
		}
	}
	return matches, nil
}

// Upsert writes entries in order using bulk requests of at most batchSize entries. Entries with an existing ID
// are replaced.
func (s *Store) Upsert(ctx context.Context, entries []Entry) error {
	for start := 0; start < len(entries); start += s.batchSize {
		end := min(start+s.batchSize, len(entries))
		if err := s.bulk(ctx, entries[start:end]); err != nil {
			return fmt.Errorf("failed to upsert entries %d:%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *Store) bulk(ctx context.Context, entries []Entry) (err error) {
	defer observe(time.Now(), &err)

	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for _, entry := range entries {
		action := map[string]any{"index": map[string]string{"_id": entry.ID}}
		if err := encoder.Encode(action); err != nil {
			return fmt.Errorf("failed to encode bulk action for %s: %w", entry.ID, err)
		}
		if err := encoder.Encode(document{Vector: entry.Vector, Metadata: entry.Metadata}); err != nil {
			return fmt.Errorf("failed to encode document %s: %w", entry.ID, err)
		}
	}

	resp, err := opensearchapi.BulkRequest{
		Index: s.index,
		Body:  &body,
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to execute bulk request: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("unexpected bulk response: %s", resp.String())
	}

	result := struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to deserialize bulk response: %w", err)
	}
	if !result.Errors {
		return nil
	}

	failed := 0
	var first string
	for _, item := range result.Items {
		for _, outcome := range item {
			if outcome.Error == nil {
				continue
			}
			if failed == 0 {
				first = fmt.Sprintf("%s: %s (%s)", outcome.ID, outcome.Error.Reason, outcome.Error.Type)
			}
			failed++
		}
	}
	return fmt.Errorf("%d of %d documents were rejected, first failure %s", failed, len(entries), first)
}

func observe(start time.Time, err *error) {
	metrics.ObserveDependency(metrics.DependencyOpenSearch, start, *err)
}
