// Package vectorstore provides the qdrant-backed vector store client:
// point upsert, filtered ANN search, and filter-delete by document.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/errors"
)

// upsertBatchSize bounds a single upsert request.
const upsertBatchSize = 128

// Point is a vector record with its payload mirror of chunk fields.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// Hit is a single ANN search result.
type Hit struct {
	ID      uint64
	Score   float32
	Payload map[string]any
}

// Filter is a conjunction of exact-match constraints over payload fields.
// Values may be strings or integers.
type Filter map[string]any

// Store is the qdrant vector store client.
type Store struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
}

// New connects to qdrant and returns a Store.
func New(cfg config.VectorStoreConfig) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &Store{
		client:     client,
		collection: cfg.Collection,
		vectorSize: uint64(cfg.VectorSize),
	}, nil
}

// PointID derives the deterministic 63-bit point id for a chunk, so that
// re-indexing identical content is idempotent.
func PointID(documentID int64, chunkID string) uint64 {
	h := xxhash.Sum64String(fmt.Sprintf("%d:%s", documentID, chunkID))
	return h % (1 << 63)
}

// EnsureCollection creates the collection with cosine distance if absent.
// Idempotent at startup.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return classify("check collection", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// Another process may have created it between the check and now.
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return classify("create collection", err)
	}
	slog.Info("collection_created",
		slog.String("collection", s.collection),
		slog.Uint64("vector_size", s.vectorSize))
	return nil
}

// UpsertPoints writes points in batches. Idempotent by point id.
func (s *Store) UpsertPoints(ctx context.Context, points []Point) error {
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}

		batch := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: qdrant.NewValueMap(p.Payload),
			})
		}

		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         batch,
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return classify("upsert points", err)
		}
	}
	return nil
}

// Search runs ANN search over the collection. filter constraints are
// conjunctive exact matches on payload fields.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	query := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if qf := buildFilter(filter); qf != nil {
		query.Filter = qf
	}

	scored, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, classify("search points", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, point := range scored {
		hit := Hit{Score: point.Score}
		if point.Id != nil {
			if num, ok := point.Id.PointIdOptions.(*qdrant.PointId_Num); ok {
				hit.ID = num.Num
			}
		}
		hit.Payload = decodePayload(point.Payload)
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByDocument removes every point whose payload document_id matches.
func (s *Store) DeleteByDocument(ctx context.Context, documentID int64) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchInt("document_id", documentID),
			},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return classify("delete by document", err)
	}
	return nil
}

// Close releases the underlying grpc connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// buildFilter converts the conjunction map to a qdrant filter.
func buildFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		switch v := value.(type) {
		case string:
			must = append(must, qdrant.NewMatch(key, v))
		case int:
			must = append(must, qdrant.NewMatchInt(key, int64(v)))
		case int64:
			must = append(must, qdrant.NewMatchInt(key, v))
		}
	}
	return &qdrant.Filter{Must: must}
}

// decodePayload converts qdrant values back to plain Go values.
func decodePayload(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = decodeValue(value)
	}
	return out
}

func decodeValue(value *qdrant.Value) any {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = decodeValue(item)
		}
		return list
	default:
		return nil
	}
}

// classify maps qdrant transport errors to the error taxonomy: NotFound is
// reported distinctly from transport failures.
func classify(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return errors.Wrap(errors.KindNotFound, op, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return errors.Wrap(errors.KindTransient, op, err)
	case codes.ResourceExhausted:
		return errors.Wrap(errors.KindOverload, op, err)
	default:
		return errors.Wrap(errors.KindUpstream, op, err)
	}
}
