package rag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	// qdrantVectorName is the named vector holding chunk embeddings. Points
	// are created without it and gain it during backfill, so nearest-neighbour
	// queries on it skip unembedded chunks.
	qdrantVectorName = "embedding"

	// payload keys stored on every point.
	payloadChunkID  = "chunk_id"
	payloadPatentID = "patent_id"
	payloadText     = "text"
	payloadEmbedded = "embedded"
)

// chunkNamespace seeds the deterministic point UUIDs derived from chunk IDs.
var chunkNamespace = uuid.MustParse("6f1c3a52-2b7e-4d0a-9c55-8a1e0b7d4f13")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// ScrollLimit is the page size PendingChunks scrolls with. Every page is
	// read, so it bounds memory per RPC, not the number of chunks returned.
	// Defaults to 1000.
	ScrollLimit uint32

	// Timeout bounds every individual RPC. Defaults to 10s.
	Timeout time.Duration
}

// QdrantStore implements VectorStore backed by a Qdrant collection using the
// Euclid distance, so scores are distances and ascend like pgvector's <->.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "patent-chunks"
	}
	if cfg.ScrollLimit == 0 {
		cfg.ScrollLimit = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: failed to create client: %w", ErrPersistence, err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// Client exposes the underlying gRPC client for readiness probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("%w: qdrant: failed to check collection existence: %w", ErrPersistence, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			qdrantVectorName: {
				Size:     s.cfg.VectorSize,
				Distance: qdrant.Distance_Euclid,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant: failed to create collection %q: %w", ErrPersistence, s.cfg.Collection, err)
	}

	return nil
}

// pointID maps a chunk ID onto a stable UUID point identifier.
func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

// SaveChunk stores c as a point with no vectors. Qdrant upserts overwrite,
// so an existing point is detected first and reported as a duplicate.
func (s *QdrantStore) SaveChunk(ctx context.Context, c Chunk) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	id := pointID(c.ChunkID)
	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qdrant.PointId{id},
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant: lookup %q: %w", ErrPersistence, c.ChunkID, err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: qdrant: chunk %q already exists", ErrPersistence, c.ChunkID)
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      id,
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadChunkID:  c.ChunkID,
				payloadPatentID: c.PatentID,
				payloadText:     c.Text,
				payloadEmbedded: false,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant: save chunk %q: %w", ErrPersistence, c.ChunkID, err)
	}
	return nil
}

// PendingChunks scrolls every page of points whose embedded flag is false.
func (s *QdrantStore) PendingChunks(ctx context.Context) ([]Chunk, error) {
	points, err := scrollAll(ctx, func(ctx context.Context, offset *qdrant.PointId) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		return s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatchBool(payloadEmbedded, false)},
			},
			Offset:      offset,
			Limit:       qdrant.PtrOf(s.cfg.ScrollLimit),
			WithPayload: qdrant.NewWithPayload(true),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: pending chunks: %w", ErrPersistence, err)
	}

	chunks := make([]Chunk, 0, len(points))
	for _, p := range points {
		chunks = append(chunks, chunkFromPayload(p.GetPayload()))
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkID < chunks[j].ChunkID })
	return chunks, nil
}

// scrollPage fetches one page starting at offset (nil for the first page) and
// returns the offset of the next page, nil when there is none.
type scrollPage func(ctx context.Context, offset *qdrant.PointId) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)

// scrollAll follows next-page offsets until the collection is exhausted.
func scrollAll(ctx context.Context, fetch scrollPage) ([]*qdrant.RetrievedPoint, error) {
	var all []*qdrant.RetrievedPoint
	var offset *qdrant.PointId
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, next, err := fetch(ctx, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == nil {
			return all, nil
		}
		offset = next
	}
}

// SetEmbedding attaches vec to the chunk's point unless it is already embedded.
func (s *QdrantStore) SetEmbedding(ctx context.Context, chunkID string, vec []float32) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	id := pointID(chunkID)
	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qdrant.PointId{id},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return false, fmt.Errorf("%w: qdrant: lookup %q: %w", ErrPersistence, chunkID, err)
	}
	if len(existing) == 0 {
		return false, nil
	}
	if v, ok := existing[0].GetPayload()[payloadEmbedded]; ok && v.GetBoolValue() {
		return false, nil
	}

	_, err = s.client.UpdateVectors(ctx, &qdrant.UpdatePointVectors{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointVectors{{
			Id: id,
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				qdrantVectorName: qdrant.NewVector(vec...),
			}),
		}},
	})
	if err != nil {
		return false, fmt.Errorf("%w: qdrant: set embedding %q: %w", ErrPersistence, chunkID, err)
	}

	_, err = s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Payload:        qdrant.NewValueMap(map[string]any{payloadEmbedded: true}),
		PointsSelector: qdrant.NewPointsSelector(id),
	})
	if err != nil {
		return false, fmt.Errorf("%w: qdrant: mark embedded %q: %w", ErrPersistence, chunkID, err)
	}
	return true, nil
}

// Nearest queries the named embedding vector and re-sorts so equal distances
// are ordered by chunk ID. Qdrant breaks ties arbitrarily, so the limit grows
// until the k-th distance is no longer shared with the first point past it.
func (s *QdrantStore) Nearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: qdrant: k must be >= 1, got %d", ErrInvalidArgument, k)
	}

	neighbors, err := nearestTieSafe(k, func(limit int) ([]Neighbor, error) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		results, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.cfg.Collection,
			Query:          qdrant.NewQuery(vec...),
			Using:          qdrant.PtrOf(qdrantVectorName),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, err
		}
		out := make([]Neighbor, 0, len(results))
		for _, r := range results {
			out = append(out, Neighbor{
				Chunk:    chunkFromPayload(r.GetPayload()),
				Distance: float64(r.GetScore()),
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: search failed: %w", ErrPersistence, err)
	}
	return neighbors, nil
}

// nearestTieSafe queries with limit k+1 and doubles the limit while the
// k-th and the last fetched distances are equal, then sorts and truncates to
// k. A tie straddling the boundary is thereby resolved by chunk ID.
func nearestTieSafe(k int, query func(limit int) ([]Neighbor, error)) ([]Neighbor, error) {
	limit := k + 1
	for {
		neighbors, err := query(limit)
		if err != nil {
			return nil, err
		}
		SortNeighbors(neighbors)
		if len(neighbors) < limit || neighbors[limit-1].Distance != neighbors[k-1].Distance {
			if len(neighbors) > k {
				neighbors = neighbors[:k]
			}
			return neighbors, nil
		}
		limit *= 2
	}
}

// SortNeighbors orders neighbors by ascending distance, then chunk ID.
func SortNeighbors(neighbors []Neighbor) {
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Chunk.ChunkID < neighbors[j].Chunk.ChunkID
	})
}

// chunkFromPayload rebuilds a Chunk from a point payload.
func chunkFromPayload(p map[string]*qdrant.Value) Chunk {
	var c Chunk
	if v, ok := p[payloadChunkID]; ok {
		c.ChunkID = v.GetStringValue()
	}
	if v, ok := p[payloadPatentID]; ok {
		c.PatentID = v.GetStringValue()
	}
	if v, ok := p[payloadText]; ok {
		c.Text = v.GetStringValue()
	}
	return c
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: qdrant: health check failed: %w", ErrPersistence, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
