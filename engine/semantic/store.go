// Package semantic is the sole owner of all Qdrant operations. Every call is
// treated as a fallible network call: bounded retry with backoff, a shared
// circuit breaker, and explicit per-call timeouts.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/styleatlas/style-engine/engine/domain"
	"github.com/styleatlas/style-engine/pkg/fn"
	"github.com/styleatlas/style-engine/pkg/resilience"
)

// minScrollPage is the floor when shrinking the scan page on timeouts.
const minScrollPage = 100

// storeRetry is the retry schedule shared by all store calls.
var storeRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     10 * time.Second,
	Jitter:      true,
}

// VectorStore wraps a Qdrant collection of embedding records.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	timeout     time.Duration
	upsertChunk int
	scrollPage  int
	breaker     *resilience.Breaker
	log         *slog.Logger
}

// Opts configures the store client.
type Opts struct {
	Addr        string
	Collection  string
	Timeout     time.Duration
	UpsertChunk int
	ScrollPage  int
	Logger      *slog.Logger
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(opts Opts) (*VectorStore, error) {
	conn, err := grpc.NewClient(opts.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", opts.Addr, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UpsertChunk <= 0 {
		opts.UpsertChunk = 10
	}
	if opts.ScrollPage <= 0 {
		opts.ScrollPage = 500
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  opts.Collection,
		timeout:     opts.Timeout,
		upsertChunk: opts.UpsertChunk,
		scrollPage:  opts.ScrollPage,
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerOpts),
		log:         log,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// call runs f through the breaker with the store timeout applied.
func (v *VectorStore) call(ctx context.Context, f func(context.Context) error) error {
	return v.breaker.Call(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()
		return f(cctx)
	})
}

// EnsureCollection creates the cosine-distance collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// UpsertBatch stores embedding records in chunks sized below the pipeline
// batch so a failing chunk can be retried independently of the rest. Each
// chunk is retried up to 3 times; a chunk that still fails is counted as
// failed, logged, and does not abort the remaining chunks. Returns the
// content hashes successfully persisted; the error is non-nil only when
// nothing could be written at all.
func (v *VectorStore) UpsertBatch(ctx context.Context, records []domain.EmbeddingRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	persisted := make([]string, 0, len(records))
	var lastErr error
	for i, chunk := range fn.Chunk(records, v.upsertChunk) {
		points := make([]*pb.PointStruct, len(chunk))
		for j, r := range chunk {
			points[j] = buildPoint(r)
		}

		result := fn.Retry(ctx, storeRetry, func(ctx context.Context) fn.Result[struct{}] {
			err := v.call(ctx, func(ctx context.Context) error {
				wait := true
				_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
					CollectionName: v.collection,
					Wait:           &wait,
					Points:         points,
				})
				return err
			})
			return fn.FromPair(struct{}{}, err)
		})
		if _, err := result.Unwrap(); err != nil {
			lastErr = err
			v.log.Warn("semantic: upsert chunk failed", "chunk", i, "size", len(chunk), "error", err)
			continue
		}
		for _, r := range chunk {
			persisted = append(persisted, r.ContentHash)
		}
	}

	if len(persisted) == 0 {
		return nil, fmt.Errorf("semantic: upsert %d records: %w", len(records), lastErr)
	}
	return persisted, nil
}

// ScrollAll fetches the full embedding set, paginated and resumable from the
// returned offsets. On a timeout the page size is halved (never below
// minScrollPage) and the page is refetched, matching how a loaded store
// behaves under large reads.
func (v *VectorStore) ScrollAll(ctx context.Context, opts ScrollOpts) ([]domain.EmbeddingRecord, error) {
	var (
		records []domain.EmbeddingRecord
		offset  *pb.PointId
		page    = v.scrollPage
	)

	filter := scrollFilter(opts)
	for {
		limit := uint32(page)
		req := &pb.ScrollPoints{
			CollectionName: v.collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		}
		if opts.WithVectors {
			req.WithVectors = &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}}
		}

		var resp *pb.ScrollResponse
		err := v.call(ctx, func(ctx context.Context) error {
			var err error
			resp, err = v.points.Scroll(ctx, req)
			return err
		})
		if err != nil {
			if status.Code(err) == codes.DeadlineExceeded && page > minScrollPage {
				page = max(minScrollPage, page/2)
				v.log.Warn("semantic: scroll timed out, shrinking page", "page", page)
				continue
			}
			return nil, fmt.Errorf("semantic: scroll at %d records: %w", len(records), err)
		}

		for _, p := range resp.GetResult() {
			records = append(records, recordFromPoint(p))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil || len(resp.GetResult()) == 0 {
			return records, nil
		}
	}
}

// Search performs KNN cosine search, descending by similarity.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]domain.SearchHit, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, val := range filters {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	var resp *pb.SearchResponse
	result := fn.Retry(ctx, storeRetry, func(ctx context.Context) fn.Result[struct{}] {
		err := v.call(ctx, func(ctx context.Context) error {
			var err error
			resp, err = v.points.Search(ctx, req)
			return err
		})
		return fn.FromPair(struct{}{}, err)
	})
	if _, err := result.Unwrap(); err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]domain.SearchHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = domain.SearchHit{
			ContentHash:  payloadString(r.GetPayload(), "content_hash"),
			ImageURL:     payloadString(r.GetPayload(), "image_url"),
			Category:     payloadString(r.GetPayload(), "category"),
			CategoryType: payloadString(r.GetPayload(), "category_type"),
			Similarity:   r.GetScore(),
		}
	}
	return hits, nil
}

// SetClusterIDs applies a clustering run's content_hash -> cluster_id mapping
// in bulk. Points sharing a cluster id are updated together in chunks.
// Returns the number of records updated.
func (v *VectorStore) SetClusterIDs(ctx context.Context, assignments map[string]int) (int, error) {
	byCluster := make(map[int][]*pb.PointId)
	for hash, cid := range assignments {
		byCluster[cid] = append(byCluster[cid], &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(hash)},
		})
	}

	updated := 0
	var lastErr error
	for cid, ids := range byCluster {
		payload := map[string]*pb.Value{"cluster_id": pbInt(int64(cid))}
		for _, chunk := range fn.Chunk(ids, v.scrollPage) {
			err := v.setPayload(ctx, payload, chunk)
			if err != nil {
				lastErr = err
				v.log.Warn("semantic: cluster update failed", "cluster_id", cid, "size", len(chunk), "error", err)
				continue
			}
			updated += len(chunk)
		}
	}
	if updated == 0 && len(assignments) > 0 {
		return 0, fmt.Errorf("semantic: update %d cluster assignments: %w", len(assignments), lastErr)
	}
	return updated, nil
}

// SetScores writes quality-score fields back to their records. Scores differ
// per record, so each update is its own payload call, retried like any other
// store write. Returns the number of records updated.
func (v *VectorStore) SetScores(ctx context.Context, updates []ScoreUpdate) (int, error) {
	updated := 0
	var lastErr error
	for _, u := range updates {
		payload := make(map[string]*pb.Value, 2)
		if u.Aesthetic != nil {
			payload["aesthetic"] = pbDouble(*u.Aesthetic)
		}
		if u.Quality != nil {
			payload["quality"] = pbDouble(*u.Quality)
		}
		if len(payload) == 0 {
			continue
		}
		id := &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(u.ContentHash)}}
		if err := v.setPayload(ctx, payload, []*pb.PointId{id}); err != nil {
			lastErr = err
			v.log.Warn("semantic: score update failed", "content_hash", u.ContentHash, "error", err)
			continue
		}
		updated++
	}
	if updated == 0 && len(updates) > 0 && lastErr != nil {
		return 0, fmt.Errorf("semantic: update %d scores: %w", len(updates), lastErr)
	}
	return updated, nil
}

func (v *VectorStore) setPayload(ctx context.Context, payload map[string]*pb.Value, ids []*pb.PointId) error {
	result := fn.Retry(ctx, storeRetry, func(ctx context.Context) fn.Result[struct{}] {
		err := v.call(ctx, func(ctx context.Context) error {
			wait := true
			_, err := v.points.SetPayload(ctx, &pb.SetPayloadPoints{
				CollectionName: v.collection,
				Wait:           &wait,
				Payload:        payload,
				PointsSelector: &pb.PointsSelector{
					PointsSelectorOneOf: &pb.PointsSelector_Points{
						Points: &pb.PointsIdsList{Ids: ids},
					},
				},
			})
			return err
		})
		return fn.FromPair(struct{}{}, err)
	})
	_, err := result.Unwrap()
	return err
}

// --- conversions ---

func buildPoint(r domain.EmbeddingRecord) *pb.PointStruct {
	payload := map[string]*pb.Value{
		"content_hash":  pbString(r.ContentHash),
		"image_url":     pbString(r.ImageURL),
		"category":      pbString(r.Category),
		"category_type": pbString(r.CategoryType),
		"search_term":   pbString(r.SearchTerm),
		"title":         pbString(r.Title),
		"alt_text":      pbString(r.AltText),
	}
	if r.ClusterID != nil {
		payload["cluster_id"] = pbInt(int64(*r.ClusterID))
	}
	if r.Aesthetic != nil {
		payload["aesthetic"] = pbDouble(*r.Aesthetic)
	}
	if r.Quality != nil {
		payload["quality"] = pbDouble(*r.Quality)
	}
	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ContentHash)},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: r.Embedding},
			},
		},
		Payload: payload,
	}
}

func recordFromPoint(p *pb.RetrievedPoint) domain.EmbeddingRecord {
	payload := p.GetPayload()
	r := domain.EmbeddingRecord{
		ContentHash:  payloadString(payload, "content_hash"),
		ImageURL:     payloadString(payload, "image_url"),
		Category:     payloadString(payload, "category"),
		CategoryType: payloadString(payload, "category_type"),
		SearchTerm:   payloadString(payload, "search_term"),
		Title:        payloadString(payload, "title"),
		AltText:      payloadString(payload, "alt_text"),
	}
	if vec := p.GetVectors().GetVector(); vec != nil {
		r.Embedding = vec.GetData()
	}
	if v, ok := payload["cluster_id"]; ok {
		cid := int(v.GetIntegerValue())
		r.ClusterID = &cid
	}
	if v, ok := payload["aesthetic"]; ok {
		a := v.GetDoubleValue()
		r.Aesthetic = &a
	}
	if v, ok := payload["quality"]; ok {
		q := v.GetDoubleValue()
		r.Quality = &q
	}
	return r
}

func scrollFilter(opts ScrollOpts) *pb.Filter {
	var must []*pb.Condition
	if opts.MinAesthetic != nil {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   "aesthetic",
					Range: &pb.Range{Gte: opts.MinAesthetic},
				},
			},
		})
	}
	if opts.UnscoredOnly {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_IsNull{
				IsNull: &pb.IsNullCondition{Key: "aesthetic"},
			},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func payloadString(p map[string]*pb.Value, key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func pbString(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func pbInt(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}

func pbDouble(f float64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
}
