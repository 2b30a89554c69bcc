package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

const (
	qdrantPathKey    = "path"
	qdrantScrollPage = 256
)

var _ port.VectorStore = (*QdrantStore)(nil)

// QdrantStore keeps one point per identifier in a cosine collection. Point
// IDs are name based UUIDs of the identifier so writes are idempotent.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dimension   int
}

func NewQdrantStore(ctx context.Context, host string, port int, collection string, dimension int) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "qdrant connect", errs.Field("addr", addr))
	}

	s := &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dimension:   dimension,
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return errs.Wrap(err, errs.CodeStore, "checking collection", errs.Field("collection", s.collection))
	}
	if resp.GetResult().GetExists() {
		return nil
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(s.dimension),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return errs.Wrap(err, errs.CodeStore, "creating collection", errs.Field("collection", s.collection))
	}
	return nil
}

func pointID(identifier string) *pb.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(identifier))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

func payloadSelector() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func (s *QdrantStore) Identifiers(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	limit := uint32(qdrantScrollPage)
	var offset *pb.PointId
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    payloadSelector(),
		})
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeStore, "scrolling points")
		}
		for _, pt := range resp.GetResult() {
			if path := pt.GetPayload()[qdrantPathKey].GetStringValue(); path != "" {
				ids[path] = struct{}{}
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return ids, nil
		}
	}
}

func (s *QdrantStore) Get(ctx context.Context, id string) (domain.EmbeddingRecord, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID(id)},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return domain.EmbeddingRecord{}, errs.Wrap(err, errs.CodeStore, "reading point", errs.FieldIdentifier(id))
	}
	if len(resp.GetResult()) == 0 {
		return domain.EmbeddingRecord{}, errs.New(errs.CodeStoreNotFound, "record not found", errs.FieldIdentifier(id))
	}
	data := resp.GetResult()[0].GetVectors().GetVector().GetData()
	return domain.EmbeddingRecord{Identifier: id, Vector: domain.FromFloat32(data)}, nil
}

// Nearest converts qdrant's cosine similarity score back to a distance.
func (s *QdrantStore) Nearest(ctx context.Context, query domain.Vector, k int) ([]domain.SearchResult, error) {
	if err := checkDimension(s.dimension, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query.Float32(),
		Limit:          uint64(k),
		WithPayload:    payloadSelector(),
	})
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStore, "searching points")
	}

	results := make([]domain.SearchResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		results = append(results, domain.SearchResult{
			Identifier: pt.GetPayload()[qdrantPathKey].GetStringValue(),
			Distance:   1 - float64(pt.GetScore()),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	return results, nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return 0, errs.Wrap(err, errs.CodeStore, "counting points")
	}
	return int(resp.GetResult().GetCount()), nil
}

// Begin buffers writes client side; Commit sends them as one waited upsert.
func (s *QdrantStore) Begin(_ context.Context) (port.VectorTx, error) {
	return &qdrantTx{store: s, pending: make(map[string]int)}, nil
}

func (s *QdrantStore) Dimension() int {
	return s.dimension
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

type qdrantTx struct {
	store   *QdrantStore
	points  []*pb.PointStruct
	pending map[string]int
	done    bool
}

func (t *qdrantTx) InsertIfAbsent(ctx context.Context, rec domain.EmbeddingRecord) (bool, error) {
	if err := checkDimension(t.store.dimension, rec.Vector); err != nil {
		return false, err
	}
	if _, ok := t.pending[rec.Identifier]; ok {
		return false, nil
	}

	resp, err := t.store.points.Get(ctx, &pb.GetPoints{
		CollectionName: t.store.collection,
		Ids:            []*pb.PointId{pointID(rec.Identifier)},
	})
	if err != nil {
		return false, errs.Wrap(err, errs.CodeStore, "checking point", errs.FieldIdentifier(rec.Identifier))
	}
	if len(resp.GetResult()) > 0 {
		return false, nil
	}

	t.stage(rec)
	return true, nil
}

func (t *qdrantTx) Upsert(_ context.Context, rec domain.EmbeddingRecord) error {
	if err := checkDimension(t.store.dimension, rec.Vector); err != nil {
		return err
	}
	t.stage(rec)
	return nil
}

func (t *qdrantTx) stage(rec domain.EmbeddingRecord) {
	point := &pb.PointStruct{
		Id:      pointID(rec.Identifier),
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Vector.Float32()}}},
		Payload: map[string]*pb.Value{
			qdrantPathKey: {Kind: &pb.Value_StringValue{StringValue: rec.Identifier}},
		},
	}
	if i, ok := t.pending[rec.Identifier]; ok {
		t.points[i] = point
		return
	}
	t.pending[rec.Identifier] = len(t.points)
	t.points = append(t.points, point)
}

func (t *qdrantTx) Commit(ctx context.Context) error {
	if t.done {
		return errs.New(errs.CodeStore, "transaction already finished")
	}
	t.done = true
	if len(t.points) == 0 {
		return nil
	}

	wait := true
	_, err := t.store.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: t.store.collection,
		Wait:           &wait,
		Points:         t.points,
	})
	if err != nil {
		return errs.Wrap(err, errs.CodeStore, "upserting points", errs.Field("count", len(t.points)))
	}
	return nil
}

func (t *qdrantTx) Rollback(_ context.Context) error {
	t.done = true
	t.points = nil
	return nil
}
