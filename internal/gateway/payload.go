package gateway

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/coursequery/coursequery/internal/chunk"
	"github.com/coursequery/coursequery/internal/metrics"
)

// PointFetcher is the vector store surface the gateway needs: O(1) point
// fetch by id and the scroll fallback by payload chunk_id.
type PointFetcher interface {
	GetPointsByIDs(ctx context.Context, ids []string) ([]chunk.Candidate, error)
	GetPointsByChunkIDs(ctx context.Context, chunkIDs []string, withVector bool) ([]chunk.Candidate, error)
}

// PayloadResolver resolves chunk ids to point payloads. The fast path
// derives the deterministic point id and fetches directly; misses fall
// back to a payload-filtered scroll. Results are cached with a TTL.
type PayloadResolver struct {
	points PointFetcher
	cache  *expirable.LRU[string, map[string]interface{}]
	logger *zap.Logger
}

// NewPayloadResolver creates a resolver with an expirable LRU of the
// given size and TTL.
func NewPayloadResolver(points PointFetcher, size int, ttl time.Duration, logger *zap.Logger) *PayloadResolver {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayloadResolver{
		points: points,
		cache:  expirable.NewLRU[string, map[string]interface{}](size, nil, ttl),
		logger: logger,
	}
}

// Resolve returns the payloads for the given chunk ids in input order.
// Unresolvable ids are omitted.
func (r *PayloadResolver) Resolve(ctx context.Context, chunkIDs []string) []map[string]interface{} {
	found := make(map[string]map[string]interface{}, len(chunkIDs))
	var missing []string
	for _, id := range chunkIDs {
		if p, ok := r.cache.Get(id); ok {
			metrics.GatewayPayloadLookups.WithLabelValues("cache", "hit").Inc()
			found[id] = p
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		missing = r.fetchByPointID(ctx, missing, found)
	}
	if len(missing) > 0 {
		r.fetchByScroll(ctx, missing, found)
	}
	metrics.PayloadCacheSize.Set(float64(r.cache.Len()))

	out := make([]map[string]interface{}, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// fetchByPointID fetches payloads by the deterministic point id and
// returns the ids it could not resolve.
func (r *PayloadResolver) fetchByPointID(ctx context.Context, chunkIDs []string, found map[string]map[string]interface{}) []string {
	pointIDs := make([]string, len(chunkIDs))
	byPoint := make(map[string]string, len(chunkIDs))
	for i, id := range chunkIDs {
		pid := chunk.PointIDString(id)
		pointIDs[i] = pid
		byPoint[pid] = id
	}

	cands, err := r.points.GetPointsByIDs(ctx, pointIDs)
	if err != nil {
		metrics.GatewayPayloadLookups.WithLabelValues("point", "error").Inc()
		r.logger.Warn("Point fetch failed, will try scroll", zap.Error(err))
		return chunkIDs
	}
	for _, c := range cands {
		id, ok := byPoint[c.ID]
		if !ok || c.Payload == nil {
			continue
		}
		found[id] = c.Payload
		r.cache.Add(id, c.Payload)
		metrics.GatewayPayloadLookups.WithLabelValues("point", "hit").Inc()
	}

	var still []string
	for _, id := range chunkIDs {
		if _, ok := found[id]; !ok {
			still = append(still, id)
		}
	}
	return still
}

// fetchByScroll is the slow path for points whose id does not follow the
// deterministic derivation (legacy ingests).
func (r *PayloadResolver) fetchByScroll(ctx context.Context, chunkIDs []string, found map[string]map[string]interface{}) {
	cands, err := r.points.GetPointsByChunkIDs(ctx, chunkIDs, false)
	if err != nil {
		metrics.GatewayPayloadLookups.WithLabelValues("scroll", "error").Inc()
		r.logger.Warn("Scroll payload lookup failed", zap.Error(err))
		return
	}
	for _, c := range cands {
		if c.Payload == nil {
			continue
		}
		id := c.ChunkID()
		found[id] = c.Payload
		r.cache.Add(id, c.Payload)
		metrics.GatewayPayloadLookups.WithLabelValues("scroll", "hit").Inc()
	}
	for _, id := range chunkIDs {
		if _, ok := found[id]; !ok {
			metrics.GatewayPayloadLookups.WithLabelValues("scroll", "miss").Inc()
		}
	}
}
