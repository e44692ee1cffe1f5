package cone

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/ghostbot/persist"
)

// ConesKey is the aggregate entry holding cone records.
const ConesKey = "cones"

// Snapshot writes every record under the "cones" entry.
func (r *Registry) Snapshot(ctx context.Context) (persist.Aggregate, error) {
	r.mu.RLock()
	recs := make(map[string]Record, len(r.records))
	for k, v := range r.records {
		recs[k] = v
	}
	r.mu.RUnlock()

	doc, err := persist.ToDocument(recs)
	if err != nil {
		return nil, fmt.Errorf("encode cones: %w", err)
	}
	return persist.Aggregate{ConesKey: doc}, nil
}

// Restore replaces all records with the "cones" entry of agg. Records with an
// unknown effect are dropped.
func (r *Registry) Restore(agg persist.Aggregate) error {
	recs := make(map[string]Record)
	if doc, ok := agg[ConesKey]; ok {
		if err := persist.FromDocument(doc, &recs); err != nil {
			return fmt.Errorf("decode cones: %w", err)
		}
	}
	for k, rec := range recs {
		if !rec.Effect.Valid() {
			logger().Warn("dropping cone with unknown effect", slog.String("subject", k), slog.String("effect", string(rec.Effect)))
			delete(recs, k)
			continue
		}
		if rec.SubjectID == "" {
			rec.SubjectID = k
			recs[k] = rec
		}
	}
	r.mu.Lock()
	r.records = recs
	r.mu.Unlock()
	r.publish()
	return nil
}
