package gateway

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"shoppoller/internal/models"
)

type CallResult struct {
	Bodies map[uint]*Response
	// Removed lists worlds that answered 404; they are no longer published.
	Removed []models.World
}

// CallWorlds fetches path from every world in order. A 404 drops the world
// from the batch; any other failure aborts the whole call and is returned
// together with what was collected so far.
func (g *Gateway) CallWorlds(ctx context.Context, path string, worlds []models.World) (CallResult, error) {
	result := CallResult{Bodies: make(map[uint]*Response, len(worlds))}
	for _, w := range worlds {
		resp, err := g.Fetch(ctx, w, path)
		if err != nil {
			if StatusOf(err) == http.StatusNotFound {
				g.logger().Info("world answered 404, removing from batch",
					zap.Uint("world_id", w.ID),
					zap.String("world", w.Name),
					zap.String("path", path),
				)
				result.Removed = append(result.Removed, w)
				continue
			}
			return result, fmt.Errorf("world %d (%s): %w", w.ID, w.Name, err)
		}
		result.Bodies[w.ID] = resp
	}
	return result, nil
}
