package session

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoData is returned when every session in a batch is absent.
var ErrNoData = eris.New("session: no valid sessions found")

// Fetcher retrieves a single session. A false return means the session is
// absent; implementations never surface per-session errors.
type Fetcher interface {
	GetSession(ctx context.Context, token, key string) (map[string]any, bool)
}

// Record is one present session and the views derived from it.
type Record struct {
	Key        string
	Tree       Tree
	Flat       Flat
	Transcript AudioTranscript
}

// FetchBatch fetches every key concurrently and waits for all of them. Present
// sessions are returned in key order, each paired with the key it was fetched
// under. ErrNoData is returned when none are present.
func FetchBatch(ctx context.Context, f Fetcher, token string, keys []string) ([]Record, error) {
	results := make([]map[string]any, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			tree, ok := f.GetSession(gctx, token, key)
			if ok {
				results[i] = tree
			}
			return nil // absence never cancels siblings
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "session: fetch batch")
	}

	records := make([]Record, 0, len(keys))
	for i, tree := range results {
		if tree == nil {
			continue
		}
		records = append(records, Record{
			Key:        keys[i],
			Tree:       Tree(tree),
			Flat:       Normalize(tree),
			Transcript: NewAudioTranscript(keys[i], tree),
		})
	}

	zap.L().Info("session: batch fetched",
		zap.Int("requested", len(keys)),
		zap.Int("present", len(records)),
	)

	if len(records) == 0 {
		return nil, ErrNoData
	}
	return records, nil
}
