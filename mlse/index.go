package mlse

import "context"

// Indexer is implemented by search backends that need to be told about
// content changes directly, rather than discovering them by re-scanning
// storage; a bare SearchBackend only searches, so keeping content up to
// date with commits is left to the caller. provider.FTS5Backend satisfies
// this; a pure vector-search backend fed by an external pipeline might
// not, so Engine treats it as optional.
type Indexer interface {
	Index(ctx context.Context, memoryID, scope, content string) error
	Remove(ctx context.Context, memoryID string) error
}

func (e *Engine) reindex(key, scope, content string) {
	idx, ok := e.search.(Indexer)
	if !ok {
		return
	}
	if err := idx.Index(context.Background(), key, scope, content); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("mlse failed to update search index")
	}
}

func (e *Engine) deindex(key string) {
	idx, ok := e.search.(Indexer)
	if !ok {
		return
	}
	if err := idx.Remove(context.Background(), key); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("mlse failed to remove search index entry")
	}
}
