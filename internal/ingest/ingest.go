// Package ingest feeds article batches into the engine from Kafka topics and
// from a filesystem inbox.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/storyline/internal/changes"
	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/pkg/types"
)

// Processor consumes decoded batches. *engine.Storyline satisfies it.
type Processor interface {
	ProcessArticles(ctx context.Context, articles []types.Article) (*changes.Result, error)
}

// DecodeBatch accepts a single JSON article or a JSON array of articles.
func DecodeBatch(data []byte) ([]types.Article, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}

	if data[0] == '[' {
		var batch []types.Article
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decode article batch: %w", err)
		}
		return batch, nil
	}

	var a types.Article
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode article: %w", err)
	}
	return []types.Article{a}, nil
}

// handle decodes and processes one payload. done reports whether the payload
// is finished with: undecodable or invalid payloads are done (and logged) so
// they are never redelivered; a cancelled context is not.
func handle(ctx context.Context, p Processor, origin string, data []byte) (done bool, err error) {
	batch, err := DecodeBatch(data)
	if err != nil {
		log.Printf("ingest: dropping undecodable payload from %s: %v", origin, err)
		return true, nil
	}
	if len(batch) == 0 {
		return true, nil
	}

	res, err := p.ProcessArticles(ctx, batch)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			log.Printf("ingest: dropping invalid batch from %s: %v", origin, err)
			return true, nil
		}
		return false, err
	}

	if res.PersistErr != nil {
		log.Printf("ingest: %s: batch processed but not fully persisted: %v", origin, res.PersistErr)
	}
	log.Printf("ingest: %s: %d articles (%d new, %d updated, %d skipped), %d changes",
		origin, len(batch), res.New, res.Updated, res.Skipped, len(res.Entries))
	return true, nil
}
