package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/pders01/fitlist/internal/debuglog"
	"github.com/pders01/fitlist/internal/storage"
	"github.com/rs/zerolog"
)

const (
	docWorkout = "workout"
	docSong    = "song"
)

// BleveEngine keeps a bleve index of workouts and their songs in step with
// the cache.
type BleveEngine struct {
	store *storage.Store
	idx   bleve.Index
	log   zerolog.Logger
}

// NewBleveEngine creates or opens a Bleve index at indexPath and indexes current data.
// An empty indexPath builds an in-memory index.
func NewBleveEngine(ctx context.Context, store *storage.Store, indexPath string) (*BleveEngine, error) {
	var idx bleve.Index
	var err error

	if indexPath == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		idx, err = bleve.Open(indexPath)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(indexPath, buildIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}

	be := &BleveEngine{store: store, idx: idx, log: debuglog.WithComponent("search")}
	if err := be.Reindex(ctx); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return be, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	text := func(store bool) *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = store
		return f
	}

	title := text(true)
	title.IncludeTermVectors = true

	// exact-match fields used for lookups and deletes
	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	exact.Store = true

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("trainer", text(true))
	dm.AddFieldMappingsAt("genre", text(true))
	dm.AddFieldMappingsAt("category", text(true))
	dm.AddFieldMappingsAt("artist", text(true))
	dm.AddFieldMappingsAt("url", text(false))
	dm.AddFieldMappingsAt("key", exact)
	dm.AddFieldMappingsAt("type", exact)

	im.DefaultMapping = dm
	return im
}

// Reindex rebuilds the index from the store.
func (b *BleveEngine) Reindex(ctx context.Context) error {
	batch := b.idx.NewBatch()
	count := 0
	for rec, err := range b.store.List(ctx, storage.Filter{}) {
		if err != nil {
			return fmt.Errorf("listing workouts for indexing: %w", err)
		}
		if err := b.deleteKey(rec.IdentityKey); err != nil {
			return err
		}
		if err := indexRecord(batch, rec); err != nil {
			return err
		}
		count++
	}
	if err := b.idx.Batch(batch); err != nil {
		return fmt.Errorf("writing search index: %w", err)
	}
	b.log.Debug().Int("workouts", count).Msg("search index rebuilt")
	return nil
}

func indexRecord(batch *bleve.Batch, rec *storage.WorkoutRecord) error {
	if err := batch.Index(docIDForWorkout(rec.IdentityKey), map[string]any{
		"type":     docWorkout,
		"key":      rec.IdentityKey,
		"title":    rec.Title,
		"trainer":  rec.Trainer,
		"genre":    rec.Genre,
		"category": rec.Category,
		"url":      rec.URL(),
	}); err != nil {
		return err
	}
	for i, s := range rec.Songs {
		if err := batch.Index(docIDForSong(rec.IdentityKey, i), map[string]any{
			"type":   docSong,
			"key":    rec.IdentityKey,
			"title":  s.Title,
			"artist": s.Artist,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *BleveEngine) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	// OR of per-term match and prefix queries across the text fields
	boosts := []struct {
		field string
		boost float64
	}{
		{"title", 4.0},
		{"trainer", 3.0},
		{"artist", 2.5},
		{"genre", 2.0},
		{"category", 2.0},
		{"url", 0.5},
	}
	var qs []bleveQuery.Query
	for _, tok := range tokenize(query) {
		for _, fb := range boosts {
			m := bleve.NewMatchQuery(tok)
			m.SetField(fb.field)
			m.SetBoost(fb.boost)
			p := bleve.NewPrefixQuery(tok)
			p.SetField(fb.field)
			p.SetBoost(fb.boost * 0.85)
			qs = append(qs, m, p)
		}
	}
	if len(qs) == 0 {
		return []*Result{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	req.Fields = []string{"type", "key"}
	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	records := make(map[string]*storage.WorkoutRecord)
	for _, h := range res.Hits {
		key, _ := h.Fields["key"].(string)
		rec, ok := records[key]
		if !ok {
			rec, err = b.store.Get(ctx, key)
			if errors.Is(err, storage.ErrNotFound) {
				// stale doc; the next write for this key will clean it up
				continue
			}
			if err != nil {
				return nil, err
			}
			records[key] = rec
		}

		r := &Result{Workout: rec, Score: h.Score}
		if typ, _ := h.Fields["type"].(string); typ == docSong {
			i, err := songIndex(h.ID)
			if err != nil || i >= len(rec.Songs) {
				continue
			}
			r.Song = &rec.Songs[i]
			r.IsSong = true
		}
		out = append(out, r)
	}
	return out, nil
}

// SearchInWorkout scores one workout locally without touching the index.
func (b *BleveEngine) SearchInWorkout(rec *storage.WorkoutRecord, query string) ([]*Result, error) {
	return (&Engine{store: b.store}).SearchInWorkout(rec, query)
}

// RecordUpdated replaces every document for rec's key.
func (b *BleveEngine) RecordUpdated(_ context.Context, rec *storage.WorkoutRecord) {
	if rec == nil {
		return
	}
	if err := b.deleteKey(rec.IdentityKey); err != nil {
		b.log.Warn().Err(err).Str("key", rec.IdentityKey).Msg("failed to clear index entries")
	}
	batch := b.idx.NewBatch()
	err := indexRecord(batch, rec)
	if err == nil {
		err = b.idx.Batch(batch)
	}
	if err != nil {
		b.log.Warn().Err(err).Str("key", rec.IdentityKey).Msg("failed to index workout")
	}
}

// RecordRemoved drops the workout and its song documents.
func (b *BleveEngine) RecordRemoved(_ context.Context, key string) {
	if err := b.deleteKey(key); err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("failed to remove index entries")
	}
}

func (b *BleveEngine) deleteKey(key string) error {
	tq := bleve.NewTermQuery(key)
	tq.SetField("key")

	const size = 1000
	for {
		req := bleve.NewSearchRequestOptions(tq, size, 0, false)
		res, err := b.idx.Search(req)
		if err != nil {
			return err
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.idx.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := b.idx.Batch(batch); err != nil {
			return err
		}
		if len(res.Hits) < size {
			return nil
		}
	}
}

// DocCount reports total documents in the index.
func (b *BleveEngine) DocCount() (int, error) {
	n, err := b.idx.DocCount()
	return int(n), err
}

func (b *BleveEngine) Close() error {
	return b.idx.Close()
}

func docIDForWorkout(key string) string { return docWorkout + ":" + key }

func docIDForSong(key string, i int) string {
	return docSong + ":" + key + ":" + strconv.Itoa(i)
}

func songIndex(docID string) (int, error) {
	i := strings.LastIndexByte(docID, ':')
	if i < 0 {
		return 0, fmt.Errorf("malformed song id %q", docID)
	}
	return strconv.Atoi(docID[i+1:])
}
