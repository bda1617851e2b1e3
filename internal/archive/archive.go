// Package archive keeps the raw HTML of every fetched workout page so the
// parser can be re-run offline.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pders01/fitlist/internal/debuglog"
	"github.com/pders01/fitlist/internal/scrape"
	"github.com/pders01/fitlist/internal/validation"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	pagesBucket = []byte("pages")
	metaBucket  = []byte("metadata")
)

var ErrNotFound = errors.New("page not archived")

// Meta describes an archived page. Key is the workout's identity key.
type Meta struct {
	Key          string    `json:"key"`
	OriginalURL  string    `json:"original_url"`
	RequestedURL string    `json:"requested_url"`
	FinalURL     string    `json:"final_url"`
	Status       int       `json:"status"`
	ContentType  string    `json:"content_type,omitempty"`
	Size         int       `json:"size"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Entry is an archived page with its body.
type Entry struct {
	Meta
	Body []byte
}

// Page rebuilds the fetched page for re-parsing.
func (e *Entry) Page() *scrape.Page {
	return &scrape.Page{
		RequestedURL: e.RequestedURL,
		FinalURL:     e.FinalURL,
		Status:       e.Status,
		ContentType:  e.ContentType,
		Body:         e.Body,
		FetchedAt:    e.FetchedAt,
	}
}

type Archive struct {
	db  *bolt.DB
	log zerolog.Logger
}

func Open(path string) (*Archive, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening page archive: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{pagesBucket, metaBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Archive{db: db, log: debuglog.WithComponent("archive")}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Put stores body under meta.Key, replacing any earlier copy.
func (a *Archive) Put(meta Meta, body []byte) error {
	if meta.Key == "" {
		return fmt.Errorf("archive put: empty key")
	}
	meta.Size = len(body)
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(pagesBucket).Put([]byte(meta.Key), body); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put([]byte(meta.Key), data)
	})
}

func (a *Archive) Get(key string) (*Entry, error) {
	var entry Entry
	err := a.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(metaBucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &entry.Meta); err != nil {
			return err
		}
		// bbolt values are only valid inside the transaction
		entry.Body = append([]byte(nil), tx.Bucket(pagesBucket).Get([]byte(key))...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetByURL looks a page up by any variant of its workout URL.
func (a *Archive) GetByURL(url string) (*Entry, error) {
	return a.Get(validation.IdentityKey(url))
}

// ForEach calls fn for every archived page in key order. Returning an error
// from fn stops the iteration.
func (a *Archive) ForEach(fn func(*Entry) error) error {
	return a.db.View(func(tx *bolt.Tx) error {
		pages := tx.Bucket(pagesBucket)
		return tx.Bucket(metaBucket).ForEach(func(k, v []byte) error {
			entry := &Entry{}
			if err := json.Unmarshal(v, &entry.Meta); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			entry.Body = append([]byte(nil), pages.Get(k)...)
			return fn(entry)
		})
	})
}

func (a *Archive) Delete(key string) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(pagesBucket).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Delete([]byte(key))
	})
}

func (a *Archive) Count() (int, error) {
	var n int
	err := a.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(metaBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Export writes the archived body of key to path atomically.
func (a *Archive) Export(key, path string) error {
	entry, err := a.Get(key)
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending export file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			a.log.Debug().Err(err).Msg("cleanup pending export file")
		}
	}()

	if _, err := pending.Write(entry.Body); err != nil {
		return fmt.Errorf("write export data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace export file: %w", err)
	}
	return nil
}

// OnPageFetched archives every successfully parsed page under the identity
// of its canonical URL.
func (a *Archive) OnPageFetched(_ context.Context, page *scrape.Page, rec *scrape.PartialRecord) {
	key := validation.IdentityKey(rec.CanonicalURL)
	err := a.Put(Meta{
		Key:          key,
		OriginalURL:  rec.OriginalURL,
		RequestedURL: page.RequestedURL,
		FinalURL:     page.FinalURL,
		Status:       page.Status,
		ContentType:  page.ContentType,
		FetchedAt:    page.FetchedAt,
	}, page.Body)
	if err != nil {
		a.log.Warn().Err(err).Str("url", rec.CanonicalURL).Msg("failed to archive page")
	}
}
