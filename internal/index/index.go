package index

import (
	"errors"
	"fmt"
	"strings"

	"go-wallhaven-download/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

// Item is the document stored for every recorded wallpaper.
type Item struct {
	Key        string   `json:"key"`
	ID         string   `json:"id"`
	Purity     string   `json:"purity"`
	Category   string   `json:"category"`
	Resolution string   `json:"resolution"`
	FileType   string   `json:"fileType"`
	Colors     []string `json:"colors"`
	Tags       []string `json:"tags"`
	Source     string   `json:"source"`
	URL        string   `json:"url"`
	Views      int      `json:"views"`
	Favorites  int      `json:"favorites"`
	CreatedAt  string   `json:"createdAt"`
}

// Hit is a single search result.
type Hit struct {
	Key    string
	Score  float64
	Fields map[string]interface{}
}

// ItemFromWallpaper builds the indexed document for w.
func ItemFromWallpaper(key string, w models.Wallpaper) Item {
	tags := make([]string, 0, len(w.Tags))
	for _, t := range w.Tags {
		tags = append(tags, t.Name)
	}
	return Item{
		Key:        key,
		ID:         w.ID,
		Purity:     w.Purity,
		Category:   w.Category,
		Resolution: w.Resolution,
		FileType:   w.FileType,
		Colors:     w.Colors,
		Tags:       tags,
		Source:     w.Source,
		URL:        w.URL,
		Views:      w.Views,
		Favorites:  w.Favorites,
		CreatedAt:  w.CreatedAt,
	}
}

// OpenOrCreateIndex opens the index at path or creates a new one.
func OpenOrCreateIndex(path string) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		log.Infof("Creating search index at %s", path)
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index %s: %w", path, err)
	}
	return idx, nil
}

// IndexWallpaper adds or replaces the document for key.
func IndexWallpaper(idx bleve.Index, key string, w models.Wallpaper) error {
	if err := idx.Index(key, ItemFromWallpaper(key, w)); err != nil {
		return fmt.Errorf("indexing %s: %w", key, err)
	}
	return nil
}

// Rebuild indexes every wallpaper produced by fold in batches.
func Rebuild(idx bleve.Index, fold func(fn func(key string, w models.Wallpaper) error) error) (int, error) {
	const batchSize = 200
	batch := idx.NewBatch()
	count := 0

	err := fold(func(key string, w models.Wallpaper) error {
		if err := batch.Index(key, ItemFromWallpaper(key, w)); err != nil {
			return fmt.Errorf("batching %s: %w", key, err)
		}
		count++
		if batch.Size() >= batchSize {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("writing batch: %w", err)
			}
			batch.Reset()
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return count, fmt.Errorf("writing batch: %w", err)
		}
	}
	return count, nil
}

// Search runs a query string search such as "purity:sfw +colors:#000000".
func Search(idx bleve.Index, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		limit = 20
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	req.Fields = []string{"*"}

	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{Key: h.ID, Score: h.Score, Fields: h.Fields})
	}
	return hits, nil
}
