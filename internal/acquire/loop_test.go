package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go-wallhaven-download/internal/api"
	"go-wallhaven-download/internal/database"
	"go-wallhaven-download/internal/downloader"
	"go-wallhaven-download/internal/models"
	"go-wallhaven-download/internal/placement"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// endlessCatalog returns perPage distinct wallpapers on every page.
type endlessCatalog struct {
	perPage  int
	lastPage int
	pages    []int
}

func (c *endlessCatalog) Search(_ context.Context, p models.SearchParams) (models.SearchResponse, error) {
	c.pages = append(c.pages, p.Page)
	data := make([]models.Wallpaper, 0, c.perPage)
	for i := 0; i < c.perPage; i++ {
		purity := models.PuritySFW
		if i%3 == 0 {
			purity = models.PurityNSFW
		}
		data = append(data, models.Wallpaper{
			ID:         fmt.Sprintf("p%02di%02d", p.Page, i),
			Purity:     purity,
			Resolution: "1920x1080",
			FileType:   "image/png",
		})
	}
	return models.SearchResponse{
		Data: data,
		Meta: models.Meta{CurrentPage: p.Page, LastPage: c.lastPage, Total: c.perPage * c.lastPage},
	}, nil
}

type scriptedCatalog struct {
	responses []error
	calls     int
}

func (c *scriptedCatalog) Search(_ context.Context, p models.SearchParams) (models.SearchResponse, error) {
	c.calls++
	if c.calls <= len(c.responses) && c.responses[c.calls-1] != nil {
		return models.SearchResponse{}, c.responses[c.calls-1]
	}
	return models.SearchResponse{
		Data: []models.Wallpaper{{ID: fmt.Sprintf("ok%d", p.Page), Purity: models.PuritySFW, Resolution: "1x1", FileType: "image/png"}},
		Meta: models.Meta{CurrentPage: p.Page, LastPage: 1, Total: 1},
	}, nil
}

// acceptAll accepts everything except ids listed in fail or seen.
type acceptAll struct {
	seen map[string]bool
	fail map[string]bool
	ids  []string
}

func (a *acceptAll) Consider(_ context.Context, item models.Wallpaper, _ string) (placement.Outcome, error) {
	a.ids = append(a.ids, item.ID)
	if a.fail[item.ID] {
		return placement.Outcome{}, fmt.Errorf("%w: boom", placement.ErrItem)
	}
	if a.seen[item.ID] {
		return placement.Outcome{Kind: placement.AlreadyRecorded}, nil
	}
	return placement.Outcome{Kind: placement.Accepted}, nil
}

type recordingProgress struct {
	mu      sync.Mutex
	updates []int
}

func (p *recordingProgress) Update(accepted, _ int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, accepted)
}

func TestRun_StopsAtTarget(t *testing.T) {
	catalog := &endlessCatalog{perPage: 4, lastPage: 100}
	placer := &acceptAll{}
	progress := &recordingProgress{}

	sum, err := NewLoop(catalog, placer).Run(context.Background(), Options{Target: 10, Progress: progress})
	require.NoError(t, err)

	assert.Equal(t, 10, sum.Accepted)
	assert.Equal(t, 10, sum.SFW+sum.NSFW)
	assert.Equal(t, []int{1, 2, 3}, catalog.pages)
	assert.Len(t, placer.ids, 10, "No item past the target is evaluated")
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, progress.updates)
}

func TestRun_DefaultTarget(t *testing.T) {
	sum, err := NewLoop(&endlessCatalog{perPage: 24, lastPage: 5}, &acceptAll{}).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTarget, sum.Accepted)
}

func TestRun_PaginationExhaustion(t *testing.T) {
	catalog := &endlessCatalog{perPage: 3, lastPage: 2}
	var firstMeta models.Meta

	sum, err := NewLoop(catalog, &acceptAll{}).Run(context.Background(), Options{
		Target:      50,
		OnFirstPage: func(m models.Meta) { firstMeta = m },
	})
	require.NoError(t, err)

	assert.Equal(t, 6, sum.Accepted)
	assert.Equal(t, []int{1, 2}, catalog.pages)
	assert.Equal(t, 2, sum.Page)
	assert.Equal(t, 2, sum.LastPage)
	assert.Equal(t, 2, firstMeta.LastPage)
	assert.Equal(t, "Sfw: 4 --- Nsfw: 2 --- reached: 2/2", sum.String())
}

func TestRun_PagesWithoutNewItemsStillAdvance(t *testing.T) {
	catalog := &endlessCatalog{perPage: 2, lastPage: 3}
	placer := &acceptAll{seen: map[string]bool{"p01i00": true, "p01i01": true}}

	sum, err := NewLoop(catalog, placer).Run(context.Background(), Options{Target: 3})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.AlreadyRecorded)
	assert.Equal(t, 3, sum.Accepted)
	assert.Equal(t, []int{1, 2, 3}, catalog.pages)
}

func TestRun_ItemFailuresAreCountedAndSkipped(t *testing.T) {
	catalog := &endlessCatalog{perPage: 3, lastPage: 1}
	placer := &acceptAll{fail: map[string]bool{"p01i01": true}}

	sum, err := NewLoop(catalog, placer).Run(context.Background(), Options{Target: 10})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Accepted)
	assert.Equal(t, []string{"p01i00", "p01i01", "p01i02"}, placer.ids, "Items are evaluated in page order")
}

func TestRun_MaxPages(t *testing.T) {
	catalog := &endlessCatalog{perPage: 1, lastPage: 10}
	sum, err := NewLoop(catalog, &acceptAll{}).Run(context.Background(), Options{Target: 10, MaxPages: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, catalog.pages)
	assert.Equal(t, 2, sum.Accepted)
}

func TestRun_PageFailureIsTerminal(t *testing.T) {
	catalog := &scriptedCatalog{responses: []error{fmt.Errorf("%w: bad json", api.ErrMalformedResponse)}}

	sum, err := NewLoop(catalog, &acceptAll{}).Run(context.Background(), Options{MaxRetries: 3})
	assert.ErrorIs(t, err, api.ErrMalformedResponse)
	assert.Equal(t, 1, catalog.calls, "Malformed responses are not retried")
	assert.Equal(t, 0, sum.Accepted)
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	catalog := &scriptedCatalog{responses: []error{
		fmt.Errorf("%w: %w", api.ErrHttpStatus, api.ErrRateLimited),
		fmt.Errorf("%w: reset", api.ErrTransport),
	}}

	sum, err := NewLoop(catalog, &acceptAll{}).Run(context.Background(), Options{MaxRetries: 2, InitialRetryDelay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, catalog.calls)
	assert.Equal(t, 1, sum.Accepted)
}

func TestRun_RetriesAreBounded(t *testing.T) {
	serverErr := fmt.Errorf("%w: %w", api.ErrHttpStatus, api.ErrServerError)
	catalog := &scriptedCatalog{responses: []error{serverErr, serverErr, serverErr, serverErr}}

	_, err := NewLoop(catalog, &acceptAll{}).Run(context.Background(), Options{MaxRetries: 2, InitialRetryDelay: time.Millisecond})
	assert.ErrorIs(t, err, api.ErrServerError)
	assert.Equal(t, 3, catalog.calls)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoop(&endlessCatalog{perPage: 1, lastPage: 1}, &acceptAll{}).Run(ctx, Options{})
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRun_EndToEnd wires the real client, engine, store and downloader
// against httptest servers.
func TestRun_EndToEnd(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nwallpaper")
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	defer images.Close()

	var imageURL = func(id string) string { return images.URL + "/full/" + id + ".png" }
	pages := map[string]string{
		"1": fmt.Sprintf(`{"data":[
			{"id":"aaa111","purity":"sfw","resolution":"1920x1080","file_type":"image/png","path":%q,"thumbs":{"large":"l","original":"o","small":"s"}},
			{"id":"bbb222","purity":"nsfw","resolution":"1920x1080","file_type":"image/png","path":%q}
		],"meta":{"current_page":1,"last_page":2,"per_page":"2","total":3}}`, imageURL("aaa111"), imageURL("bbb222")),
		"2": fmt.Sprintf(`{"data":[
			{"id":"ccc333","purity":"sketchy","resolution":"2560x1440","file_type":"image/png","path":%q}
		],"meta":{"current_page":2,"last_page":2,"per_page":2,"total":3}}`, imageURL("ccc333")),
	}
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(pages[r.URL.Query().Get("page")]))
	}))
	defer apiServer.Close()

	db, err := database.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	root := t.TempDir()
	client := api.NewClient("key", apiServer.Client(), models.Config{APIBaseURL: apiServer.URL})
	engine := placement.NewEngine(db, downloader.NewDownloader(images.Client(), ""), false)
	loop := NewLoop(client, engine)

	sum, err := loop.Run(context.Background(), Options{Root: root, Target: 10, Params: models.SearchParams{Purity: "111", Categories: "111"}})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Accepted)
	assert.Equal(t, 1, sum.SFW)
	assert.Equal(t, 2, sum.NSFW)
	assert.Equal(t, 3, db.Len())
	assert.FileExists(t, filepath.Join(root, "wallhaven-aaa111-1920x1080.png"))
	assert.FileExists(t, filepath.Join(root, "nsfw", "wallhaven-bbb222-1920x1080.png"))
	assert.FileExists(t, filepath.Join(root, "nsfw", "wallhaven-ccc333-2560x1440.png"))

	// A second run finds everything in the store.
	sum, err = loop.Run(context.Background(), Options{Root: root, Target: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Accepted)
	assert.Equal(t, 3, sum.AlreadyRecorded)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "root holds one wallpaper and the nsfw folder")
}
