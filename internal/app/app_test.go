package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/animal-gallery/internal/config"
	"github.com/JakeFAU/animal-gallery/internal/crawler"
	"github.com/JakeFAU/animal-gallery/internal/report"
	"github.com/JakeFAU/animal-gallery/internal/storage/memory"
	"github.com/JakeFAU/animal-gallery/internal/wiki/wikitest"
)

func testConfig(t *testing.T, listingURL, output string) config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Source.ListingURL = listingURL
	cfg.Source.BaseURL = strings.TrimSuffix(listingURL, wikitest.ListingPath)
	cfg.Output.Location = output
	cfg.Crawler.Concurrency = 2
	cfg.Crawler.ChainTimeout = 5 * time.Second
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.HTTP.MaxRetries = 0
	cfg.Progress.MaxBatchWait = 10 * time.Millisecond
	return cfg
}

func TestAppRunWritesGallery(t *testing.T) {
	t.Parallel()

	site := wikitest.NewServer(t,
		wikitest.Animal{Name: "Lion", Classification: "leonine", Image: []byte("lion-bytes")},
		wikitest.Animal{Name: "Wolf", Classification: "lupine", Image: []byte("wolf-bytes")},
		wikitest.Animal{Name: "Okapi", Classification: "okapine"},
		wikitest.Animal{Name: "Tiger", Classification: "leonine", Image: []byte("x"), ImageStatus: http.StatusForbidden},
	)
	out := t.TempDir()
	metricsFile := filepath.Join(t.TempDir(), "gallery.prom")
	cfg := testConfig(t, site.ListingURL(), out)
	cfg.Progress.MetricsFile = metricsFile

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	summary, err := a.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.Equal(t, 4, summary.Records)
	assert.Equal(t, 1, summary.SkippedRows)
	assert.Equal(t, crawler.OutcomeCounts{Success: 2, NotFound: 1, FetchError: 1}, summary.Counts)
	assert.Equal(t, filepath.Join(out, "output.html"), summary.ReportPath)
	assert.Equal(t, filepath.Join(out, "outcomes.json"), summary.ManifestPath)

	lion, err := os.ReadFile(filepath.Join(out, "Lion.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "lion-bytes", string(lion))
	assert.FileExists(t, filepath.Join(out, "Wolf.jpg"))
	assert.NoFileExists(t, filepath.Join(out, "Tiger.jpg"))

	page, err := os.ReadFile(summary.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(page), "<h2>Leonine</h2>")
	assert.Contains(t, string(page), `<img src="Lion.jpg" alt="Lion">`)

	raw, err := os.ReadFile(summary.ManifestPath)
	require.NoError(t, err)
	var entries []report.ManifestEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 4)
	assert.Equal(t, "Lion", entries[0].Name)
	assert.Equal(t, "Tiger", entries[1].Name)
	assert.Equal(t, crawler.OutcomeFetchError, entries[1].Outcome)
	assert.Contains(t, entries[1].Error, "403")

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "gallery_chain_outcomes_total")
	assert.Equal(t, 1, site.Hits("/wiki/Okapi"))
}

func TestAppRunListingFetchFailure(t *testing.T) {
	t.Parallel()

	site := wikitest.NewServer(t, wikitest.Animal{Name: "Lion", Classification: "leonine"})
	site.ListingStatus = http.StatusInternalServerError
	store := memory.NewBlobStore()

	a, err := New(context.Background(), testConfig(t, site.ListingURL(), t.TempDir()), zap.NewNop(), WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrListingFetch)
	assert.Empty(t, store.Paths())
	assert.Zero(t, site.Hits("/wiki/Lion"))
}

func TestAppRunListingParseFailure(t *testing.T) {
	t.Parallel()

	fetcher := stubFetcher{body: []byte("<html><body><p>nothing here</p></body></html>")}
	store := memory.NewBlobStore()
	a, err := New(context.Background(), testConfig(t, "https://wiki.example.org/wiki/List_of_animal_names", t.TempDir()),
		zap.NewNop(), WithFetcher(fetcher), WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrListingParse)
	assert.Empty(t, store.Paths())
}

func TestAppRunCanceledStillWritesReport(t *testing.T) {
	t.Parallel()

	site := wikitest.NewServer(t,
		wikitest.Animal{Name: "Lion", Classification: "leonine", Image: []byte("lion")},
	)
	store := memory.NewBlobStore()
	cfg := testConfig(t, site.ListingURL(), t.TempDir())
	a, err := New(context.Background(), cfg, zap.NewNop(), WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	// The listing is fetched before cancellation, so route it through a
	// fetcher that cancels the run once the listing is in hand.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.fetcher = cancelAfterListing{Fetcher: a.fetcher, cancel: cancel}

	summary, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts.TimedOut)
	_, ok := store.Get("output.html")
	assert.True(t, ok)
	_, ok = store.Get("outcomes.json")
	assert.True(t, ok)
	assert.Zero(t, site.Hits("/wiki/Lion"))
}

func TestAppRegistersProgressMetrics(t *testing.T) {
	t.Parallel()

	site := wikitest.NewServer(t, wikitest.Animal{Name: "Wolf", Classification: "lupine", Image: []byte("w")})
	a, err := New(context.Background(), testConfig(t, site.ListingURL(), t.TempDir()), zap.NewNop(), WithStore(memory.NewBlobStore()))
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	count, err := testutil.GatherAndCount(a.Registry(), "gallery_batches_started_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type stubFetcher struct {
	body []byte
}

func (f stubFetcher) Fetch(_ context.Context, rawURL string) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{URL: rawURL, StatusCode: http.StatusOK, Body: f.body}, nil
}

type cancelAfterListing struct {
	crawler.Fetcher
	cancel context.CancelFunc
}

func (f cancelAfterListing) Fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	resp, err := f.Fetcher.Fetch(ctx, rawURL)
	f.cancel()
	return resp, err
}
