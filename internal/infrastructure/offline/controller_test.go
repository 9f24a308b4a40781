package offline_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/avatarctic/imitation-player/internal/core/domain/offline"
	"github.com/avatarctic/imitation-player/internal/core/ports"
	"github.com/avatarctic/imitation-player/internal/infrastructure/db"
	"github.com/avatarctic/imitation-player/internal/infrastructure/offline"
	"github.com/avatarctic/imitation-player/internal/infrastructure/repositories"
)

// origin is an in-memory origin server that can be switched offline.
type origin struct {
	mu     sync.Mutex
	files  map[string]string
	status map[string]int
	down   atomic.Bool
	hits   atomic.Int32
}

func newOrigin(files map[string]string) *origin {
	return &origin{files: files, status: map[string]int{}}
}

func (o *origin) set(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[path] = body
}

func (o *origin) RoundTrip(req *http.Request) (*http.Response, error) {
	if o.down.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	o.hits.Add(1)
	o.mu.Lock()
	body, ok := o.files[req.URL.Path]
	status := o.status[req.URL.Path]
	o.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
		if !ok {
			status = http.StatusNotFound
			body = "not found"
		}
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

var shell = []string{"/", "/index.html", "/js/app.js"}

func shellFiles() map[string]string {
	return map[string]string{
		"/":               "root",
		"/index.html":     "index v1",
		"/js/app.js":      "app v1",
		"/audio/s1/1.mp3": "audio bytes",
	}
}

type fixture struct {
	origin   *origin
	cache    ports.ResponseCache
	requests *prometheus.CounterVec
	base     *url.URL
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db.CacheMigrations))
	t.Cleanup(func() { _ = database.Close() })

	base, err := url.Parse("http://player.test")
	require.NoError(t, err)
	return &fixture{
		origin: newOrigin(shellFiles()),
		cache:  repositories.NewResponseCacheRepository(database),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_cache_requests_total",
		}, []string{"policy", "outcome"}),
		base: base,
	}
}

func (f *fixture) controller(generation string) *offline.Controller {
	logger, _ := logtest.NewNullLogger()
	return offline.NewController(offline.Config{
		Origin:       f.base,
		Generation:   generation,
		Shell:        shell,
		AudioMarker:  domain.DefaultAudioMarker,
		RootDocument: domain.DefaultRootDocument,
	}, f.cache, f.origin, logger, f.requests)
}

func (f *fixture) activated(t *testing.T, generation string) *offline.Controller {
	t.Helper()
	c := f.controller(generation)
	require.NoError(t, c.Install(context.Background()))
	require.NoError(t, c.Activate(context.Background()))
	return c
}

func get(t *testing.T, rt http.RoundTripper, target string, header http.Header) (*http.Response, string, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body), nil
}

func TestController_AudioFilledOnceThenServedOffline(t *testing.T) {
	f := newFixture(t)
	c := f.activated(t, "v2")

	_, body, err := get(t, c, "http://player.test/audio/s1/1.mp3", nil)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", body)

	f.origin.set("/audio/s1/1.mp3", "changed upstream")
	_, body, err = get(t, c, "http://player.test/audio/s1/1.mp3", nil)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", body, "cache-first must not refresh")

	f.origin.down.Store(true)
	resp, body, err := get(t, c, "http://player.test/audio/s1/1.mp3", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio bytes", body)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.requests.WithLabelValues("cache_first", "miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.requests.WithLabelValues("cache_first", "hit")))
}

func TestController_AudioMissOfflineFails(t *testing.T) {
	f := newFixture(t)
	c := f.activated(t, "v2")
	f.origin.down.Store(true)

	_, _, err := get(t, c, "http://player.test/audio/s1/2.mp3", nil)
	require.ErrorIs(t, err, domain.ErrNetwork)
}

func TestController_NetworkFirstRefreshesAndFallsBack(t *testing.T) {
	f := newFixture(t)
	c := f.activated(t, "v2")

	f.origin.set("/index.html", "index v2")
	_, body, err := get(t, c, "http://player.test/index.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "index v2", body)

	f.origin.down.Store(true)
	_, body, err = get(t, c, "http://player.test/index.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "index v2", body, "fallback serves the most recent copy")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.requests.WithLabelValues("network_first", "fallback")))
}

func TestController_NavigationFallsBackToRootDocument(t *testing.T) {
	f := newFixture(t)
	c := f.activated(t, "v2")
	f.origin.down.Store(true)

	_, body, err := get(t, c, "http://player.test/sets/42", http.Header{"Sec-Fetch-Mode": {"navigate"}})
	require.NoError(t, err)
	assert.Equal(t, "index v1", body)

	_, _, err = get(t, c, "http://player.test/sets/42", http.Header{"Accept": {"application/json"}})
	require.ErrorIs(t, err, domain.ErrNetwork)
}

func TestController_ErrorResponsesAreNotStored(t *testing.T) {
	f := newFixture(t)
	c := f.activated(t, "v2")
	ctx := context.Background()

	resp, _, err := get(t, c, "http://player.test/missing.json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.origin.status["/audio/s1/9.mp3"] = http.StatusInternalServerError
	resp, _, err = get(t, c, "http://player.test/audio/s1/9.mp3", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	for _, u := range []string{"http://player.test/missing.json", "http://player.test/audio/s1/9.mp3"} {
		e, err := f.cache.Match(ctx, "v2", u)
		require.NoError(t, err)
		assert.Nil(t, e, u)
	}
}

func TestController_RangeAndNonGetPassThrough(t *testing.T) {
	f := newFixture(t)
	c := f.activated(t, "v2")
	ctx := context.Background()

	_, _, err := get(t, c, "http://player.test/audio/s1/1.mp3", http.Header{"Range": {"bytes=0-99"}})
	require.NoError(t, err)
	e, err := f.cache.Match(ctx, "v2", "http://player.test/audio/s1/1.mp3")
	require.NoError(t, err)
	assert.Nil(t, e, "range responses are never stored")

	req, err := http.NewRequest(http.MethodPost, "http://player.test/index.html", strings.NewReader("x"))
	require.NoError(t, err)
	f.origin.down.Store(true)
	_, err = c.RoundTrip(req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.requests.WithLabelValues("passthrough", "passthrough")))
}

func TestController_InstallFailureKeepsPreviousGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activated(t, "v1")

	delete(f.origin.files, "/js/app.js")
	next := f.controller("v2")
	require.NoError(t, next.Restore(ctx))
	err := next.Install(ctx)
	require.ErrorIs(t, err, domain.ErrInstallFailed)
	require.ErrorIs(t, next.Activate(ctx), domain.ErrNotInstalled)

	gens, err := f.cache.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, gens, "failed install wrote nothing")
	assert.Equal(t, "v1", next.Generation())

	f.origin.down.Store(true)
	_, body, err := get(t, next, "http://player.test/js/app.js", nil)
	require.NoError(t, err)
	assert.Equal(t, "app v1", body)
}

func TestController_ActivationRemovesOldGenerations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activated(t, "v1")

	f.origin.set("/js/app.js", "app v2")
	next := f.controller("v2")
	require.NoError(t, next.Restore(ctx))
	require.NoError(t, next.Install(ctx))
	assert.Equal(t, "v1", next.Generation(), "installed generation waits for activation")

	require.NoError(t, next.Activate(ctx))
	assert.Equal(t, "v2", next.Generation())

	gens, err := f.cache.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, gens)
	active, err := f.cache.ActiveGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", active)

	f.origin.down.Store(true)
	_, body, err := get(t, next, "http://player.test/js/app.js", nil)
	require.NoError(t, err)
	assert.Equal(t, "app v2", body)
}

func TestController_RestoreResumesPersistedGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activated(t, "v1")

	restarted := f.controller("v1")
	assert.Equal(t, "", restarted.Generation())
	require.NoError(t, restarted.Restore(ctx))
	assert.Equal(t, "v1", restarted.Generation())

	f.origin.down.Store(true)
	_, body, err := get(t, restarted, "http://player.test/", nil)
	require.NoError(t, err)
	assert.Equal(t, "root", body)
}

func TestController_NothingStoredBeforeActivation(t *testing.T) {
	f := newFixture(t)
	c := f.controller("v1")

	_, body, err := get(t, c, "http://player.test/audio/s1/1.mp3", nil)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", body)

	gens, err := f.cache.Generations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gens)
}

func TestController_OriginPathPrefixesShellKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base, err := url.Parse("http://player.test/app/")
	require.NoError(t, err)
	f.base = base
	f.origin = newOrigin(map[string]string{
		"/app/":           "app root",
		"/app/index.html": "app index",
		"/app/js/app.js":  "app js",
		"/index.html":     "outside the app",
	})
	c := f.activated(t, "v1")

	for _, u := range []string{"http://player.test/app/", "http://player.test/app/index.html", "http://player.test/app/js/app.js"} {
		e, err := f.cache.Match(ctx, "v1", u)
		require.NoError(t, err)
		assert.NotNil(t, e, u)
	}
	e, err := f.cache.Match(ctx, "v1", "http://player.test/index.html")
	require.NoError(t, err)
	assert.Nil(t, e)

	f.origin.down.Store(true)
	_, body, err := get(t, c, "http://player.test/app/sets/42", http.Header{"Sec-Fetch-Mode": {"navigate"}})
	require.NoError(t, err)
	assert.Equal(t, "app index", body)
}
