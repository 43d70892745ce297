package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/capturesync/internal/db"
	"github.com/vbonduro/capturesync/internal/domain"
	"github.com/vbonduro/capturesync/internal/metrics"
	"github.com/vbonduro/capturesync/internal/notify"
	"github.com/vbonduro/capturesync/internal/objectstore"
	"github.com/vbonduro/capturesync/internal/store"
)

// stubObjectStore is a minimal in-memory objectstore.ObjectStore for tests.
type stubObjectStore struct {
	saved   map[string][]byte
	types   map[string]string
	puts    int
	putErr  error
	urlErr  error
	baseURL string
}

func newStubObjectStore() *stubObjectStore {
	return &stubObjectStore{
		saved:   make(map[string][]byte),
		types:   make(map[string]string),
		baseURL: "https://store",
	}
}

func (s *stubObjectStore) Put(_ context.Context, key string, r io.Reader, contentType string) (objectstore.ObjectRef, error) {
	s.puts++
	if s.putErr != nil {
		return objectstore.ObjectRef{}, s.putErr
	}
	data, _ := io.ReadAll(r)
	s.saved[key] = data
	s.types[key] = contentType
	return objectstore.ObjectRef{Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *stubObjectStore) DownloadURL(_ context.Context, ref objectstore.ObjectRef) (string, error) {
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return s.baseURL + "/" + ref.Key, nil
}

// fixedURLStore returns the same locator for every object.
type fixedURLStore struct {
	*stubObjectStore
	url string
}

func (s *fixedURLStore) DownloadURL(context.Context, objectstore.ObjectRef) (string, error) {
	return s.url, nil
}

type stubFetcher struct {
	content map[string][]byte
}

func (f *stubFetcher) Fetch(_ context.Context, uri string) (io.ReadCloser, error) {
	data, ok := f.content[uri]
	if !ok {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// stubDocs wraps a repository and can fail either call.
type stubDocs struct {
	documentRepository
	inserts   int
	insertErr error
	getErr    error
	missing   bool
}

func (d *stubDocs) Insert(ctx context.Context, collection string, doc any) (string, error) {
	d.inserts++
	if d.insertErr != nil {
		return "", d.insertErr
	}
	return d.documentRepository.Insert(ctx, collection, doc)
}

func (d *stubDocs) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if d.getErr != nil {
		return nil, d.getErr
	}
	if d.missing {
		return nil, nil
	}
	return d.documentRepository.Get(ctx, collection, id)
}

type sentPush struct {
	token string
	msg   notify.Message
}

// stubSender records pushes and echoes them back as foreground events when
// registrar is set.
type stubSender struct {
	sent      []sentPush
	err       error
	registrar *notify.Registrar
}

func (s *stubSender) Send(_ context.Context, token string, msg notify.Message) error {
	s.sent = append(s.sent, sentPush{token, msg})
	if s.err != nil {
		return s.err
	}
	if s.registrar != nil {
		s.registrar.Deliver(notify.Event{Title: msg.Title, Body: msg.Body})
	}
	return nil
}

type noTokens struct{}

func (noTokens) DeviceToken(context.Context) (string, error) { return "", nil }

type testEnv struct {
	svc       *SyncService
	docs      *stubDocs
	objects   *stubObjectStore
	fetcher   *stubFetcher
	sender    *stubSender
	registrar *notify.Registrar
	metrics   *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	env := &testEnv{
		docs:    &stubDocs{documentRepository: store.NewDocumentStore(d)},
		objects: newStubObjectStore(),
		fetcher: &stubFetcher{content: map[string][]byte{
			"file:///cache/photo.jpg": {0xFF, 0xD8, 0xFF},
			"file:///cache/photo.png": {0x89, 'P', 'N', 'G'},
		}},
		sender:  &stubSender{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	env.registrar = notify.NewRegistrar(noTokens{}, env.sender, "Record saved", env.metrics, slog.Default())
	env.svc = NewSyncService(env.docs, env.objects, env.fetcher, env.registrar, env.metrics, Options{
		Identity:  domain.Identity{First: "A", Last: "B", Born: 1990},
		Namespace: "test-app",
	}, slog.Default())
	return env
}

func (e *testEnv) persisted(t *testing.T, id string) map[string]any {
	t.Helper()
	body, err := e.docs.documentRepository.Get(context.Background(), UsersCollection, id)
	require.NoError(t, err)
	require.NotNil(t, body)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	return doc
}

func TestSyncRecordIdentityOnly(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.svc.SyncRecord(context.Background(), domain.CaptureState{}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, map[string]any{"first": "A", "last": "B", "born": 1990.0}, env.persisted(t, id))
	assert.Zero(t, env.objects.puts)
	assert.Empty(t, env.sender.sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Notifications.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SyncAttempts.WithLabelValues("ok")))
}

func TestSyncRecordEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	objects := &fixedURLStore{stubObjectStore: env.objects, url: "https://store/img1"}
	env.svc.objects = objects

	state := domain.CaptureState{
		Image:       domain.NewCapturedImage("file:///cache/photo.jpg"),
		Coordinates: &domain.GeoCoordinates{Latitude: 1.0, Longitude: 2.0},
	}

	id, err := env.svc.SyncRecord(context.Background(), state, "tok123")
	require.NoError(t, err)

	want := map[string]any{
		"first":        "A",
		"last":         "B",
		"born":         1990.0,
		"imageLocator": "https://store/img1",
		"latitude":     1.0,
		"longitude":    2.0,
	}
	assert.Equal(t, want, env.persisted(t, id))

	require.Len(t, env.sender.sent, 1)
	assert.Equal(t, "tok123", env.sender.sent[0].token)
	payload, ok := env.sender.sent[0].msg.Data.(*domain.CaptureRecord)
	require.True(t, ok)
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"first":"A","last":"B","born":1990,"imageLocator":"https://store/img1","latitude":1,"longitude":2}`, string(data))

	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, env.objects.saved["test-app/newImage.jpg"])
	assert.Equal(t, "image/jpeg", env.objects.types["test-app/newImage.jpg"])
	assert.Equal(t, 3.0, testutil.ToFloat64(env.metrics.UploadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Notifications.WithLabelValues("sent")))
}

func TestSyncRecordUploadKeyIsFixed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := domain.CaptureState{Image: domain.NewCapturedImage("file:///cache/photo.png")}

	first, err := env.svc.SyncRecord(ctx, state, "")
	require.NoError(t, err)
	second, err := env.svc.SyncRecord(ctx, state, "")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Len(t, env.objects.saved, 1)
	assert.Equal(t, "image/png", env.objects.types["test-app/newImage.png"])
	assert.Equal(t, "https://store/test-app/newImage.png", env.persisted(t, second)["imageLocator"])
}

func TestSyncRecordCoordinatesOnly(t *testing.T) {
	env := newTestEnv(t)
	state := domain.CaptureState{Coordinates: &domain.GeoCoordinates{Latitude: -33.9, Longitude: 151.2}}

	id, err := env.svc.SyncRecord(context.Background(), state, "")
	require.NoError(t, err)

	doc := env.persisted(t, id)
	assert.Equal(t, -33.9, doc["latitude"])
	assert.Equal(t, 151.2, doc["longitude"])
	assert.NotContains(t, doc, "imageLocator")
}

func TestSyncRecordUploadFailedSkipsWrite(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv)
		uri   string
	}{
		{name: "put fails", setup: func(env *testEnv) { env.objects.putErr = errors.New("bucket unreachable") }, uri: "file:///cache/photo.jpg"},
		{name: "download url fails", setup: func(env *testEnv) { env.objects.urlErr = errors.New("forbidden") }, uri: "file:///cache/photo.jpg"},
		{name: "content unreadable", setup: func(env *testEnv) {}, uri: "file:///cache/gone.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env)
			state := domain.CaptureState{
				Image:       domain.NewCapturedImage(tt.uri),
				Coordinates: &domain.GeoCoordinates{Latitude: 1, Longitude: 2},
			}

			id, err := env.svc.SyncRecord(context.Background(), state, "tok123")
			assert.Empty(t, id)
			assert.ErrorIs(t, err, domain.ErrUploadFailed)
			assert.Zero(t, env.docs.inserts)
			assert.Empty(t, env.sender.sent)
			assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SyncAttempts.WithLabelValues("upload_failed")))
		})
	}
}

func TestSyncRecordWriteFailed(t *testing.T) {
	env := newTestEnv(t)
	env.docs.insertErr = errors.New("disk full")

	_, err := env.svc.SyncRecord(context.Background(), domain.CaptureState{}, "tok123")
	assert.ErrorIs(t, err, domain.ErrWriteFailed)
	assert.True(t, strings.Contains(err.Error(), "disk full"))
	assert.Empty(t, env.sender.sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SyncAttempts.WithLabelValues("write_failed")))
}

func TestSyncRecordNoTokenSkipsNotification(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.svc.SyncRecord(context.Background(), domain.CaptureState{}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Empty(t, env.sender.sent)
	assert.Zero(t, env.registrar.ListenerCount())
}

func TestSyncRecordUnconfirmedReadBackSkipsNotification(t *testing.T) {
	t.Run("document missing", func(t *testing.T) {
		env := newTestEnv(t)
		env.docs.missing = true

		_, err := env.svc.SyncRecord(context.Background(), domain.CaptureState{}, "tok123")
		require.NoError(t, err)
		assert.Empty(t, env.sender.sent)
	})

	t.Run("read fails", func(t *testing.T) {
		env := newTestEnv(t)
		env.docs.getErr = errors.New("timeout")

		_, err := env.svc.SyncRecord(context.Background(), domain.CaptureState{}, "tok123")
		require.NoError(t, err)
		assert.Empty(t, env.sender.sent)
	})
}

func TestSyncRecordNotificationFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	env.sender.err = errors.New("push service down")

	id, err := env.svc.SyncRecord(context.Background(), domain.CaptureState{}, "tok123")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Len(t, env.sender.sent, 1)
	assert.Zero(t, env.registrar.ListenerCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Notifications.WithLabelValues("failed")))
}

func TestSyncRecordForegroundListenerReleased(t *testing.T) {
	env := newTestEnv(t)
	env.sender.registrar = env.registrar
	env.svc.opts.ForegroundWindow = time.Second

	received := 0
	unsub := env.registrar.Subscribe(func(notify.Event) { received++ })
	defer unsub()

	start := time.Now()
	_, err := env.svc.SyncRecord(context.Background(), domain.CaptureState{}, "tok123")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, received)
	assert.Equal(t, 1, env.registrar.ListenerCount())
}

func TestSyncRecordForegroundWindowExpires(t *testing.T) {
	env := newTestEnv(t)
	env.svc.opts.ForegroundWindow = 10 * time.Millisecond

	_, err := env.svc.SyncRecord(context.Background(), domain.CaptureState{}, "tok123")
	require.NoError(t, err)
	assert.Zero(t, env.registrar.ListenerCount())
}

func TestUploadKey(t *testing.T) {
	assert.Equal(t, "test-app/newImage.jpg", UploadKey("test-app", "jpg"))
}
