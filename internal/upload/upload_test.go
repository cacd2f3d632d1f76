package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagwatch/tagwatch/internal/tempcache"
	"github.com/tagwatch/tagwatch/internal/types"
)

type fakeSink struct {
	mu        sync.Mutex
	batches   [][]types.Verdict
	urls      map[string]string
	failFirst int // first N InsertBatch calls fail
	calls     int
}

func (f *fakeSink) InsertBatch(_ context.Context, _ string, verdicts []types.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return errors.New("connection reset by peer")
	}
	cp := make([]types.Verdict, len(verdicts))
	copy(cp, verdicts)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) SetScreenshotURL(_ context.Context, _, propertyID string, _ types.Phase, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.urls == nil {
		f.urls = make(map[string]string)
	}
	f.urls[propertyID] = url
	return nil
}

type fakeObjectStore struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	uploaded []string
	err      error
}

func (f *fakeObjectStore) PutScreenshot(_ context.Context, shot types.Screenshot) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	if f.err == nil {
		f.uploaded = append(f.uploaded, shot.PropertyID)
	}
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "https://bucket/" + shot.RunID + "/" + shot.PropertyID + ".jpg", nil
}

func entryWithID(id string) tempcache.Entry {
	return tempcache.Entry{
		Verdict: types.Verdict{PropertyID: id, Phase: types.Phase1, Status: types.VerdictPassed},
	}
}

func uuidEntries(n int) []tempcache.Entry {
	entries := make([]tempcache.Entry, n)
	for i := range entries {
		entries[i] = entryWithID(uuid.NewString())
	}
	return entries
}

func TestUploadChunksOf50(t *testing.T) {
	sink := &fakeSink{}
	u := New(sink, nil, nil)

	stats := u.Upload(context.Background(), "run-1", uuidEntries(120))

	assert.Equal(t, 120, stats.SuccessCount)
	assert.Equal(t, 0, stats.FailedCount)
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 50)
	assert.Len(t, sink.batches[1], 50)
	assert.Len(t, sink.batches[2], 20)
}

func TestUploadRetriesChunkThenSucceeds(t *testing.T) {
	old := chunkBackoffBase
	chunkBackoffBase = time.Millisecond
	defer func() { chunkBackoffBase = old }()

	sink := &fakeSink{failFirst: 2}
	u := New(sink, nil, nil)

	stats := u.Upload(context.Background(), "run-1", uuidEntries(10))

	assert.Equal(t, 10, stats.SuccessCount)
	assert.Equal(t, 3, sink.calls, "two failures then one success")
}

func TestUploadRecordsFailedChunkAndContinues(t *testing.T) {
	old := chunkBackoffBase
	chunkBackoffBase = time.Millisecond
	defer func() { chunkBackoffBase = old }()

	// First chunk exhausts all 3 attempts; second chunk succeeds.
	sink := &fakeSink{failFirst: 3}
	u := New(sink, nil, nil)

	stats := u.Upload(context.Background(), "run-1", uuidEntries(60))

	assert.Equal(t, 10, stats.SuccessCount)
	assert.Equal(t, 50, stats.FailedCount)
	require.Len(t, sink.batches, 1)
}

func TestUploadDropsMalformedPropertyIDs(t *testing.T) {
	sink := &fakeSink{}
	u := New(sink, nil, nil)

	entries := []tempcache.Entry{
		entryWithID(uuid.NewString()),
		entryWithID("my-property-slug"),
		entryWithID(uuid.NewString()),
	}
	stats := u.Upload(context.Background(), "run-1", entries)

	assert.Equal(t, 2, stats.SuccessCount)
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
}

func TestScreenshotUploadBoundedConcurrencyAndURLLinkback(t *testing.T) {
	sink := &fakeSink{}
	obj := &fakeObjectStore{}
	u := New(sink, obj, nil)

	entries := uuidEntries(12)
	for i := range entries {
		entries[i].Screenshot = &types.Screenshot{
			PropertyID: entries[i].Verdict.PropertyID,
			RunID:      "run-1",
			Bytes:      []byte{0xff, 0xd8},
			MIME:       "image/jpeg",
		}
	}
	u.Upload(context.Background(), "run-1", entries)

	assert.LessOrEqual(t, obj.peak, 5, "screenshot concurrency must stay at 5")
	assert.Len(t, obj.uploaded, 12)
	assert.Len(t, sink.urls, 12)
	for id, url := range sink.urls {
		assert.Contains(t, url, id)
	}
}

func TestScreenshotFailureDoesNotFailVerdicts(t *testing.T) {
	old := chunkBackoffBase
	chunkBackoffBase = time.Millisecond
	defer func() { chunkBackoffBase = old }()

	sink := &fakeSink{}
	obj := &fakeObjectStore{err: fmt.Errorf("bucket unavailable")}
	u := New(sink, obj, nil)

	entries := uuidEntries(3)
	for i := range entries {
		entries[i].Screenshot = &types.Screenshot{
			PropertyID: entries[i].Verdict.PropertyID,
			RunID:      "run-1",
		}
	}
	stats := u.Upload(context.Background(), "run-1", entries)

	assert.Equal(t, 3, stats.SuccessCount)
	assert.Empty(t, sink.urls)
}
