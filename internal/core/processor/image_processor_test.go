package processor

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"facestore/config"
	"facestore/internal/db"
	"facestore/internal/db/repository"
	"facestore/internal/identity"
	"facestore/internal/integrations/facerecognition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCodec liefert für jedes Bild das Embedding, das unter seiner Breite hinterlegt ist
type fakeCodec struct {
	byWidth map[int][]float32
	err     error
}

func (f *fakeCodec) Name() string                     { return "fake" }
func (f *fakeCodec) IsAvailable(context.Context) bool { return f.err == nil }

func (f *fakeCodec) Encode(_ context.Context, img image.Image) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	emb, ok := f.byWidth[img.Bounds().Dx()]
	if !ok {
		return nil, facerecognition.NewCodecError(facerecognition.ReasonNoFace, nil)
	}
	return emb, nil
}

type published struct {
	topic   string
	payload interface{}
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (f *fakePublisher) Topic(suffix string) string { return "facestore/" + suffix }

func (f *fakePublisher) Publish(topic string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic, payload})
	return f.err
}

func imageOfWidth(w int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, 2))
}

type fixture struct {
	store     *identity.Store
	processor *ImageProcessor
	publisher *fakePublisher
	imageDir  string
}

func newFixture(t *testing.T, codec facerecognition.Codec, saveImages bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(config.DBConfig{File: filepath.Join(dir, "facestore.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })

	store, err := identity.NewStore(context.Background(), repository.NewSQLiteRepository(database), identity.Options{})
	require.NoError(t, err)

	imageDir := filepath.Join(dir, "known_faces")
	pub := &fakePublisher{}
	p := NewImageProcessor(store, codec, identity.NewImageStore(imageDir), pub,
		ProcessingOptions{Threshold: 0.6, SaveImages: saveImages})
	return &fixture{store: store, processor: p, publisher: pub, imageDir: imageDir}
}

func aliceBobCodec() *fakeCodec {
	return &fakeCodec{byWidth: map[int][]float32{
		1: {1, 0, 0},
		2: {0, 1, 0},
		3: {0.9, 0.1, 0},
		4: {0, 0, 1},
	}}
}

func TestEnrollAndRecognize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, aliceBobCodec(), false)

	alice, err := f.processor.EnrollImage(ctx, "Alice", imageOfWidth(1))
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.Name)
	assert.Nil(t, alice.ImagePath)

	_, err = f.processor.EnrollImage(ctx, "Bob", imageOfWidth(2))
	require.NoError(t, err)

	result, err := f.processor.Recognize(ctx, imageOfWidth(3))
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, alice.PersonID, result.Match.PersonID)
	assert.InDelta(t, 0.994, result.Match.Score, 1e-3)

	result, err = f.processor.Recognize(ctx, imageOfWidth(4))
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Nil(t, result.Match)

	require.Len(t, f.publisher.messages, 2)
	assert.Equal(t, "facestore/match", f.publisher.messages[0].topic)
	event := f.publisher.messages[0].payload.(MatchEvent)
	assert.Equal(t, "Alice", event.Name)
	assert.Equal(t, "facestore/unknown", f.publisher.messages[1].topic)
}

func TestEnrollSavesImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, aliceBobCodec(), true)

	res, err := f.processor.EnrollImage(ctx, "José Müller", imageOfWidth(1))
	require.NoError(t, err)
	require.NotNil(t, res.ImagePath)
	assert.Equal(t, filepath.Join(f.imageDir, "Jose_Muller"), filepath.Dir(*res.ImagePath))
	_, err = os.Stat(*res.ImagePath)
	assert.NoError(t, err)

	faces, err := f.store.GetPersonFaces(ctx, res.PersonID)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	require.NotNil(t, faces[0].ImagePath)
	assert.Equal(t, *res.ImagePath, *faces[0].ImagePath)
}

func TestEnrollCodecFailureCreatesNoPerson(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, aliceBobCodec(), false)

	_, err := f.processor.EnrollImage(ctx, "Nobody", imageOfWidth(9))
	require.Error(t, err)
	assert.ErrorIs(t, err, facerecognition.ErrCodec)

	persons, err := f.store.ListPersons(ctx)
	require.NoError(t, err)
	assert.Empty(t, persons)
}

func TestAddImageSample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, aliceBobCodec(), false)

	res, err := f.processor.EnrollImage(ctx, "Alice", imageOfWidth(1))
	require.NoError(t, err)

	sample, err := f.processor.AddImageSample(ctx, res.PersonID, imageOfWidth(3))
	require.NoError(t, err)
	assert.Equal(t, res.PersonID, sample.PersonID)
	assert.NotEqual(t, res.FaceID, sample.FaceID)

	_, err = f.processor.AddImageSample(ctx, 42, imageOfWidth(1))
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestAddImageSampleDimensionMismatchRemovesImage(t *testing.T) {
	ctx := context.Background()
	codec := aliceBobCodec()
	codec.byWidth[5] = []float32{1, 0}
	f := newFixture(t, codec, true)

	res, err := f.processor.EnrollImage(ctx, "Alice", imageOfWidth(1))
	require.NoError(t, err)

	_, err = f.processor.AddImageSample(ctx, res.PersonID, imageOfWidth(5))
	assert.ErrorIs(t, err, identity.ErrInvalidEmbedding)

	entries, err := os.ReadDir(filepath.Join(f.imageDir, "Alice"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecognizeWithoutCodec(t *testing.T) {
	f := newFixture(t, nil, false)
	_, err := f.processor.Recognize(context.Background(), imageOfWidth(1))
	assert.ErrorIs(t, err, facerecognition.ErrCodec)

	var ce *facerecognition.CodecError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, facerecognition.ReasonUnavailable, ce.Reason)
}

func TestRecognizeWrapsForeignCodecErrors(t *testing.T) {
	f := newFixture(t, &fakeCodec{err: errors.New("connection refused")}, false)
	_, err := f.processor.Recognize(context.Background(), imageOfWidth(1))
	assert.ErrorIs(t, err, facerecognition.ErrCodec)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMatchRejectsThresholdOutOfRange(t *testing.T) {
	f := newFixture(t, aliceBobCodec(), false)
	for _, threshold := range []float64{-0.1, 1.5} {
		_, err := f.processor.Match(context.Background(), []float32{1, 0, 0}, threshold, time.Now())
		assert.ErrorIs(t, err, identity.ErrInvalidThreshold)
	}
	assert.Empty(t, f.publisher.messages)
}

func TestPublishErrorDoesNotFailRecognition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, aliceBobCodec(), false)
	f.publisher.err = errors.New("not connected")

	_, err := f.processor.EnrollImage(ctx, "Alice", imageOfWidth(1))
	require.NoError(t, err)

	result, err := f.processor.Recognize(ctx, imageOfWidth(1))
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, 1.0, result.Match.Score)
}

func TestEnrollDimensionMismatchCreatesNoPerson(t *testing.T) {
	ctx := context.Background()
	codec := aliceBobCodec()
	codec.byWidth[5] = []float32{1, 0}
	f := newFixture(t, codec, true)

	_, err := f.processor.EnrollImage(ctx, "Alice", imageOfWidth(1))
	require.NoError(t, err)

	_, err = f.processor.EnrollImage(ctx, "Carol", imageOfWidth(5))
	require.ErrorIs(t, err, identity.ErrInvalidEmbedding)

	persons, err := f.store.ListPersons(ctx)
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, "Alice", persons[0].Name)

	_, err = os.Stat(filepath.Join(f.imageDir, "Carol"))
	assert.True(t, os.IsNotExist(err))
}

func TestEnrollRollsBackWhenAnotherHandleFixedDimension(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "facestore.db")

	open := func() *identity.Store {
		database, err := db.Open(config.DBConfig{File: dbPath})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close(database) })
		store, err := identity.NewStore(ctx, repository.NewSQLiteRepository(database), identity.Options{})
		require.NoError(t, err)
		return store
	}
	stale := open()
	other := open()

	_, _, err := other.EnrollWithSample(ctx, "Alice", []float32{1, 0, 0}, nil)
	require.NoError(t, err)

	codec := &fakeCodec{byWidth: map[int][]float32{5: {1, 0}}}
	imageDir := filepath.Join(dir, "known_faces")
	p := NewImageProcessor(stale, codec, identity.NewImageStore(imageDir), nil,
		ProcessingOptions{Threshold: 0.6, SaveImages: true})

	_, err = p.EnrollImage(ctx, "Carol", imageOfWidth(5))
	require.ErrorIs(t, err, identity.ErrInvalidEmbedding)

	persons, err := other.ListPersons(ctx)
	require.NoError(t, err)
	require.Len(t, persons, 1)

	entries, err := os.ReadDir(filepath.Join(imageDir, "Carol"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnrollBlankNameSkipsCodec(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, nil, false)
	_, err := f.processor.EnrollImage(ctx, "   ", imageOfWidth(1))
	assert.ErrorIs(t, err, identity.ErrInvalidName)
	assert.NotErrorIs(t, err, facerecognition.ErrCodec)

	failing := newFixture(t, &fakeCodec{err: errors.New("must not be called")}, false)
	_, err = failing.processor.EnrollImage(ctx, "", imageOfWidth(1))
	assert.ErrorIs(t, err, identity.ErrInvalidName)
}
