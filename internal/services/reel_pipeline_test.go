package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/reelworks/sportsreel-backend/internal/config"
	"github.com/reelworks/sportsreel-backend/internal/types"
)

// validScript returns a narration of roughly the expected word count for a
// 30 second reel at the default reading pace.
func validScript() string {
	sentence := "The champion rises again with power and grace on the biggest stage. "
	return strings.TrimSpace(strings.Repeat(sentence, 6))
}

type fakeScriptProvider struct {
	mu      sync.Mutex
	calls   int
	scripts []string // returned in order; last one repeats
	err     error
}

func (f *fakeScriptProvider) GenerateScript(ctx context.Context, req GenerationRequest) (*ScriptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	f.calls++
	if idx >= len(f.scripts) {
		idx = len(f.scripts) - 1
	}
	return &ScriptResult{
		Text:        f.scripts[idx],
		Title:       "Test Reel",
		Description: "A test reel.",
		Hashtags:    []string{"test", "sports"},
		TokensUsed:  42,
	}, nil
}

func (f *fakeScriptProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSpeechService struct {
	mu     sync.Mutex
	chunks []string
	err    error
}

func (f *fakeSpeechService) Synthesize(ctx context.Context, text string, voice string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.chunks = append(f.chunks, text)
	return []byte(fmt.Sprintf("<%03d:%s>", len(f.chunks), text[:min(8, len(text))])), nil
}

func (f *fakeSpeechService) MaxCharsPerCall() int { return 0 }
func (f *fakeSpeechService) Close() error         { return nil }

type fakeComposer struct {
	mu        sync.Mutex
	lastInput ComposeInput
}

func (f *fakeComposer) AssertReady(ctx context.Context) error { return nil }

func (f *fakeComposer) DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func (f *fakeComposer) NormalizeImage(src image.Image, width, height int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

func (f *fakeComposer) GeneratePlaceholderImage(name string, sport string, width, height int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

func (f *fakeComposer) ComposeVideo(ctx context.Context, in ComposeInput) (*ComposeResult, error) {
	f.mu.Lock()
	f.lastInput = in
	f.mu.Unlock()
	return &ComposeResult{
		VideoBytes: []byte("mp4-bytes"),
		Metadata:   VideoMetadata{Width: in.Width, Height: in.Height, DurationSec: in.DurationSeconds},
	}, nil
}

func (f *fakeComposer) RenderThumbnail(img image.Image, title string, width, height int) ([]byte, error) {
	return []byte("png-bytes"), nil
}

func (f *fakeComposer) composeInput() ComposeInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInput
}

type fakeBucket struct {
	mu      sync.Mutex
	uploads []UploadOptions
}

func (f *fakeBucket) Upload(ctx context.Context, data []byte, opts UploadOptions) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, opts)
	key := opts.Folder + "/" + opts.Filename
	return key, "https://cdn.test/" + key, nil
}

func (f *fakeBucket) Download(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (f *fakeBucket) Delete(ctx context.Context, key string) error             { return nil }
func (f *fakeBucket) Exists(ctx context.Context, key string) (bool, error)     { return false, nil }
func (f *fakeBucket) GetPublicURL(key string) string                           { return "https://cdn.test/" + key }

type pipelineFixture struct {
	pipeline ReelPipeline
	store    *memJobStore
	scripts  *fakeScriptProvider
	speech   *fakeSpeechService
	composer *fakeComposer
	bucket   *fakeBucket
	jobID    uuid.UUID
}

func newPipelineFixture(t *testing.T, cfg *config.Config, scripts *fakeScriptProvider) *pipelineFixture {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	store := newMemJobStore()
	speech := &fakeSpeechService{}
	composer := &fakeComposer{}
	bucket := &fakeBucket{}

	jobID := uuid.New()
	store.Create(context.Background(), nil, []*types.VideoJob{
		{ID: jobID, AthleteID: uuid.New(), Status: types.VideoJobStatusProcessing},
	})

	p, err := NewReelPipeline(mustTestLogger(t), cfg, store, scripts, speech, composer, bucket)
	if err != nil {
		t.Fatalf("NewReelPipeline: %v", err)
	}
	return &pipelineFixture{
		pipeline: p,
		store:    store,
		scripts:  scripts,
		speech:   speech,
		composer: composer,
		bucket:   bucket,
		jobID:    jobID,
	}
}

func TestPipelineHappyPathProgressAndArtifacts(t *testing.T) {
	fx := newPipelineFixture(t, nil, &fakeScriptProvider{scripts: []string{validScript()}})

	var percents []int
	result, err := fx.pipeline.Generate(context.Background(), fx.jobID, GenerationRequest{
		AthleteID:       uuid.New(),
		AthleteName:     "Serena Test",
		Sport:           "tennis",
		DurationSeconds: 30,
		Subtitles:       true,
	}, func(p StageProgress) {
		percents = append(percents, p.Percent)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	want := []int{10, 30, 50, 70, 90, 100}
	if len(percents) != len(want) {
		t.Fatalf("progress checkpoints: want=%v got=%v", want, percents)
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Fatalf("progress checkpoints: want=%v got=%v", want, percents)
		}
	}

	if result.VideoURL == "" || result.ThumbnailURL == "" {
		t.Fatalf("result missing artifact URLs: %+v", result)
	}
	if result.TokensUsed != 42 {
		t.Fatalf("tokens used: want=42 got=%d", result.TokensUsed)
	}

	row, _ := fx.store.GetByID(context.Background(), nil, fx.jobID)
	if !row.ScriptGenerated || !row.AudioGenerated || !row.VideoGenerated {
		t.Fatalf("stage flags not persisted: %+v", row)
	}
	if row.ScriptText == "" {
		t.Fatalf("script text not persisted")
	}

	if got := fx.composer.composeInput().SubtitleText; got == "" {
		t.Fatalf("subtitles requested but compose input had none")
	}
	if len(fx.bucket.uploads) != 2 {
		t.Fatalf("uploads: want=2 got=%d", len(fx.bucket.uploads))
	}
}

func TestPipelineRegeneratesShortScript(t *testing.T) {
	scripts := &fakeScriptProvider{scripts: []string{"way too short", validScript()}}
	fx := newPipelineFixture(t, nil, scripts)

	_, err := fx.pipeline.Generate(context.Background(), fx.jobID, GenerationRequest{
		AthleteName: "A", Sport: "golf", DurationSeconds: 30,
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := scripts.callCount(); got != 2 {
		t.Fatalf("script provider calls: want=2 got=%d", got)
	}
}

func TestPipelineRegeneratesInappropriateScript(t *testing.T) {
	bad := strings.Replace(validScript(), "champion", "murder", 1)
	scripts := &fakeScriptProvider{scripts: []string{bad, validScript()}}
	fx := newPipelineFixture(t, nil, scripts)

	_, err := fx.pipeline.Generate(context.Background(), fx.jobID, GenerationRequest{
		AthleteName: "A", Sport: "golf", DurationSeconds: 30,
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := scripts.callCount(); got != 2 {
		t.Fatalf("script provider calls: want=2 got=%d", got)
	}
}

func TestPipelineRejectsScriptAfterRetries(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.ScriptValidationTries = 2
	scripts := &fakeScriptProvider{scripts: []string{"nope"}}
	fx := newPipelineFixture(t, cfg, scripts)

	_, err := fx.pipeline.Generate(context.Background(), fx.jobID, GenerationRequest{
		AthleteName: "A", Sport: "golf", DurationSeconds: 30,
	}, nil)
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %T: %v", err, err)
	}
	if se.Stage != StageScript || se.Kind != ErrorKindUser || se.Retryable {
		t.Fatalf("unexpected stage error: %+v", se)
	}
	if got := scripts.callCount(); got != 2 {
		t.Fatalf("script provider calls: want=2 got=%d", got)
	}
}

func TestPipelineSpeechChunksPreserveOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.SpeechMaxCharsPerCall = 80
	fx := newPipelineFixture(t, cfg, &fakeScriptProvider{scripts: []string{validScript()}})

	_, err := fx.pipeline.Generate(context.Background(), fx.jobID, GenerationRequest{
		AthleteName: "A", Sport: "golf", DurationSeconds: 30,
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	fx.speech.mu.Lock()
	chunks := append([]string(nil), fx.speech.chunks...)
	fx.speech.mu.Unlock()
	if len(chunks) < 2 {
		t.Fatalf("expected script to be chunked, got %d chunks", len(chunks))
	}
	if strings.Join(chunks, " ") != validScript() {
		t.Fatalf("chunks do not reassemble the script:\nchunks=%q", chunks)
	}

	// composed audio must be the chunk outputs concatenated in call order
	var wantAudio []byte
	for i, c := range chunks {
		wantAudio = append(wantAudio, []byte(fmt.Sprintf("<%03d:%s>", i+1, c[:min(8, len(c))]))...)
	}
	if !bytes.Equal(fx.composer.composeInput().Audio, wantAudio) {
		t.Fatalf("composed audio is not the ordered concatenation of chunks")
	}
}

func TestPipelineUsesPlaceholderWithoutImages(t *testing.T) {
	fx := newPipelineFixture(t, nil, &fakeScriptProvider{scripts: []string{validScript()}})

	_, err := fx.pipeline.Generate(context.Background(), fx.jobID, GenerationRequest{
		AthleteName: "No Photos", Sport: "chess", DurationSeconds: 30,
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := len(fx.composer.composeInput().Images); got != 1 {
		t.Fatalf("placeholder image count: want=1 got=%d", got)
	}
}

func TestPipelineFetchesAthleteImages(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "broken") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	fx := newPipelineFixture(t, nil, &fakeScriptProvider{scripts: []string{validScript()}})

	_, err := fx.pipeline.Generate(context.Background(), fx.jobID, GenerationRequest{
		AthleteName:     "Has Photos",
		Sport:           "soccer",
		DurationSeconds: 30,
		ImageURLs:       []string{srv.URL + "/a.png", srv.URL + "/broken.png", srv.URL + "/b.png"},
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// the broken URL is skipped, the two good ones survive
	if got := len(fx.composer.composeInput().Images); got != 2 {
		t.Fatalf("fetched image count: want=2 got=%d", got)
	}
}

func TestPipelineNoSubtitlesWhenDisabled(t *testing.T) {
	fx := newPipelineFixture(t, nil, &fakeScriptProvider{scripts: []string{validScript()}})

	_, err := fx.pipeline.Generate(context.Background(), fx.jobID, GenerationRequest{
		AthleteName: "A", Sport: "golf", DurationSeconds: 30, Subtitles: false,
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := fx.composer.composeInput().SubtitleText; got != "" {
		t.Fatalf("subtitles disabled but compose input had %q", got)
	}
}
