package services

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/reelworks/sportsreel-backend/internal/config"
	"github.com/reelworks/sportsreel-backend/internal/logger"
	"github.com/reelworks/sportsreel-backend/internal/repos"
)

// ProgressFunc receives pipeline checkpoints. Callbacks run on the
// executing job's goroutine and must not block.
type ProgressFunc func(StageProgress)

// ReelPipeline runs the generation stages for one job: script, speech,
// images, video, upload. Each stage persists its artifacts before the next
// stage starts, so a retried job's record always reflects the last stage
// that finished.
type ReelPipeline interface {
	Generate(ctx context.Context, jobID uuid.UUID, req GenerationRequest, onProgress ProgressFunc) (*ReelResult, error)
}

type reelPipeline struct {
	log      *logger.Logger
	cfg      *config.Config
	jobRepo  repos.VideoJobRepo
	scripts  ScriptProviderService
	speech   SpeechSynthesisService
	composer VideoComposerService
	bucket   BucketService

	httpClient *http.Client
}

func NewReelPipeline(
	log *logger.Logger,
	cfg *config.Config,
	jobRepo repos.VideoJobRepo,
	scripts ScriptProviderService,
	speech SpeechSynthesisService,
	composer VideoComposerService,
	bucket BucketService,
) (ReelPipeline, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if jobRepo == nil || scripts == nil || speech == nil || composer == nil || bucket == nil {
		return nil, fmt.Errorf("all pipeline dependencies required")
	}
	return &reelPipeline{
		log:        log.With("service", "ReelPipeline"),
		cfg:        cfg,
		jobRepo:    jobRepo,
		scripts:    scripts,
		speech:     speech,
		composer:   composer,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Progress checkpoints per stage. Percent never decreases within a run.
const (
	progressScript = 10
	progressSpeech = 30
	progressImages = 50
	progressVideo  = 70
	progressUpload = 90
	progressDone   = 100
)

func (p *reelPipeline) Generate(ctx context.Context, jobID uuid.UUID, req GenerationRequest, onProgress ProgressFunc) (*ReelResult, error) {
	ctx = defaultCtx(ctx)
	emit := func(stage Stage, percent int, msg string) {
		if onProgress != nil {
			onProgress(StageProgress{Stage: stage, Percent: percent, Message: msg})
		}
	}

	// script
	script, err := p.runScriptStage(ctx, jobID, req)
	if err != nil {
		return nil, err
	}
	emit(StageScript, progressScript, "script generated")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// speech
	audio, err := p.runSpeechStage(ctx, jobID, script.Text, req.Voice)
	if err != nil {
		return nil, err
	}
	emit(StageSpeech, progressSpeech, "narration synthesized")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// images
	images, err := p.runImagesStage(ctx, req)
	if err != nil {
		return nil, err
	}
	emit(StageImages, progressImages, fmt.Sprintf("%d images prepared", len(images)))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// video
	durationSec := float64(req.DurationSeconds)
	composed, thumb, err := p.runVideoStage(ctx, jobID, script, images, audio, durationSec, req.Subtitles)
	if err != nil {
		return nil, err
	}
	emit(StageVideo, progressVideo, "video composed")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// upload
	videoURL, thumbURL, err := p.runUploadStage(ctx, jobID, composed.VideoBytes, thumb)
	if err != nil {
		return nil, err
	}
	emit(StageUpload, progressUpload, "artifacts uploaded")
	emit(StageDone, progressDone, "reel ready")

	return &ReelResult{
		ScriptText:   script.Text,
		Title:        script.Title,
		Description:  script.Description,
		Hashtags:     script.Hashtags,
		VideoURL:     videoURL,
		ThumbnailURL: thumbURL,
		TokensUsed:   script.TokensUsed,
		DurationSec:  durationSec,
	}, nil
}

// --- script stage ---

var inappropriatePattern = regexp.MustCompile(`(?i)\b(kill(?:ing)?|murder|suicide|rape|nazi|terroris[mt]|behead|lynch)\b`)

func (p *reelPipeline) runScriptStage(ctx context.Context, jobID uuid.UUID, req GenerationRequest) (*ScriptResult, error) {
	tries := p.cfg.Pipeline.ScriptValidationTries
	var lastErr error
	for attempt := 1; attempt <= tries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := p.scripts.GenerateScript(ctx, req)
		if err != nil {
			return nil, NewStageError(StageScript, ClassifyProviderError(err), err)
		}
		if err := p.validateScript(res.Text, req.DurationSeconds); err != nil {
			lastErr = err
			p.log.Warn("Script failed validation, regenerating",
				"job_id", jobID, "attempt", attempt, "error", err)
			continue
		}

		hashtags, _ := json.Marshal(res.Hashtags)
		if err := p.jobRepo.UpdateFields(ctx, nil, jobID, map[string]interface{}{
			"script_generated": true,
			"script_text":      res.Text,
			"title":            res.Title,
			"description":      res.Description,
			"hashtags":         datatypes.JSON(hashtags),
			"tokens_used":      res.TokensUsed,
		}); err != nil {
			return nil, NewStageError(StageScript, ErrorKindSystem, fmt.Errorf("persist script: %w", err))
		}
		return res, nil
	}
	return nil, NewStageError(StageScript, ErrorKindUser,
		fmt.Errorf("script rejected after %d attempts: %w", tries, lastErr))
}

// validateScript checks the narration length against the requested duration
// (between half and double the expected word count at the configured reading
// pace) and screens for content the reel must never narrate.
func (p *reelPipeline) validateScript(text string, durationSeconds int) error {
	words := len(strings.Fields(text))
	if words == 0 {
		return fmt.Errorf("empty script")
	}
	expected := p.cfg.Pipeline.ScriptWordsPerSecond * float64(durationSeconds)
	if float64(words) < expected*0.5 {
		return fmt.Errorf("script too short: %d words, expected around %.0f", words, expected)
	}
	if float64(words) > expected*2.0 {
		return fmt.Errorf("script too long: %d words, expected around %.0f", words, expected)
	}
	if m := inappropriatePattern.FindString(text); m != "" {
		return fmt.Errorf("script contains disallowed term %q", m)
	}
	return nil
}

// --- speech stage ---

func (p *reelPipeline) runSpeechStage(ctx context.Context, jobID uuid.UUID, script string, voice string) ([]byte, error) {
	maxChars := p.cfg.Pipeline.SpeechMaxCharsPerCall
	if pc := p.speech.MaxCharsPerCall(); pc > 0 && pc < maxChars {
		maxChars = pc
	}

	chunks := SplitTextForSpeech(script, maxChars)
	if len(chunks) == 0 {
		return nil, NewStageError(StageSpeech, ErrorKindSystem, fmt.Errorf("no speech chunks from script"))
	}

	// Chunks are synthesized sequentially so the concatenated narration
	// preserves script order.
	audioParts := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		audio, err := p.speech.Synthesize(ctx, chunk, voice)
		if err != nil {
			return nil, NewStageError(StageSpeech, ClassifyGRPCError(err),
				fmt.Errorf("synthesize chunk %d/%d: %w", i+1, len(chunks), err))
		}
		audioParts = append(audioParts, audio)
	}
	narration := ConcatAudioChunks(audioParts)

	if err := p.jobRepo.UpdateFields(ctx, nil, jobID, map[string]interface{}{
		"audio_generated": true,
	}); err != nil {
		return nil, NewStageError(StageSpeech, ErrorKindSystem, fmt.Errorf("persist audio flag: %w", err))
	}
	return narration, nil
}

// --- images stage ---

func (p *reelPipeline) runImagesStage(ctx context.Context, req GenerationRequest) ([]image.Image, error) {
	width, height := p.cfg.Video.Width, p.cfg.Video.Height

	fetched := make([]image.Image, len(req.ImageURLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, rawURL := range req.ImageURLs {
		i, rawURL := i, rawURL
		g.Go(func() error {
			img, err := p.fetchImage(gctx, rawURL)
			if err != nil {
				// A bad source image degrades the reel, it does not fail it.
				p.log.Warn("Skipping unusable athlete image", "url", rawURL, "error", err)
				return nil
			}
			fetched[i] = p.composer.NormalizeImage(img, width, height)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, NewStageError(StageImages, ErrorKindTemporary, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	images := make([]image.Image, 0, len(fetched))
	for _, img := range fetched {
		if img != nil {
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		images = append(images, p.composer.GeneratePlaceholderImage(req.AthleteName, req.Sport, width, height))
	}
	return images, nil
}

func (p *reelPipeline) fetchImage(ctx context.Context, rawURL string) (image.Image, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch returned http %d", resp.StatusCode)
	}
	const maxImageBytes = 20 << 20
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	return p.composer.DecodeImage(data)
}

// --- video stage ---

func (p *reelPipeline) runVideoStage(ctx context.Context, jobID uuid.UUID, script *ScriptResult, images []image.Image, audio []byte, durationSec float64, subtitles bool) (*ComposeResult, []byte, error) {
	subtitleText := ""
	if subtitles {
		subtitleText = script.Text
	}
	composed, err := p.composer.ComposeVideo(ctx, ComposeInput{
		Audio:           audio,
		Images:          images,
		DurationSeconds: durationSec,
		Width:           p.cfg.Video.Width,
		Height:          p.cfg.Video.Height,
		FPS:             p.cfg.Video.FPS,
		BitrateKbps:     p.cfg.Video.Bitrate,
		SubtitleText:    subtitleText,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, NewStageError(StageVideo, ErrorKindSystem, err)
	}

	thumb, err := p.composer.RenderThumbnail(images[0], script.Title, p.cfg.Video.Width, p.cfg.Video.Height)
	if err != nil {
		return nil, nil, NewStageError(StageVideo, ErrorKindSystem, fmt.Errorf("render thumbnail: %w", err))
	}

	if err := p.jobRepo.UpdateFields(ctx, nil, jobID, map[string]interface{}{
		"video_generated": true,
	}); err != nil {
		return nil, nil, NewStageError(StageVideo, ErrorKindSystem, fmt.Errorf("persist video flag: %w", err))
	}
	return composed, thumb, nil
}

// --- upload stage ---

func (p *reelPipeline) runUploadStage(ctx context.Context, jobID uuid.UUID, video []byte, thumb []byte) (string, string, error) {
	suffix := shortHash(video)

	_, videoURL, err := p.bucket.Upload(ctx, video, UploadOptions{
		Folder:      "reels",
		Filename:    fmt.Sprintf("reel_%s_%s.mp4", jobID, suffix),
		ContentType: "video/mp4",
	})
	if err != nil {
		return "", "", NewStageError(StageUpload, ClassifyGRPCError(err), fmt.Errorf("upload video: %w", err))
	}

	_, thumbURL, err := p.bucket.Upload(ctx, thumb, UploadOptions{
		Folder:      "thumbnails",
		Filename:    fmt.Sprintf("thumb_%s_%s.png", jobID, suffix),
		ContentType: "image/png",
	})
	if err != nil {
		return "", "", NewStageError(StageUpload, ClassifyGRPCError(err), fmt.Errorf("upload thumbnail: %w", err))
	}

	if err := p.jobRepo.UpdateFields(ctx, nil, jobID, map[string]interface{}{
		"video_url":     videoURL,
		"thumbnail_url": thumbURL,
	}); err != nil {
		return "", "", NewStageError(StageUpload, ErrorKindSystem, fmt.Errorf("persist urls: %w", err))
	}
	return videoURL, thumbURL, nil
}
