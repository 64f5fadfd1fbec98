package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"

	"github.com/reelworks/sportsreel-backend/internal/logger"
)

// SubtitleCue is one timed caption burned into the video. Timing comes from
// even word distribution across the audio duration, not speech alignment.
type SubtitleCue struct {
	StartSec float64
	EndSec   float64
	Text     string
}

type ComposeInput struct {
	Audio           []byte
	Images          []image.Image
	DurationSeconds float64
	Width           int
	Height          int
	FPS             int
	BitrateKbps     int
	SubtitleText    string // narration script; empty disables burn-in
}

type VideoMetadata struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	DurationSec float64 `json:"duration_sec"`
	SizeBytes   int     `json:"size_bytes"`
}

type ComposeResult struct {
	VideoBytes []byte
	Metadata   VideoMetadata
}

// VideoComposerService renders slideshow reels: still frames drawn with gg,
// muxed against the narration audio with ffmpeg.
//
// REQUIRED BINARY in worker runtime: ffmpeg.
type VideoComposerService interface {
	AssertReady(ctx context.Context) error
	DecodeImage(data []byte) (image.Image, error)
	NormalizeImage(src image.Image, width, height int) image.Image
	GeneratePlaceholderImage(name string, sport string, width, height int) image.Image
	ComposeVideo(ctx context.Context, in ComposeInput) (*ComposeResult, error)
	RenderThumbnail(img image.Image, title string, width, height int) ([]byte, error)
}

type videoComposerService struct {
	log *logger.Logger

	ffmpegPath string
	workRoot   string

	fontFace font.Face // nil when no font configured; text overlays are skipped

	defaultTimeout time.Duration
}

func NewVideoComposerService(log *logger.Logger) (VideoComposerService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "VideoComposerService")

	var face font.Face
	if fontPath := strings.TrimSpace(os.Getenv("REEL_FONT")); fontPath != "" {
		f, err := loadFontFace(fontPath, 64)
		if err != nil {
			return nil, fmt.Errorf("could not load reel font: %w", err)
		}
		face = f
	} else {
		slog.Warn("REEL_FONT not set; subtitle and title overlays disabled")
	}

	return &videoComposerService{
		log:            slog,
		ffmpegPath:     "ffmpeg",
		workRoot:       "/tmp/sportsreel-media",
		fontFace:       face,
		defaultTimeout: 10 * time.Minute,
	}, nil
}

func loadFontFace(path string, points float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}

func (v *videoComposerService) AssertReady(ctx context.Context) error {
	if _, err := exec.LookPath(v.ffmpegPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", v.ffmpegPath, err)
	}
	if err := os.MkdirAll(v.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (v *videoComposerService) DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// NormalizeImage scales src to cover width x height, center-cropped.
func (v *videoComposerService) NormalizeImage(src image.Image, width, height int) image.Image {
	sb := src.Bounds()
	if sb.Dx() == width && sb.Dy() == height {
		return src
	}

	scale := float64(width) / float64(sb.Dx())
	if s := float64(height) / float64(sb.Dy()); s > scale {
		scale = s
	}
	sw := int(float64(sb.Dx())*scale + 0.5)
	sh := int(float64(sb.Dy())*scale + 0.5)

	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, sb, draw.Over, nil)

	offX := (sw - width) / 2
	offY := (sh - height) / 2
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(offX, offY), draw.Src)
	return out
}

// GeneratePlaceholderImage draws a deterministic name card for athletes
// with no source imagery: background color keyed off the name hash,
// initials centered, sport caption below.
func (v *videoComposerService) GeneratePlaceholderImage(name string, sport string, width, height int) image.Image {
	bg := placeholderColor(name)
	dc := gg.NewContext(width, height)
	dc.SetColor(bg)
	dc.Clear()

	// darker band across the lower third for the caption
	dc.SetRGBA(0, 0, 0, 0.25)
	dc.DrawRectangle(0, float64(height)*2/3, float64(width), float64(height)/3)
	dc.Fill()

	if v.fontFace != nil {
		dc.SetFontFace(v.fontFace)
		dc.SetRGB(1, 1, 1)
		dc.DrawStringAnchored(initials(name), float64(width)/2, float64(height)/2, 0.5, 0.5)
		if sport = strings.TrimSpace(sport); sport != "" {
			dc.DrawStringAnchored(strings.ToUpper(sport), float64(width)/2, float64(height)*5/6, 0.5, 0.5)
		}
	}
	return dc.Image()
}

func placeholderColor(name string) color.NRGBA {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(name))))
	palette := []color.NRGBA{
		{R: 0x1f, G: 0x4e, B: 0x79, A: 0xff},
		{R: 0x7c, G: 0x2d, B: 0x2d, A: 0xff},
		{R: 0x2d, G: 0x5a, B: 0x3d, A: 0xff},
		{R: 0x4a, G: 0x3a, B: 0x6b, A: 0xff},
		{R: 0x8a, G: 0x5a, B: 0x1f, A: 0xff},
		{R: 0x25, G: 0x60, B: 0x6b, A: 0xff},
	}
	return palette[int(sum[0])%len(palette)]
}

func initials(name string) string {
	parts := strings.Fields(strings.TrimSpace(name))
	if len(parts) == 0 {
		return "?"
	}
	var b strings.Builder
	for i, p := range parts {
		if i >= 2 {
			break
		}
		b.WriteString(strings.ToUpper(p[:1]))
	}
	return b.String()
}

// BuildSubtitleCues distributes the script's words evenly across the audio
// duration in groups of up to wordsPerCue.
func BuildSubtitleCues(script string, durationSec float64, wordsPerCue int) []SubtitleCue {
	words := strings.Fields(strings.TrimSpace(script))
	if len(words) == 0 || durationSec <= 0 {
		return nil
	}
	if wordsPerCue <= 0 {
		wordsPerCue = 6
	}
	perWord := durationSec / float64(len(words))
	cues := []SubtitleCue{}
	for start := 0; start < len(words); start += wordsPerCue {
		end := start + wordsPerCue
		if end > len(words) {
			end = len(words)
		}
		cues = append(cues, SubtitleCue{
			StartSec: float64(start) * perWord,
			EndSec:   float64(end) * perWord,
			Text:     strings.Join(words[start:end], " "),
		})
	}
	// close any rounding gap on the final cue
	cues[len(cues)-1].EndSec = durationSec
	return cues
}

// timelineSegment is one still frame held for a span of the reel.
type timelineSegment struct {
	imageIdx    int
	cueText     string
	durationSec float64
}

// buildTimeline slices the reel at image boundaries and cue boundaries so
// each segment shows exactly one image and at most one cue.
func buildTimeline(imageCount int, durationSec float64, cues []SubtitleCue) []timelineSegment {
	if imageCount <= 0 || durationSec <= 0 {
		return nil
	}

	bounds := map[float64]bool{0: true, durationSec: true}
	perImage := durationSec / float64(imageCount)
	for i := 1; i < imageCount; i++ {
		bounds[perImage*float64(i)] = true
	}
	for _, c := range cues {
		if c.StartSec > 0 && c.StartSec < durationSec {
			bounds[c.StartSec] = true
		}
		if c.EndSec > 0 && c.EndSec < durationSec {
			bounds[c.EndSec] = true
		}
	}

	cuts := make([]float64, 0, len(bounds))
	for t := range bounds {
		cuts = append(cuts, t)
	}
	sortFloats(cuts)

	segs := []timelineSegment{}
	for i := 0; i+1 < len(cuts); i++ {
		start, end := cuts[i], cuts[i+1]
		if end-start < 1e-6 {
			continue
		}
		mid := (start + end) / 2
		idx := int(mid / perImage)
		if idx >= imageCount {
			idx = imageCount - 1
		}
		text := ""
		for _, c := range cues {
			if mid >= c.StartSec && mid < c.EndSec {
				text = c.Text
				break
			}
		}
		segs = append(segs, timelineSegment{imageIdx: idx, cueText: text, durationSec: end - start})
	}
	return segs
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

func (v *videoComposerService) ComposeVideo(ctx context.Context, in ComposeInput) (*ComposeResult, error) {
	ctx = defaultCtx(ctx)
	if err := v.AssertReady(ctx); err != nil {
		return nil, err
	}
	if len(in.Images) == 0 {
		return nil, fmt.Errorf("compose: at least one image required")
	}
	if len(in.Audio) == 0 {
		return nil, fmt.Errorf("compose: audio required")
	}
	if in.DurationSeconds <= 0 {
		return nil, fmt.Errorf("compose: positive duration required")
	}
	width, height := in.Width, in.Height
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("compose: resolution required")
	}

	workDir, err := os.MkdirTemp(v.workRoot, "reel-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	audioPath := filepath.Join(workDir, "narration.mp3")
	if err := os.WriteFile(audioPath, in.Audio, 0o644); err != nil {
		return nil, fmt.Errorf("write narration: %w", err)
	}

	var cues []SubtitleCue
	if strings.TrimSpace(in.SubtitleText) != "" {
		cues = BuildSubtitleCues(in.SubtitleText, in.DurationSeconds, 6)
	}
	segs := buildTimeline(len(in.Images), in.DurationSeconds, cues)

	// One rendered still per segment, sequenced by a concat list with
	// explicit durations. The final file is repeated per concat demuxer
	// convention so its duration is honored.
	var list strings.Builder
	for i, seg := range segs {
		framePath := filepath.Join(workDir, fmt.Sprintf("seg_%04d.png", i))
		if err := v.renderSegmentFrame(framePath, in.Images[seg.imageIdx], seg.cueText, width, height); err != nil {
			return nil, err
		}
		fmt.Fprintf(&list, "file '%s'\n", framePath)
		fmt.Fprintf(&list, "duration %.4f\n", seg.durationSec)
	}
	lastFrame := filepath.Join(workDir, fmt.Sprintf("seg_%04d.png", len(segs)-1))
	fmt.Fprintf(&list, "file '%s'\n", lastFrame)

	listPath := filepath.Join(workDir, "frames.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}

	fps := in.FPS
	if fps <= 0 {
		fps = 30
	}
	bitrate := in.BitrateKbps
	if bitrate <= 0 {
		bitrate = 4000
	}

	outPath := filepath.Join(workDir, "reel.mp4")
	timeout := v.defaultTimeout
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-i", audioPath,
		"-c:v", "libx264",
		"-b:v", strconv.Itoa(bitrate) + "k",
		"-r", strconv.Itoa(fps),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		"-t", fmt.Sprintf("%.3f", in.DurationSeconds),
		outPath,
	}
	cmd := exec.CommandContext(cctx, v.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg compose failed: %w; out=%s", err, truncateForLog(string(out), 500))
	}

	videoBytes, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read composed video: %w", err)
	}

	return &ComposeResult{
		VideoBytes: videoBytes,
		Metadata: VideoMetadata{
			Width:       width,
			Height:      height,
			DurationSec: in.DurationSeconds,
			SizeBytes:   len(videoBytes),
		},
	}, nil
}

func (v *videoComposerService) renderSegmentFrame(path string, img image.Image, cueText string, width, height int) error {
	dc := gg.NewContext(width, height)
	dc.DrawImage(img, 0, 0)

	if cueText != "" && v.fontFace != nil {
		dc.SetFontFace(v.fontFace)
		// caption plate near the bottom
		dc.SetRGBA(0, 0, 0, 0.55)
		plateH := float64(height) * 0.12
		dc.DrawRectangle(0, float64(height)*0.82, float64(width), plateH)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawStringWrapped(cueText, float64(width)/2, float64(height)*0.88, 0.5, 0.5, float64(width)*0.9, 1.3, gg.AlignCenter)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, dc.Image()); err != nil {
		return fmt.Errorf("encode frame %s: %w", path, err)
	}
	return nil
}

func (v *videoComposerService) RenderThumbnail(img image.Image, title string, width, height int) ([]byte, error) {
	base := v.NormalizeImage(img, width, height)
	dc := gg.NewContext(width, height)
	dc.DrawImage(base, 0, 0)

	if title != "" && v.fontFace != nil {
		dc.SetFontFace(v.fontFace)
		dc.SetRGBA(0, 0, 0, 0.5)
		dc.DrawRectangle(0, float64(height)*0.75, float64(width), float64(height)*0.25)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawStringWrapped(title, float64(width)/2, float64(height)*0.875, 0.5, 0.5, float64(width)*0.9, 1.3, gg.AlignCenter)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func shortHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])[:12]
}
