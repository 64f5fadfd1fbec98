package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/reelworks/sportsreel-backend/internal/logger"
)

// SpeechSynthesisService turns narration text into MP3 audio. One call is
// bounded by MaxCharsPerCall; longer text must be chunked by the caller
// (see SplitTextForSpeech) and the resulting buffers concatenated in order.
type SpeechSynthesisService interface {
	Synthesize(ctx context.Context, text string, voice string) ([]byte, error)
	MaxCharsPerCall() int
	Close() error
}

type speechSynthesisService struct {
	log    *logger.Logger
	client *texttospeech.Client

	languageCode string
	maxChars     int
	maxRetries   int
}

func NewSpeechSynthesisService(log *logger.Logger, maxCharsPerCall int) (SpeechSynthesisService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "SpeechSynthesisService")

	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	ctx := context.Background()

	opts := []option.ClientOption{}
	if creds != "" {
		if strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
	}

	c, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("texttospeech client: %w", err)
	}

	lang := strings.TrimSpace(os.Getenv("TTS_LANGUAGE_CODE"))
	if lang == "" {
		lang = "en-US"
	}
	if maxCharsPerCall <= 0 {
		maxCharsPerCall = 4500
	}

	return &speechSynthesisService{
		log:          slog,
		client:       c,
		languageCode: lang,
		maxChars:     maxCharsPerCall,
		maxRetries:   4,
	}, nil
}

func (s *speechSynthesisService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *speechSynthesisService) MaxCharsPerCall() int { return s.maxChars }

func (s *speechSynthesisService) Synthesize(ctx context.Context, text string, voice string) ([]byte, error) {
	ctx = defaultCtx(ctx)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("synthesize: empty text")
	}
	if len(text) > s.maxChars {
		return nil, fmt.Errorf("synthesize: input %d chars exceeds per-call ceiling %d", len(text), s.maxChars)
	}

	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: s.languageCode,
			Name:         strings.TrimSpace(voice),
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	}

	resp, err := s.retrySynth(ctx, func() (*texttospeechpb.SynthesizeSpeechResponse, error) {
		return s.client.SynthesizeSpeech(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("texttospeech synthesize: %w", err)
	}
	return resp.AudioContent, nil
}

func (s *speechSynthesisService) retrySynth(ctx context.Context, fn func() (*texttospeechpb.SynthesizeSpeechResponse, error)) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == s.maxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}

// SplitTextForSpeech splits narration into chunks of at most maxChars,
// breaking at sentence boundaries so no sentence straddles a chunk. A
// single sentence longer than maxChars is split at word boundaries.
func SplitTextForSpeech(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	sentences := splitSentences(text)
	chunks := []string{}
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}

	for _, sent := range sentences {
		if len(sent) > maxChars {
			flush()
			for _, part := range splitByWords(sent, maxChars) {
				chunks = append(chunks, part)
			}
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(sent) > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(sent)
	}
	flush()
	return chunks
}

func splitSentences(text string) []string {
	out := []string{}
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(cur.String())
			if s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func splitByWords(sent string, maxChars int) []string {
	words := strings.Fields(sent)
	out := []string{}
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() > 0 && cur.Len()+1+len(w) > maxChars {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// ConcatAudioChunks joins MP3 buffers in their original order. MP3 frames
// are self-delimiting, so straight byte concatenation is valid as long as
// chunk order is preserved exactly.
func ConcatAudioChunks(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func defaultCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
