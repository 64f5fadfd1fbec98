package services

import (
	"image"
	"math"
	"testing"
)

func TestBuildSubtitleCuesEvenDistribution(t *testing.T) {
	script := "one two three four five six seven eight nine ten eleven twelve"
	cues := BuildSubtitleCues(script, 24, 6)
	if len(cues) != 2 {
		t.Fatalf("cue count: want=2 got=%d (%+v)", len(cues), cues)
	}

	// 12 words over 24s = 2s per word, 6 words per cue
	if cues[0].StartSec != 0 || math.Abs(cues[0].EndSec-12) > 1e-9 {
		t.Fatalf("first cue span: %+v", cues[0])
	}
	if math.Abs(cues[1].StartSec-12) > 1e-9 || cues[1].EndSec != 24 {
		t.Fatalf("second cue span: %+v", cues[1])
	}
	if cues[0].Text != "one two three four five six" {
		t.Fatalf("first cue text: %q", cues[0].Text)
	}
	if cues[1].Text != "seven eight nine ten eleven twelve" {
		t.Fatalf("second cue text: %q", cues[1].Text)
	}
}

func TestBuildSubtitleCuesLastCueClosesDuration(t *testing.T) {
	cues := BuildSubtitleCues("a b c d e f g", 10, 3)
	if len(cues) != 3 {
		t.Fatalf("cue count: want=3 got=%d", len(cues))
	}
	if cues[len(cues)-1].EndSec != 10 {
		t.Fatalf("last cue must end at the full duration, got %v", cues[len(cues)-1].EndSec)
	}
	for i := 1; i < len(cues); i++ {
		if cues[i].StartSec < cues[i-1].StartSec {
			t.Fatalf("cues out of order: %+v", cues)
		}
	}
}

func TestBuildSubtitleCuesEmptyInput(t *testing.T) {
	if cues := BuildSubtitleCues("", 10, 6); cues != nil {
		t.Fatalf("empty script: want nil, got %+v", cues)
	}
	if cues := BuildSubtitleCues("hello", 0, 6); cues != nil {
		t.Fatalf("zero duration: want nil, got %+v", cues)
	}
}

func TestBuildTimelineCoversFullDuration(t *testing.T) {
	cues := BuildSubtitleCues("one two three four five six seven eight", 20, 4)
	segs := buildTimeline(3, 20, cues)
	if len(segs) == 0 {
		t.Fatalf("no segments produced")
	}

	var total float64
	lastImage := -1
	for _, s := range segs {
		if s.durationSec <= 0 {
			t.Fatalf("non-positive segment duration: %+v", s)
		}
		if s.imageIdx < lastImage {
			t.Fatalf("image order regressed: %+v", segs)
		}
		lastImage = s.imageIdx
		total += s.durationSec
	}
	if math.Abs(total-20) > 1e-6 {
		t.Fatalf("segment durations sum: want=20 got=%v", total)
	}
	if lastImage != 2 {
		t.Fatalf("last image index: want=2 got=%d", lastImage)
	}
}

func TestNormalizeImageCoversTargetExactly(t *testing.T) {
	v := &videoComposerService{}

	wide := image.NewRGBA(image.Rect(0, 0, 400, 100))
	out := v.NormalizeImage(wide, 108, 192)
	if b := out.Bounds(); b.Dx() != 108 || b.Dy() != 192 {
		t.Fatalf("wide image normalized to %dx%d", b.Dx(), b.Dy())
	}

	tall := image.NewRGBA(image.Rect(0, 0, 50, 500))
	out = v.NormalizeImage(tall, 108, 192)
	if b := out.Bounds(); b.Dx() != 108 || b.Dy() != 192 {
		t.Fatalf("tall image normalized to %dx%d", b.Dx(), b.Dy())
	}

	exact := image.NewRGBA(image.Rect(0, 0, 108, 192))
	if got := v.NormalizeImage(exact, 108, 192); got != exact {
		t.Fatalf("already-sized image should pass through unchanged")
	}
}

func TestGeneratePlaceholderImageDeterministic(t *testing.T) {
	v := &videoComposerService{}

	a := v.GeneratePlaceholderImage("Jane Doe", "tennis", 108, 192)
	if b := a.Bounds(); b.Dx() != 108 || b.Dy() != 192 {
		t.Fatalf("placeholder size: %dx%d", b.Dx(), b.Dy())
	}

	b := v.GeneratePlaceholderImage("Jane Doe", "tennis", 108, 192)
	if a.At(0, 0) != b.At(0, 0) {
		t.Fatalf("placeholder background must be deterministic per name")
	}
}

func TestInitials(t *testing.T) {
	cases := map[string]string{
		"Jane Doe":          "JD",
		"serena":            "S",
		"Jean Claude Smith": "JC",
		"  ":                "?",
	}
	for name, want := range cases {
		if got := initials(name); got != want {
			t.Fatalf("initials(%q): want=%q got=%q", name, want, got)
		}
	}
}
