package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"webradio/audio"
	"webradio/track"

	"github.com/Duckduckgot/gtts"
	"github.com/Duckduckgot/gtts/voices"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxNameLength caps generated speech file names
const maxNameLength = 64

// Loop repeats a recorded clip, separated by gap of silence
type Loop struct {
	samples []int16
	gap     int
	pos     int
}

var _ Source = (*Loop)(nil)

// NewLoop plays samples over and over with gap of silence after each pass
func NewLoop(samples []int16, gap time.Duration) *Loop {
	return &Loop{samples: samples, gap: audio.FramesFor(gap)}
}

// Read implements Source
func (l *Loop) Read(p []int16) error {
	period := len(l.samples) + l.gap
	if period == 0 {
		clear(p)
		return nil
	}
	for i := range p {
		if l.pos < len(l.samples) {
			p[i] = l.samples[l.pos]
		} else {
			p[i] = 0
		}
		l.pos = (l.pos + 1) % period
	}
	return nil
}

// Synthesize renders text to an MP3 file in dir with Google TTS and returns
// its path. An existing file for the same text and language is reused.
func Synthesize(text, language, dir string) (string, error) {
	if language == "" {
		language = voices.English
	}
	name, err := SpeechFileName(text)
	if err != nil {
		return "", err
	}

	speech := gtts.Speech{Folder: dir, Language: language}
	path, err := speech.CreateSpeechFile(text, language+"_"+name)
	if err != nil {
		return "", fmt.Errorf("synthesize announcement: %w", err)
	}
	return path, nil
}

// NewAnnouncement synthesizes text and loops it as the voice signal
func NewAnnouncement(ctx context.Context, text, language, dir string, gap time.Duration, decoder track.Decoder) (*Loop, error) {
	path, err := Synthesize(text, language, dir)
	if err != nil {
		return nil, err
	}
	samples, err := decoder.Decode(ctx, track.Track{Path: path, Name: "announcement"})
	if err != nil {
		return nil, fmt.Errorf("decode announcement: %w", err)
	}

	slog.Info("Announcement ready",
		slog.String("component", "voice"),
		slog.String("path", path),
		slog.Duration("duration", audio.DurationOf(len(samples))))
	return NewLoop(samples, gap), nil
}

// SpeechFileName turns text into an ASCII file name: accents are dropped,
// punctuation removed and spaces replaced by underscores.
func SpeechFileName(text string) (string, error) {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
	)
	normalized, _, err := transform.String(t, text)
	if err != nil {
		return "", err
	}

	filtered := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, normalized)

	name := strings.Join(strings.Fields(cases.Fold().String(filtered)), "_")
	if name == "" {
		return "", errors.New("speech file name is empty after processing")
	}
	if len(name) > maxNameLength {
		name = strings.TrimRight(name[:maxNameLength], "_")
	}
	return name, nil
}
