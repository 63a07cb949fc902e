package track

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/gopxl/beep/v2/wav"
	"golang.org/x/text/unicode/norm"
)

// ErrUnsupportedFormat is returned for files no provider or decoder handles
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Metadata is what the mixer needs to know about a track before decoding it
type Metadata struct {
	Duration time.Duration
	Genre    string
}

// MetadataProvider resolves metadata for the formats it supports
type MetadataProvider interface {
	Supports(path string) bool
	Probe(path string) (Metadata, error)
}

// Probe tries each provider in order and returns the first that supports path.
type Probe []MetadataProvider

// DefaultProbe handles MP3 and WAV files
func DefaultProbe(decoder *FileDecoder) Probe {
	return Probe{
		&TagProvider{Durations: decoder},
		&WAVProvider{},
	}
}

// Probe implements MetadataProvider
func (p Probe) Probe(path string) (Metadata, error) {
	for _, provider := range p {
		if provider.Supports(path) {
			return provider.Probe(path)
		}
	}
	return Metadata{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
}

// Supports implements MetadataProvider
func (p Probe) Supports(path string) bool {
	for _, provider := range p {
		if provider.Supports(path) {
			return true
		}
	}
	return false
}

// DurationReader reports the playback length of a file.
type DurationReader interface {
	Length(path string) (time.Duration, error)
}

// TagProvider reads the genre from embedded tags (ID3, MP4, FLAC, OGG) and
// asks Durations for the length, since tags rarely carry one.
type TagProvider struct {
	Durations DurationReader
}

// Supports implements MetadataProvider
func (p *TagProvider) Supports(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mp3")
}

// Probe implements MetadataProvider. A file without tags is not an error; its
// genre is just unknown.
func (p *TagProvider) Probe(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var meta Metadata
	m, err := tag.ReadFrom(f)
	switch {
	case err == nil:
		meta.Genre = strings.TrimSpace(m.Genre())
	case errors.Is(err, tag.ErrNoTagsFound):
	default:
		return Metadata{}, fmt.Errorf("read tags %s: %w", path, err)
	}

	if p.Durations != nil {
		d, err := p.Durations.Length(path)
		if err != nil {
			return Metadata{}, err
		}
		meta.Duration = d
	}
	return meta, nil
}

// WAVProvider reads the duration from the WAV header. WAV files carry no genre.
type WAVProvider struct{}

// Supports implements MetadataProvider
func (p *WAVProvider) Supports(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

// Probe implements MetadataProvider
func (p *WAVProvider) Probe(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	s, format, err := wav.Decode(f)
	if err != nil {
		return Metadata{}, fmt.Errorf("decode wav header %s: %w", path, err)
	}
	return Metadata{Duration: format.SampleRate.D(s.Len())}, nil
}

// SameGenre reports whether two genre labels are identical once surrounding
// space is trimmed and both are in Unicode NFC form. Case differences count
// as a genre change.
func SameGenre(a, b string) bool {
	return canonicalGenre(a) == canonicalGenre(b)
}

func canonicalGenre(g string) string {
	return norm.NFC.String(strings.TrimSpace(g))
}
