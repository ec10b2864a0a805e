// Package refaudio validates the reference audio a user uploads to create a
// voice profile.
//
// [Validate] is a pure function: it reads only the in-memory bytes of each
// file and performs no I/O. Rules are applied in a fixed order and each
// produces a distinct [apperr.Kind]:
//
//  1. container type allow-list (unsupported_type)
//  2. per-file size limit (file_too_large)
//  3. file count (too_few_files / too_many_files)
//  4. per-file decoded duration (too_short / too_long, unreadable_audio when
//     the header cannot be decoded)
package refaudio

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/narrata/internal/apperr"
	"github.com/MrWong99/narrata/pkg/audio"
)

const op = "refaudio.validate"

// Default limits.
const (
	DefaultMaxFileSize int64 = 10 << 20
	DefaultMinFiles          = 2
	DefaultMaxFiles          = 3
	DefaultMinDuration       = 20 * time.Second
	DefaultMaxDuration       = 50 * time.Second
)

// Limits bounds an upload batch.
type Limits struct {
	MaxFileSize int64
	MinFiles    int
	MaxFiles    int
	MinDuration time.Duration
	MaxDuration time.Duration
}

// DefaultLimits returns the production limits: 2–3 files of at most 10 MiB,
// each 20–50 s long.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize: DefaultMaxFileSize,
		MinFiles:    DefaultMinFiles,
		MaxFiles:    DefaultMaxFiles,
		MinDuration: DefaultMinDuration,
		MaxDuration: DefaultMaxDuration,
	}
}

// File is one uploaded reference recording.
type File struct {
	// Name is the client-supplied file name.
	Name string

	// ContentType is the declared MIME type. When empty or generic, the file
	// extension decides the container.
	ContentType string

	Data []byte
}

// ValidatedFile is a [File] that passed every rule.
type ValidatedFile struct {
	File
	Format   audio.Format
	Duration time.Duration
}

// ValidatedSet is the accepted upload batch, in upload order.
type ValidatedSet struct {
	Files []ValidatedFile
}

// TotalDuration returns the summed duration of all files.
func (s ValidatedSet) TotalDuration() time.Duration {
	var d time.Duration
	for _, f := range s.Files {
		d += f.Duration
	}
	return d
}

// Validate checks files against limits and returns the validated set or an
// [*apperr.Error] naming the first rule violated.
func Validate(files []File, limits Limits) (ValidatedSet, error) {
	formats := make([]audio.Format, len(files))
	for i, f := range files {
		format, err := detectFormat(f)
		if err != nil {
			return ValidatedSet{}, apperr.New(apperr.KindUnsupportedType, op,
				fmt.Sprintf("%s: type %q is not accepted", displayName(f, i), f.ContentType))
		}
		formats[i] = format
	}

	for i, f := range files {
		if int64(len(f.Data)) > limits.MaxFileSize {
			return ValidatedSet{}, apperr.New(apperr.KindFileTooLarge, op,
				fmt.Sprintf("%s is %d bytes; the limit is %d", displayName(f, i), len(f.Data), limits.MaxFileSize))
		}
	}

	switch {
	case len(files) < limits.MinFiles:
		return ValidatedSet{}, apperr.New(apperr.KindTooFewFiles, op,
			fmt.Sprintf("%d file(s) uploaded; at least %d are required", len(files), limits.MinFiles))
	case len(files) > limits.MaxFiles:
		return ValidatedSet{}, apperr.New(apperr.KindTooManyFiles, op,
			fmt.Sprintf("%d files uploaded; at most %d are allowed", len(files), limits.MaxFiles))
	}

	set := ValidatedSet{Files: make([]ValidatedFile, 0, len(files))}
	var details []apperr.Detail
	for i, f := range files {
		name := displayName(f, i)
		info, err := audio.Probe(f.Data, formats[i])
		if err != nil {
			details = append(details, apperr.Detail{
				Subject: name,
				Kind:    apperr.KindUnreadableAudio,
				Message: "audio header could not be decoded",
			})
			continue
		}
		switch {
		case info.Duration < limits.MinDuration:
			details = append(details, apperr.Detail{
				Subject: name,
				Kind:    apperr.KindTooShort,
				Message: fmt.Sprintf("%.1fs is shorter than %s", info.Duration.Seconds(), limits.MinDuration),
			})
		case info.Duration > limits.MaxDuration:
			details = append(details, apperr.Detail{
				Subject: name,
				Kind:    apperr.KindTooLong,
				Message: fmt.Sprintf("%.1fs is longer than %s", info.Duration.Seconds(), limits.MaxDuration),
			})
		default:
			set.Files = append(set.Files, ValidatedFile{File: f, Format: formats[i], Duration: info.Duration})
		}
	}
	if len(details) > 0 {
		first := details[0]
		return ValidatedSet{}, &apperr.Error{
			Kind:    first.Kind,
			Op:      op,
			Message: fmt.Sprintf("%d of %d file(s) rejected; %s: %s", len(details), len(files), first.Subject, first.Message),
			Details: details,
		}
	}
	return set, nil
}

func detectFormat(f File) (audio.Format, error) {
	ct := strings.ToLower(strings.TrimSpace(f.ContentType))
	if ct != "" && ct != "application/octet-stream" {
		return audio.FormatFromContentType(ct)
	}
	return audio.FormatFromFilename(f.Name)
}

func displayName(f File, i int) string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprintf("file #%d", i+1)
}
