package lucky

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"
)

// Inputs collects what was named on the command line: still frames,
// SER videos, and maybe a config file.
type Inputs struct {
	Config     *Config // non-nil if a .yaml file was loaded
	ConfigFile string  // and where it came from

	Images []string
	Videos []string
}

func (in *Inputs) LoadFilesAndDirs(args ...string) error {
	for _, arg := range args {
		item, err := os.Stat(arg)

		switch {

		case err != nil:
			return fmt.Errorf("load %s: %v", arg, err)

		case item.IsDir():
			// Is a dir, recurse into contents
			contents, err := os.ReadDir(arg)
			if err != nil {
				return fmt.Errorf("readdir %s: %v", arg, err)
			}
			for _, content := range contents {
				if err := in.LoadFilesAndDirs(filepath.Join(arg, content.Name())); err != nil {
					return fmt.Errorf("load %s: %v", arg, err)
				}
			}

		default:
			if err := in.loadFile(arg); err != nil {
				return fmt.Errorf("loadfile %s: %v", arg, err)
			}
		}
	}

	return nil
}

func (in *Inputs) loadFile(filename string) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tif", ".tiff", ".png", ".jpg", ".jpeg":
		in.Images = append(in.Images, filename)

	case ".ser":
		in.Videos = append(in.Videos, filename)

	case ".yaml":
		cfg, err := LoadConfig(filename)
		if err != nil {
			return fmt.Errorf("Loading %s as config YAML failed: %v", filename, err)
		}
		in.Config = &cfg
		in.ConfigFile = filename
		log.Infof("Loaded base configuration from %s", filename)
	}

	return nil
}

// Source opens everything up as one FrameSource: the still frames
// first (in capture order), then each video in the order given. The
// caller should Close it.
func (in *Inputs) Source(blockSize int) (*MultiSource, error) {
	ms := &MultiSource{}
	if len(in.Images) > 0 {
		ms.Sources = append(ms.Sources, NewFileSource(in.Images...))
	}
	for _, v := range in.Videos {
		dec, err := OpenSER(v)
		if err != nil {
			ms.Close()
			return nil, err
		}
		ms.Sources = append(ms.Sources, NewBlockSource(dec, blockSize))
	}
	if ms.FrameCount() == 0 {
		ms.Close()
		return nil, ErrNoFrames
	}
	return ms, nil
}

// FileSource is a sequence of still images, one file per frame. Files
// are decoded afresh on every access, so it holds no state and can be
// shared freely.
type FileSource struct {
	Files []string
}

// NewFileSource orders the files by the EXIF capture time where there
// is one, and by name otherwise.
func NewFileSource(files ...string) FileSource {
	type entry struct {
		name string
		when time.Time
	}
	entries := make([]entry, len(files))
	for i, f := range files {
		entries[i] = entry{f, captureTime(f)}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].when.Equal(entries[j].when) {
			return entries[i].when.Before(entries[j].when)
		}
		return entries[i].name < entries[j].name
	})

	fs := FileSource{Files: make([]string, len(entries))}
	for i, e := range entries {
		fs.Files[i] = e.name
	}
	return fs
}

func (fs FileSource) FrameCount() int { return len(fs.Files) }

func (fs FileSource) FrameName(i int) string {
	if i < 0 || i >= len(fs.Files) {
		return ""
	}
	if abs, err := filepath.Abs(fs.Files[i]); err == nil {
		return abs
	}
	return fs.Files[i]
}

func (fs FileSource) FrameAt(i int) (Frame, error) {
	if i < 0 || i >= len(fs.Files) {
		return Frame{Index: i}, fmt.Errorf("frame %d of %d: %w", i, len(fs.Files), ErrFrameUnavailable)
	}
	f := Frame{Index: i, Source: fs.Files[i]}
	img, err := loadImage(fs.Files[i])
	if err != nil {
		return f, fmt.Errorf("%v: %w", err, ErrFrameUnavailable)
	}
	f.Image = img
	return f, nil
}

func loadImage(filename string) (*image.RGBA64, error) {
	reader, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open+r img '%s': %v", filename, err)
	}
	defer reader.Close()

	img, format, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("image loading '%s': %v", filename, err)
	}
	log.Debugf("Loaded %s (%s, %dx%d)", filename, format, img.Bounds().Dx(), img.Bounds().Dy())
	return toRGBA64(img), nil
}

// captureTime is the EXIF DateTimeOriginal, or the zero time if the
// file doesn't carry one.
func captureTime(filename string) time.Time {
	reader, err := os.Open(filename)
	if err != nil {
		return time.Time{}
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	if err != nil {
		return time.Time{}
	}
	t, err := ex.DateTime()
	if err != nil {
		return time.Time{}
	}
	return t
}
