package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"sokoyetu-ai/internal/model"
)

// Preparer turns a decoded image into the classifier's input tensor.
type Preparer func(model.Image) (model.Image, error)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// FromImage converts img into a 0..255 RGB tensor.
func FromImage(img image.Image) model.Image {
	b := img.Bounds()
	out := model.NewImage(b.Dy(), b.Dx(), 3)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.Set(y, x, 0, float32(r>>8))
			out.Set(y, x, 1, float32(g>>8))
			out.Set(y, x, 2, float32(bl>>8))
		}
	}
	return out
}

// DecodeFile reads an image file into a tensor.
func DecodeFile(path string) (model.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Image{}, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return model.Image{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// labelDir normalises a directory or label name for matching:
// "Pest Infected", "pest-infected" and "pest_infected" are the same label.
func labelDir(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// LoadImageFolder reads root/<label>/<image> for every label. Directories
// that match no label are ignored; unreadable images are skipped. Files are
// visited in name order so loading is deterministic.
func LoadImageFolder(root string, labels []string, prepare Preparer) ([]model.LabeledImage, error) {
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[labelDir(l)] = i
	}

	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read image folder: %w", err)
	}

	var (
		out     []model.LabeledImage
		skipped int
		counts  = make(map[string]int)
	)
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		label, ok := index[labelDir(d.Name())]
		if !ok {
			log.Warn().Str("dir", d.Name()).Msg("Ignoring folder with unknown label")
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", d.Name(), err)
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
		for _, f := range files {
			if f.IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			path := filepath.Join(root, d.Name(), f.Name())
			img, err := DecodeFile(path)
			if err == nil && prepare != nil {
				img, err = prepare(img)
			}
			if err != nil {
				skipped++
				log.Debug().Err(err).Str("file", path).Msg("Skipping image")
				continue
			}
			out = append(out, model.LabeledImage{Image: img, Label: label})
			counts[labels[label]]++
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no labelled images under %s", root)
	}

	log.Info().Str("root", root).Int("images", len(out)).Int("skipped", skipped).
		Interface("per_label", counts).Msg("Image data loaded")
	return out, nil
}
