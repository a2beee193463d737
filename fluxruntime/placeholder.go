package fluxruntime

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // input images for ImageToImage
	"image/png"
	"math/rand/v2"
	"os"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Status codes returned by the placeholder handle, numbered like the C API.
const (
	placeholderRCBadArgs   = 2
	placeholderRCLoadInput = 3
	placeholderRCSave      = 4
)

// PlaceholderBackend renders deterministic gradient images with the prompt
// drawn on them. It exercises the whole control plane without a model and is
// meant for development and demos.
type PlaceholderBackend struct {
	// Now supplies the time used to pick a seed when SeedRandom is requested.
	Now func() time.Time
}

// NewPlaceholderBackend returns a PlaceholderBackend using the wall clock.
func NewPlaceholderBackend() *PlaceholderBackend {
	return &PlaceholderBackend{Now: time.Now}
}

// Create checks that modelDir exists so configuration mistakes surface the
// same way they would with the native engine.
func (b *PlaceholderBackend) Create(modelDir string, useMmap bool) (Handle, error) {
	info, err := os.Stat(modelDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", modelDir)
	}
	now := b.Now
	if now == nil {
		now = time.Now
	}
	return &placeholderHandle{modelDir: modelDir, now: now}, nil
}

type placeholderHandle struct {
	modelDir  string
	now       func() time.Time
	lastErr   string
	destroyed bool
}

func (h *placeholderHandle) chooseSeed(seed int64) int64 {
	if seed >= 0 {
		return seed
	}
	return h.now().Unix()
}

func (h *placeholderHandle) TextToImage(prompt string, p Params, outPath string) int {
	if h.destroyed {
		return 1
	}
	if prompt == "" || outPath == "" || p.Width <= 0 || p.Height <= 0 {
		h.lastErr = "bad args"
		return placeholderRCBadArgs
	}

	img := renderGradient(int(p.Width), int(p.Height), h.chooseSeed(p.Seed))
	drawCaption(img, prompt)

	if err := writePNG(outPath, img); err != nil {
		h.lastErr = "failed to save output: " + err.Error()
		return placeholderRCSave
	}
	return 0
}

func (h *placeholderHandle) ImageToImage(prompt, inPath string, p Params, outPath string) int {
	if h.destroyed {
		return 1
	}
	if inPath == "" || outPath == "" {
		h.lastErr = "bad args"
		return placeholderRCBadArgs
	}

	src, err := loadImage(inPath)
	if err != nil {
		h.lastErr = "failed to load input image"
		return placeholderRCLoadInput
	}

	w, hgt := int(p.Width), int(p.Height)
	if w <= 0 {
		w = src.Bounds().Dx()
	}
	if hgt <= 0 {
		hgt = src.Bounds().Dy()
	}

	out := renderGradient(w, hgt, h.chooseSeed(p.Seed))
	scaled := image.NewRGBA(out.Bounds())
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Over, nil)

	// Strength is how far the result moves away from the input.
	keep := uint8(255 * (1 - clamp01(p.Strength)))
	mask := image.NewUniform(color.Alpha{A: keep})
	draw.DrawMask(out, out.Bounds(), scaled, image.Point{}, mask, image.Point{}, draw.Over)
	drawCaption(out, prompt)

	if err := writePNG(outPath, out); err != nil {
		h.lastErr = "failed to save output: " + err.Error()
		return placeholderRCSave
	}
	return 0
}

func (h *placeholderHandle) LastError() string {
	if h.destroyed {
		return "engine is destroyed"
	}
	return h.lastErr
}

func (h *placeholderHandle) Destroy() {
	h.destroyed = true
}

func renderGradient(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
	from := color.RGBA{uint8(rng.IntN(256)), uint8(rng.IntN(256)), uint8(rng.IntN(256)), 255}
	to := color.RGBA{uint8(rng.IntN(256)), uint8(rng.IntN(256)), uint8(rng.IntN(256)), 255}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		t := float64(y) / float64(max(h-1, 1))
		c := color.RGBA{
			R: lerp(from.R, to.R, t),
			G: lerp(from.G, to.G, t),
			B: lerp(from.B, to.B, t),
			A: 255,
		}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// drawCaption writes the prompt in the bottom-left corner, truncated to the
// image width.
func drawCaption(img *image.RGBA, caption string) {
	face := basicfont.Face7x13
	maxChars := (img.Bounds().Dx() - 8) / face.Advance
	if maxChars <= 0 {
		return
	}
	runes := []rune(caption)
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(4, img.Bounds().Dy()-6),
	}
	d.DrawString(string(runes))
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// writePNG truncates path (the executor reserves it beforehand) and encodes img.
func writePNG(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
