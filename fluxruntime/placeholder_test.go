package fluxruntime

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func TestPlaceholderBackendCreate(t *testing.T) {
	b := NewPlaceholderBackend()

	if _, err := b.Create(t.TempDir(), false); err != nil {
		t.Errorf("Create(existing dir) error = %v", err)
	}
	if _, err := b.Create(filepath.Join(t.TempDir(), "missing"), false); err == nil {
		t.Error("Create(missing dir) should fail")
	}

	file := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Create(file, false); err == nil {
		t.Error("Create(file) should fail")
	}
}

func TestPlaceholderTextToImage(t *testing.T) {
	b := &PlaceholderBackend{Now: func() time.Time { return time.Unix(1, 0) }}
	h, err := b.Create(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Destroy()

	out := filepath.Join(t.TempDir(), "flux_1.png")
	p := Params{Width: 128, Height: 64, NumSteps: 4, GuidanceScale: 1, Seed: 7, Strength: DefaultStrength}
	if rc := h.TextToImage("a cat", p, out); rc != 0 {
		t.Fatalf("TextToImage() rc = %d, last error %q", rc, h.LastError())
	}

	img := decodePNG(t, out)
	if got := img.Bounds().Size(); got != image.Pt(128, 64) {
		t.Errorf("size = %v, want 128x64", got)
	}

	// Same seed, same pixels.
	out2 := filepath.Join(t.TempDir(), "flux_2.png")
	if rc := h.TextToImage("a cat", p, out2); rc != 0 {
		t.Fatal(h.LastError())
	}
	a, _ := os.ReadFile(out)
	c, _ := os.ReadFile(out2)
	if string(a) != string(c) {
		t.Error("identical seeds should render identical images")
	}
}

func TestPlaceholderTextToImageBadArgs(t *testing.T) {
	h, err := NewPlaceholderBackend().Create(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	rc := h.TextToImage("", Params{Width: 64, Height: 64}, filepath.Join(t.TempDir(), "x.png"))
	if rc != placeholderRCBadArgs {
		t.Errorf("rc = %d, want %d", rc, placeholderRCBadArgs)
	}
	if h.LastError() == "" {
		t.Error("LastError() should describe the failure")
	}
}

func TestPlaceholderImageToImageAdoptsInputSize(t *testing.T) {
	h, err := NewPlaceholderBackend().Create(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	if err := writeTestPNG(in, 96, 48); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out.png")
	if rc := h.ImageToImage("a dog", in, Params{NumSteps: 4, Seed: 1, Strength: 0.5}, out); rc != 0 {
		t.Fatalf("ImageToImage() rc = %d, last error %q", rc, h.LastError())
	}
	if got := decodePNG(t, out).Bounds().Size(); got != image.Pt(96, 48) {
		t.Errorf("size = %v, want input size 96x48", got)
	}

	rc := h.ImageToImage("a dog", filepath.Join(dir, "missing.png"), Params{Strength: 0.5}, out)
	if rc != placeholderRCLoadInput {
		t.Errorf("rc = %d, want %d", rc, placeholderRCLoadInput)
	}
}

func TestPlaceholderDestroyedHandle(t *testing.T) {
	h, err := NewPlaceholderBackend().Create(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	h.Destroy()
	if rc := h.TextToImage("cat", Params{Width: 64, Height: 64}, filepath.Join(t.TempDir(), "x.png")); rc != 1 {
		t.Errorf("rc = %d, want 1", rc)
	}
}

func TestPlaceholderThroughService(t *testing.T) {
	modelDir := t.TempDir()
	svc, _ := newTestService(t.TempDir(), NewPlaceholderBackend())

	req := validRequest()
	req.ModelDir = modelDir
	res, err := svc.Generate(t.Context(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := decodePNG(t, res.Path).Bounds().Size(); got != image.Pt(256, 256) {
		t.Errorf("size = %v, want 256x256", got)
	}
}
