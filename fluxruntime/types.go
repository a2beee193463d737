package fluxruntime

import (
	"math"
	"os"
	"time"
)

// Params is the fixed-shape descriptor handed to the engine for one
// generation. It mirrors flux_params_c field for field and is always passed
// by value.
type Params struct {
	Width         int32
	Height        int32
	NumSteps      int32
	GuidanceScale float32
	Seed          int64 // negative lets the engine choose
	Strength      float32
}

// Parameter validation constants
const (
	MinImageSize      = 64
	MaxImageSize      = 2048
	ImageSizeMultiple = 16 // FLUX latents are 1/16 of the pixel grid

	MinSteps = 1
	MaxSteps = 100

	MinGuidance = 0.0
	MaxGuidance = 30.0

	MaxPromptLength = 2000 // characters, not bytes

	// SeedRandom asks the engine to pick a seed.
	SeedRandom int64 = -1

	// DefaultStrength is used for every text-to-image request; the caller
	// boundary does not expose it.
	DefaultStrength float32 = 0.75
)

// EngineConfig identifies the configuration an engine handle was created with.
type EngineConfig struct {
	ModelDir string
	UseMmap  bool
}

// Request is one text-to-image call as seen at the caller boundary.
type Request struct {
	ModelDir string
	Prompt   string
	Width    int
	Height   int
	Steps    int
	Guidance float64
	Seed     int64
	UseMmap  bool
}

// Img2ImgRequest extends Request with an input image and a strength.
// Width and Height may be zero, meaning "use the input image's dimensions".
type Img2ImgRequest struct {
	Request
	InputPath string
	Strength  float64 // 0 means DefaultStrength
}

// Result is returned for a successful generation. Path is fully written
// before the Result is returned.
type Result struct {
	Path     string
	Params   Params
	Config   EngineConfig // configuration of the engine that served the request
	Duration time.Duration
}

// ValidateRequest checks a text-to-image request. It is a pure function and
// returns a KindValidation *Error describing the first violation.
func ValidateRequest(r Request) error {
	if err := ValidatePrompt(r.Prompt); err != nil {
		return err
	}
	if err := validateDimension("width", r.Width); err != nil {
		return err
	}
	if err := validateDimension("height", r.Height); err != nil {
		return err
	}
	return validateControls(r)
}

// ValidateImg2ImgRequest checks an image-to-image request. Zero dimensions
// are accepted and resolved by the engine from the input image.
func ValidateImg2ImgRequest(r Img2ImgRequest) error {
	if err := ValidatePrompt(r.Prompt); err != nil {
		return err
	}
	if r.Width != 0 {
		if err := validateDimension("width", r.Width); err != nil {
			return err
		}
	}
	if r.Height != 0 {
		if err := validateDimension("height", r.Height); err != nil {
			return err
		}
	}
	if err := validateControls(r.Request); err != nil {
		return err
	}
	if r.Strength < 0 || r.Strength > 1 || math.IsNaN(r.Strength) {
		return validationError("strength %.2f must be between 0 and 1", r.Strength)
	}
	if r.InputPath == "" {
		return validationError("input image path is required")
	}
	info, err := os.Stat(r.InputPath)
	if err != nil {
		return &Error{Kind: KindValidation, Op: "validate", Message: "input image not readable", Err: err}
	}
	if !info.Mode().IsRegular() {
		return validationError("input image %s is not a regular file", r.InputPath)
	}
	return nil
}

func validateDimension(name string, v int) error {
	if v < MinImageSize || v > MaxImageSize {
		return validationError("%s %d must be between %d and %d", name, v, MinImageSize, MaxImageSize)
	}
	if v%ImageSizeMultiple != 0 {
		return validationError("%s %d must be divisible by %d", name, v, ImageSizeMultiple)
	}
	return nil
}

func validateControls(r Request) error {
	if r.Steps < MinSteps || r.Steps > MaxSteps {
		return validationError("steps %d must be between %d and %d", r.Steps, MinSteps, MaxSteps)
	}
	if math.IsNaN(r.Guidance) || r.Guidance < MinGuidance || r.Guidance > MaxGuidance {
		return validationError("guidance %.2f must be between %.1f and %.1f", r.Guidance, MinGuidance, MaxGuidance)
	}
	return nil
}

// NewParams marshals a validated request into the engine descriptor with the
// given strength. Every negative seed becomes SeedRandom.
func NewParams(r Request, strength float32) Params {
	seed := r.Seed
	if seed < 0 {
		seed = SeedRandom
	}
	return Params{
		Width:         int32(r.Width),
		Height:        int32(r.Height),
		NumSteps:      int32(r.Steps),
		GuidanceScale: float32(r.Guidance),
		Seed:          seed,
		Strength:      strength,
	}
}
