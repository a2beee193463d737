package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"fluxserve/db"
	"fluxserve/fluxruntime"
)

type generateFlags struct {
	prompt   string
	modelDir string
	width    int
	height   int
	steps    int
	guidance float64
	seed     int64
	mmap     bool
	input    string
	strength float64
	out      string
}

func newGenerateCommand(a *app) *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one image and print its path",
		Example: `  fluxserve generate --prompt "a lighthouse at dusk"
  fluxserve generate --prompt "in watercolor" --input photo.png --strength 0.6 --out art.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.bootstrap(cmd.ErrOrStderr()); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.generate(ctx, cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.prompt, "prompt", "p", "", "text prompt (required)")
	fl.StringVar(&f.modelDir, "model-dir", "", "model directory (default from config)")
	fl.IntVar(&f.width, "width", 0, "image width, multiple of 16")
	fl.IntVar(&f.height, "height", 0, "image height, multiple of 16")
	fl.IntVar(&f.steps, "steps", 0, "sampling steps")
	fl.Float64Var(&f.guidance, "guidance", 0, "guidance scale")
	fl.Int64Var(&f.seed, "seed", fluxruntime.SeedRandom, "seed, -1 for random")
	fl.BoolVar(&f.mmap, "mmap", false, "memory-map model weights")
	fl.StringVar(&f.input, "input", "", "input image for image-to-image")
	fl.Float64Var(&f.strength, "strength", 0, "image-to-image strength in [0,1], 0 for default")
	fl.StringVarP(&f.out, "out", "o", "", "move the result to this path")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func (a *app) generate(ctx context.Context, cmd *cobra.Command, f generateFlags) error {
	svc, err := do.Invoke[*fluxruntime.Service](a.injector)
	if err != nil {
		return err
	}
	defer a.closeService(svc)

	req := a.cfg.DefaultRequest(f.prompt)
	fl := cmd.Flags()
	if fl.Changed("model-dir") {
		req.ModelDir = f.modelDir
	}
	if fl.Changed("steps") {
		req.Steps = f.steps
	}
	if fl.Changed("guidance") {
		req.Guidance = f.guidance
	}
	if fl.Changed("seed") {
		req.Seed = f.seed
	}
	if fl.Changed("mmap") {
		req.UseMmap = f.mmap
	}

	var res *fluxruntime.Result
	if f.input != "" {
		req.Width, req.Height = f.width, f.height
		res, err = svc.ImageToImage(ctx, fluxruntime.Img2ImgRequest{Request: req, InputPath: f.input, Strength: f.strength})
	} else {
		if fl.Changed("width") {
			req.Width = f.width
		}
		if fl.Changed("height") {
			req.Height = f.height
		}
		res, err = svc.Generate(ctx, req)
	}
	if err != nil {
		return err
	}

	path := res.Path
	if f.out != "" {
		if path, err = moveFile(res.Path, f.out); err != nil {
			return err
		}
	}
	printResult(cmd.OutOrStdout(), path, res)
	return nil
}

// closeService drains the service and flushes history before exit.
func (a *app) closeService(svc *fluxruntime.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = svc.Close(ctx)
	if historyEnabled(a.cfg) {
		if rec, err := do.Invoke[*db.Recorder](a.injector); err == nil {
			_ = rec.Close(ctx)
		}
		if d, err := do.Invoke[*db.Database](a.injector); err == nil {
			_ = d.Close(ctx)
		}
	}
	_ = a.logger.Sync()
}

func printResult(w io.Writer, path string, res *fluxruntime.Result) {
	color.New(color.FgGreen, color.Bold).Fprint(w, "✓ ")
	fmt.Fprintln(w, path)
	color.New(color.Faint).Fprintf(w, "  %dx%d, %d steps, seed %d, %s\n",
		res.Params.Width, res.Params.Height, res.Params.NumSteps, res.Params.Seed, res.Duration.Round(time.Millisecond))
}

// moveFile renames src to dst, copying when they are on different
// filesystems. It returns the absolute destination.
func moveFile(src, dst string) (string, error) {
	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, abs); err == nil {
		return abs, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	_ = os.Remove(src)
	return abs, nil
}
