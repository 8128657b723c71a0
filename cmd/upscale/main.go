// Command upscale enhances a single image through the tiled
// super-resolution pipeline and writes the result as PNG.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gogpu/upscale"
	"github.com/gogpu/upscale/model"

	// Register the GPU backend; selection falls back to software when no
	// adapter is available.
	_ "github.com/gogpu/upscale/backend/wgpu"
)

func main() {
	var (
		input   = flag.String("in", "", "input image (png or jpeg)")
		output  = flag.String("out", "out.png", "output file")
		models  = flag.String("models", "models", "weight file directory")
		family  = flag.String("family", "cunet", "model family: cunet, upconv7, cugan, esrgan, nose, legacy")
		noise   = flag.Int("noise", 0, "denoise level")
		scale   = flag.Int("scale", 2, "upscale factor")
		tile    = flag.Int("tile", 0, "tile size in pixels (0 = default)")
		delay   = flag.Duration("delay", 0, "pacing delay between tiles")
		cacheD  = flag.String("cache", "", "result cache directory (empty = no cache)")
		backnd  = flag.String("backend", "", "compute backend (empty = best available)")
		wait    = flag.Duration("timeout", 10*time.Minute, "give up after this long")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	if *verbose {
		upscale.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	kind, err := parseKind(*family)
	if err != nil {
		log.Fatalf("Bad -family: %v", err)
	}
	cfg := model.Config{Kind: kind, Noise: *noise, Scale: *scale}

	src, err := loadImage(*input)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", *input, err)
	}

	done := make(chan *upscale.Pixmap, 1)
	opts := []upscale.Option{
		upscale.WithModelDir(*models),
		upscale.WithOnComplete(func(doc, section string, page int, out *upscale.Pixmap) {
			done <- out
		}),
	}
	if *tile > 0 {
		opts = append(opts, upscale.WithTileSize(*tile))
	}
	if *delay > 0 {
		opts = append(opts, upscale.WithTileDelay(*delay))
	}
	if *cacheD != "" {
		opts = append(opts, upscale.WithCacheDir(*cacheD))
	}
	if *backnd != "" {
		opts = append(opts, upscale.WithBackend(*backnd))
	}

	engine, err := upscale.New(cfg, opts...)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("Close: %v", err)
		}
	}()

	start := time.Now()
	engine.Enhance(*input, "", 0, src, true)

	var out *upscale.Pixmap
	select {
	case out = <-done:
	case <-time.After(*wait):
		log.Fatalf("Gave up after %v (missing weights in %s?)", *wait, *models)
	}

	if err := out.SavePNG(*output); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}

	log.Printf("Enhanced %s -> %s (%dx%d -> %dx%d) in %v\n",
		*input, *output, src.Width(), src.Height(),
		out.Width(), out.Height(), time.Since(start).Round(time.Millisecond))
}

func parseKind(name string) (model.Kind, error) {
	switch strings.ToLower(name) {
	case "cunet":
		return model.KindCUNet, nil
	case "upconv7":
		return model.KindUpConv7, nil
	case "cugan":
		return model.KindCugan, nil
	case "esrgan":
		return model.KindESRGAN, nil
	case "nose":
		return model.KindNose, nil
	case "legacy":
		return model.KindLegacy, nil
	}
	return 0, fmt.Errorf("unknown model family %q", name)
}

func loadImage(path string) (*upscale.Pixmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Close %s: %v", path, err)
		}
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return upscale.FromImage(img), nil
}
