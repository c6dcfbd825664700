package show

import (
	"context"
	"image"
	// Register the decoders for the supported formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/piframe/piframe/cmd/util"
	"github.com/piframe/piframe/pkg/config"
	"github.com/piframe/piframe/pkg/display"
	"github.com/piframe/piframe/pkg/errors"
	"github.com/piframe/piframe/pkg/slideshow"
	"github.com/piframe/piframe/pkg/store"
)

// viewerFramePath is where prepared frames go when an external viewer is
// configured. The viewer is launched pointing at this file.
const viewerFramePath = "/tmp/piframe/frame.jpg"

// viewerResolution is the frame resolution used with an external viewer,
// which scales the frame to its own window anyway.
var viewerResolution = image.Pt(1920, 1080)

// emptyPoll is how often, in seconds, to rescan the image directory
// while it's empty, so the first synced photo appears promptly.
const emptyPoll = 30

// New creates a new `show` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Run the slideshow on the frame's display.",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := util.ParseConfig(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}
			if err := util.SetupLogging("show", cfg.Logging); err != nil {
				util.HandleFatalError(err)
			}

			if err := run(cfg); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(cfg config.Config) error {
	ctx, cancel := util.SignalContext()
	defer cancel()

	imageStore, err := store.New(cfg.Slideshow.ImagesDir, cfg.Slideshow.Formats())
	if err != nil {
		return err
	}

	renderer, err := newRenderer(ctx, cfg.Display)
	if err != nil {
		return err
	}
	defer renderer.Close()

	background, err := display.ParseColor(cfg.Display.BackgroundColor)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()

	var fade func(from, to image.Image) error
	if cfg.Slideshow.Transition == "fade" {
		fade = func(from, to image.Image) error {
			return display.Crossfade(renderer, from, to, time.Second, clock)
		}
	}

	var lastFrame image.Image
	engine := &slideshow.Engine{
		List: func() ([]string, error) {
			files, err := imageStore.Scan()
			if err != nil {
				return nil, err
			}
			var paths []string
			for _, file := range files {
				paths = append(paths, filepath.Join(imageStore.Dir(), file.Path))
			}
			return paths, nil
		},
		Load: func(path string) (image.Image, error) {
			img, err := loadImage(path, cfg.Slideshow.AutoRotate)
			if err != nil {
				return nil, err
			}
			return display.Prepare(img, renderer.Bounds(),
				cfg.Display.FitMode, background)
		},
		Show: func(img image.Image) error {
			defer func() { lastFrame = img }()
			if fade != nil {
				return fade(lastFrame, img)
			}
			return renderer.Render(img)
		},
		Interval:  cfg.Slideshow.Duration(),
		EmptyPoll: emptyPoll * time.Second,
		Random:    cfg.Slideshow.RandomOrder,
		Reloads:   reloadSignals(ctx),
		Clock:     clock,
	}

	log.WithFields(log.Fields{
		"dir":      cfg.Slideshow.ImagesDir,
		"duration": cfg.Slideshow.Duration().String(),
	}).Info("Starting slideshow")
	return engine.Run(ctx)
}

func loadImage(path string, autoRotate bool) (image.Image, error) {
	if autoRotate {
		return display.Load(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithContext(err, "open image")
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.WithContext(err, "decode image")
	}
	return img, nil
}

// newRenderer picks the output: an external viewer watching a frame file
// when one is configured, otherwise the framebuffer.
func newRenderer(ctx context.Context, cfg config.DisplayConfig) (display.Renderer, error) {
	if len(cfg.ViewerCommand) > 0 {
		renderer, err := display.NewFrameFile(
			viewerFramePath, viewerResolution.X, viewerResolution.Y)
		if err != nil {
			return nil, err
		}

		args := append(append([]string(nil), cfg.ViewerCommand[1:]...), viewerFramePath)
		viewer := exec.CommandContext(ctx, cfg.ViewerCommand[0], args...)
		if err := viewer.Start(); err != nil {
			return nil, errors.WithContext(err, "start viewer")
		}
		go func() {
			if err := viewer.Wait(); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("Viewer exited")
			}
		}()
		return renderer, nil
	}

	return display.OpenFramebuffer(cfg.Framebuffer)
}

// reloadSignals rebuilds the playlist on SIGHUP, for setups where the
// monitor signals the running process instead of restarting the unit.
func reloadSignals(ctx context.Context) <-chan struct{} {
	hups := make(chan os.Signal, 1)
	signal.Notify(hups, syscall.SIGHUP)

	reloads := make(chan struct{})
	go func() {
		defer signal.Stop(hups)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hups:
			}

			select {
			case reloads <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return reloads
}
