package setter

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ErrSetter is returned when the wallpaper could not be applied.
var ErrSetter = errors.New("wallpaper setter failed")

// ErrNoWallpapers is returned by PickRandom for an empty directory.
var ErrNoWallpapers = errors.New("no wallpapers found")

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Setter applies an image as the desktop wallpaper.
type Setter interface {
	Apply(ctx context.Context, path string) error
	Name() string
}

// FehSetter uses feh, which records the command in ~/.fehbg.
type FehSetter struct {
	Run Runner
}

func (s FehSetter) Name() string { return "feh" }

func (s FehSetter) Apply(ctx context.Context, path string) error {
	return run(ctx, s.Run, "feh", "--bg-max", "--image-bg", "#000000", path)
}

// SwwwSetter uses the swww wayland daemon.
type SwwwSetter struct {
	Run Runner
}

func (s SwwwSetter) Name() string { return "swww" }

func (s SwwwSetter) Apply(ctx context.Context, path string) error {
	return run(ctx, s.Run, "swww", "img", path)
}

// New returns the setter for app, which must be "feh" or "swww".
func New(app string, runner Runner) (Setter, error) {
	if runner == nil {
		runner = ExecRunner
	}
	switch app {
	case "feh":
		return FehSetter{Run: runner}, nil
	case "swww":
		return SwwwSetter{Run: runner}, nil
	default:
		return nil, fmt.Errorf("%w: unknown wallpaper app %q", ErrSetter, app)
	}
}

func run(ctx context.Context, runner Runner, name string, args ...string) error {
	log.Debugf("Running %s %v", name, args)
	out, err := runner(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v: %s", ErrSetter, name, err, string(out))
	}
	return nil
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// PickRandom returns a random image file directly inside dir.
func PickRandom(dir string, rng *rand.Rand) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoWallpapers, dir)
	}
	if rng == nil {
		return files[rand.Intn(len(files))], nil
	}
	return files[rng.Intn(len(files))], nil
}

var fehbgPattern = regexp.MustCompile(`'(.*?)'`)

// CurrentFromFehbg extracts the wallpaper path from the contents of a
// ~/.fehbg script. feh quotes the image path with single quotes.
func CurrentFromFehbg(script string) (string, bool) {
	var last string
	for _, m := range fehbgPattern.FindAllStringSubmatch(script, -1) {
		if m[1] != "" && m[1] != "#000000" {
			last = m[1]
		}
	}
	return last, last != ""
}

var swwwImagePattern = regexp.MustCompile(`image: (.+)$`)

// CurrentFromSwwwQuery extracts the image path from the first output line of
// `swww query`.
func CurrentFromSwwwQuery(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		if m := swwwImagePattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}
