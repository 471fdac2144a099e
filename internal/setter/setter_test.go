package setter

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

func recorder(calls *[]call, err error) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		if err != nil {
			return []byte("boom output"), err
		}
		return nil, nil
	}
}

func TestNew(t *testing.T) {
	s, err := New("feh", nil)
	require.NoError(t, err)
	assert.Equal(t, "feh", s.Name())

	s, err = New("swww", nil)
	require.NoError(t, err)
	assert.Equal(t, "swww", s.Name())

	_, err = New("nitrogen", nil)
	assert.ErrorIs(t, err, ErrSetter)
}

func TestApplyCommands(t *testing.T) {
	var calls []call

	feh, _ := New("feh", recorder(&calls, nil))
	require.NoError(t, feh.Apply(context.Background(), "/w/a.png"))

	swww, _ := New("swww", recorder(&calls, nil))
	require.NoError(t, swww.Apply(context.Background(), "/w/b.png"))

	require.Len(t, calls, 2)
	assert.Equal(t, call{"feh", []string{"--bg-max", "--image-bg", "#000000", "/w/a.png"}}, calls[0])
	assert.Equal(t, call{"swww", []string{"img", "/w/b.png"}}, calls[1])
}

func TestApplyFailure(t *testing.T) {
	var calls []call
	s, _ := New("swww", recorder(&calls, errors.New("exit status 1")))

	err := s.Apply(context.Background(), "/w/a.png")
	assert.ErrorIs(t, err, ErrSetter)
	assert.Contains(t, err.Error(), "boom output")
}

func TestPickRandom(t *testing.T) {
	dir := t.TempDir()
	_, err := PickRandom(dir, nil)
	assert.ErrorIs(t, err, ErrNoWallpapers)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "nsfw"), 0750))
	_, err = PickRandom(dir, nil)
	assert.ErrorIs(t, err, ErrNoWallpapers, "directories are never picked")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "api.log"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.png.123.tmp"), []byte("x"), 0600))
	_, err = PickRandom(dir, nil)
	assert.ErrorIs(t, err, ErrNoWallpapers, "only images are picked")

	names := []string{"a.png", "b.png", "c.jpeg"}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0600))
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		got, err := PickRandom(dir, rng)
		require.NoError(t, err)
		assert.Contains(t, []string{
			filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png"), filepath.Join(dir, "c.jpeg"),
		}, got)
	}
}

func TestCurrentFromFehbg(t *testing.T) {
	script := "#!/bin/sh\nfeh --no-fehbg --bg-max --image-bg '#000000' '/home/u/Pictures/wallpapers/wallhaven-abc123-1920x1080.png' \n"
	got, ok := CurrentFromFehbg(script)
	assert.True(t, ok)
	assert.Equal(t, "/home/u/Pictures/wallpapers/wallhaven-abc123-1920x1080.png", got)

	_, ok = CurrentFromFehbg("#!/bin/sh\n")
	assert.False(t, ok)
}

func TestCurrentFromSwwwQuery(t *testing.T) {
	out := "eDP-1: 2880x1800, scale: 1, currently displaying: image: /home/u/Pictures/wallpapers/wallhaven-abc123-2880x1800.png\n"
	got, ok := CurrentFromSwwwQuery(out)
	assert.True(t, ok)
	assert.Equal(t, "/home/u/Pictures/wallpapers/wallhaven-abc123-2880x1800.png", got)

	_, ok = CurrentFromSwwwQuery("eDP-1: 2880x1800, scale: 1, currently displaying: color: 000000\n")
	assert.False(t, ok)
}
