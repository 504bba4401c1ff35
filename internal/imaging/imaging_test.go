package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "img.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestAnalyze(t *testing.T) {
	svc := NewNative()

	t.Run("recognizes images", func(t *testing.T) {
		path := writePNG(t, t.TempDir(), 30, 20)

		info, err := svc.Analyze(path)
		require.NoError(t, err)

		assert.True(t, info.IsImage)
		assert.Equal(t, "image/png", info.Mime)
		assert.Equal(t, 30, info.Width)
		assert.Equal(t, 20, info.Height)
	})

	t.Run("non-image is not an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "doc.txt")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0644))

		info, err := svc.Analyze(path)
		require.NoError(t, err)
		assert.False(t, info.IsImage)
	})
}

func TestSecurityCheck(t *testing.T) {
	svc := NewNative()

	t.Run("clean image passes", func(t *testing.T) {
		path := writePNG(t, t.TempDir(), 10, 10)
		ok, err := svc.SecurityCheck(path, false)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("embedded script fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "evil.png")
		require.NoError(t, os.WriteFile(path, []byte("\x89PNG<SCRIPT>alert(1)</SCRIPT>"), 0644))

		ok, err := svc.SecurityCheck(path, false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("paranoid scans past the header region", func(t *testing.T) {
		payload := append(bytes.Repeat([]byte{0}, headerScanBytes+10), []byte("<?php evil()")...)
		path := filepath.Join(t.TempDir(), "tail.bin")
		require.NoError(t, os.WriteFile(path, payload, 0644))

		ok, err := svc.SecurityCheck(path, false)
		require.NoError(t, err)
		assert.True(t, ok, "header scan misses the tail")

		ok, err = svc.SecurityCheck(path, true)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestReencode(t *testing.T) {
	svc := NewNative()

	t.Run("rewrites image in place", func(t *testing.T) {
		path := writePNG(t, t.TempDir(), 10, 10)

		ok, err := svc.Reencode(path)
		require.NoError(t, err)
		assert.True(t, ok)

		// Result still decodes
		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		_, format, err := image.Decode(f)
		require.NoError(t, err)
		assert.Equal(t, "png", format)
	})

	t.Run("non-image cannot be re-encoded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "x.bin")
		require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))

		ok, err := svc.Reencode(path)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCreateThumbnail(t *testing.T) {
	svc := NewNative()

	t.Run("downscales within bounds preserving aspect", func(t *testing.T) {
		path := writePNG(t, t.TempDir(), 400, 200)

		d, err := svc.CreateThumbnail(path, 100, 100)
		require.NoError(t, err)
		require.NotNil(t, d)

		assert.Equal(t, 100, d.Width)
		assert.Equal(t, 50, d.Height)
		assert.Equal(t, "png", d.FormatType)
		assert.Equal(t, "image/png", d.MimeType)
		assert.Positive(t, d.ByteSize)

		info, err := os.Stat(d.SourcePath)
		require.NoError(t, err)
		assert.Equal(t, d.ByteSize, info.Size())
	})

	t.Run("non-image yields nil without error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "x.bin")
		require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))

		d, err := svc.CreateThumbnail(path, 100, 100)
		require.NoError(t, err)
		assert.Nil(t, d)
	})
}

func TestFit(t *testing.T) {
	w, h := fit(3000, 2000, 200, 200)
	assert.LessOrEqual(t, w, 200)
	assert.LessOrEqual(t, h, 200)
	assert.Equal(t, 200, w)

	w, h = fit(50, 50, 200, 200)
	assert.Equal(t, 50, w)
	assert.Equal(t, 50, h)
}
