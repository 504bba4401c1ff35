// Package imaging is the image-service collaborator: analysis,
// security checks, re-encoding and thumbnail creation over files on
// disk. The attachment pipeline only sees the Service interface.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Info is the analysis result for one file.
type Info struct {
	IsImage bool
	Mime    string
	Width   int
	Height  int

	// Orientation and HasEmbeddedThumbnail come from EXIF metadata.
	// Native leaves them zero; only EXIF-aware implementations of
	// Service fill them in.
	Orientation          int
	HasEmbeddedThumbnail bool
}

// Derived describes a generated thumbnail written next to its source.
type Derived struct {
	Width      int
	Height     int
	MimeType   string
	FormatType string
	ByteSize   int64
	SourcePath string // where the thumbnail bytes were written
}

type Service interface {
	Analyze(path string) (Info, error)
	// SecurityCheck scans for embedded active content. paranoid scans
	// the whole file instead of the header region.
	SecurityCheck(path string, paranoid bool) (bool, error)
	// Reencode decodes and rewrites the file in place, stripping
	// anything that is not pixel data. The mime type may change.
	Reencode(path string) (bool, error)
	// CreateThumbnail scales the image down to fit maxW x maxH and
	// writes it beside the source. Returns nil when the image cannot
	// be thumbnailed.
	CreateThumbnail(path string, maxW, maxH int) (*Derived, error)
}

// maxDecodedBytes guards against decompression bombs: a crafted header
// can claim 65535x65535 and make image.Decode allocate ~16GB.
const maxDecodedBytes = 128 << 20

// Native implements Service with the standard image codecs plus the
// bmp/webp decoders.
type Native struct{}

func NewNative() *Native { return &Native{} }

func (n *Native) Analyze(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open file for analysis: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		// Not an image; not an error for the caller.
		return Info{}, nil
	}
	return Info{
		IsImage: true,
		Mime:    "image/" + format,
		Width:   cfg.Width,
		Height:  cfg.Height,
	}, nil
}

// suspiciousPatterns are byte sequences that have no business inside
// pixel data and indicate an attempted polyglot upload.
var suspiciousPatterns = [][]byte{
	[]byte("<script"),
	[]byte("<?php"),
	[]byte("javascript:"),
	[]byte("vbscript:"),
	[]byte("<iframe"),
	[]byte("<object"),
	[]byte("<embed"),
}

const headerScanBytes = 64 << 10

func (n *Native) SecurityCheck(path string, paranoid bool) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open file for security check: %w", err)
	}
	defer f.Close()

	var data []byte
	if paranoid {
		data, err = io.ReadAll(f)
	} else {
		data = make([]byte, headerScanBytes)
		var read int
		read, err = io.ReadFull(f, data)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
		data = data[:read]
	}
	if err != nil {
		return false, fmt.Errorf("failed to read file for security check: %w", err)
	}

	lower := bytes.ToLower(data)
	for _, pattern := range suspiciousPatterns {
		if bytes.Contains(lower, pattern) {
			return false, nil
		}
	}
	return true, nil
}

func (n *Native) Reencode(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read file for re-encoding: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false, nil
	}
	if int64(cfg.Width)*int64(cfg.Height)*4 > maxDecodedBytes {
		return false, nil
	}

	// Decoding and re-encoding drops everything but pixel data.
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false, nil
	}

	var buf bytes.Buffer
	switch format {
	case "png", "gif", "bmp", "webp":
		// gif/bmp/webp come back out as png; the caller records the
		// changed mime type.
		if err := png.Encode(&buf, img); err != nil {
			return false, err
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return false, err
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return false, fmt.Errorf("failed to rewrite re-encoded file: %w", err)
	}
	return true, nil
}

func (n *Native) CreateThumbnail(path string, maxW, maxH int) (*Derived, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image for thumbnailing: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}
	if int64(cfg.Width)*int64(cfg.Height)*4 > maxDecodedBytes {
		return nil, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}

	w, h := fit(cfg.Width, cfg.Height, maxW, maxH)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	outFormat := "jpeg"
	mime := "image/jpeg"
	if format == "png" || format == "gif" {
		// Keep transparency-capable sources as png.
		outFormat = "png"
		mime = "image/png"
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	thumbPath := path + "_thumb"
	if err := os.WriteFile(thumbPath, buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write thumbnail: %w", err)
	}

	return &Derived{
		Width:      w,
		Height:     h,
		MimeType:   mime,
		FormatType: outFormat,
		ByteSize:   int64(buf.Len()),
		SourcePath: thumbPath,
	}, nil
}

// fit scales (w, h) down to the bounding box preserving aspect ratio.
// Images already inside the box come back unchanged.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	rw := float64(maxW) / float64(w)
	rh := float64(maxH) / float64(h)
	r := rw
	if rh < rw {
		r = rh
	}
	nw := int(float64(w) * r)
	nh := int(float64(h) * r)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
