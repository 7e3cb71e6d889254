// Package compare implements ImageComparator: a pixel-diff pure function
// wrapped with a hard timeout, plus the match/differ/missing-baseline
// outcome mapping of spec.md §4.7. The pixel-diff algorithm itself is
// treated as a pure external collaborator by the rest of the system
// (spec.md §1); this package's Compare function is the concrete
// implementation of that collaborator's contract, adapted from the
// teacher's internal/diff package (pixel ratio + perceptual hash).
package compare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"
)

// Options mirrors spec.md §4.7's {threshold, outputDiffMask}.
type Options struct {
	Threshold      float64
	OutputDiffMask bool
}

// Result is the {match, reason?, diffPercentage?} contract of spec.md §6.
type Result struct {
	Match          bool
	Reason         string
	DiffPercentage float64
	HasDiff        bool
}

const hardTimeout = 30 * time.Second

// ErrBaseImageUnreadable is returned (wrapped) when the baseline PNG exists
// on disk but cannot be decoded, distinguishing "baseline corrupted" from a
// generic comparator failure per spec.md §4.7.
var ErrBaseImageUnreadable = errors.New("could not load base image")

func openPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaseImageUnreadable, err)
	}
	return img, nil
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func pixelDiff(a, b image.Image, threshold float64) (Result, image.Image, error) {
	ab := a.Bounds()
	bb := b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		b = resize.Resize(uint(ab.Dx()), uint(ab.Dy()), b, resize.NearestNeighbor)
		bb = b.Bounds()
	}
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return Result{}, nil, errors.New("size mismatch after resize")
	}

	w, h := ab.Dx(), ab.Dy()
	diffImg := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(diffImg, diffImg.Bounds(), a, ab.Min, draw.Src)

	var diffCount int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ar, ag, abl, aa := a.At(x, y).RGBA()
			br, bg, bbl, ba := b.At(x, y).RGBA()
			if ar != br || ag != bg || abl != bbl || aa != ba {
				diffCount++
				diffImg.Set(x, y, color.RGBA{255, 0, 255, 255})
			}
		}
	}
	total := w * h
	ratio := 0.0
	if total > 0 {
		ratio = float64(diffCount) / float64(total)
	}

	return Result{
		Match:          ratio <= threshold,
		DiffPercentage: ratio * 100,
	}, diffImg, nil
}

// perceptualHammingDistance is carried from the teacher as a secondary
// signal available to callers that want it (e.g. for reporting), though
// spec.md §4.7's pass/fail decision is governed by the pixel ratio alone.
func perceptualHammingDistance(a, b image.Image) (int, error) {
	aSmall := resize.Resize(256, 0, a, resize.Lanczos3)
	bSmall := resize.Resize(256, 0, b, resize.Lanczos3)

	ha, err := goimagehash.PerceptionHash(aSmall)
	if err != nil {
		return 0, err
	}
	hb, err := goimagehash.PerceptionHash(bSmall)
	if err != nil {
		return 0, err
	}
	return ha.Distance(hb)
}

func compareNow(expectedPath, actualPath, diffPath string, opts Options) (Result, error) {
	baseImg, err := openPNG(expectedPath)
	if err != nil {
		return Result{}, err
	}

	actualBytes, err := os.ReadFile(actualPath)
	if err != nil {
		return Result{}, err
	}
	img, err := png.Decode(bytes.NewReader(actualBytes))
	if err != nil {
		return Result{}, fmt.Errorf("could not decode actual image: %w", err)
	}

	res, diffImg, err := pixelDiff(baseImg, img, math.Max(0, opts.Threshold))
	if err != nil {
		return Result{}, err
	}

	if !res.Match && opts.OutputDiffMask {
		if err := savePNG(diffPath, diffImg); err == nil {
			res.HasDiff = true
		}
	}

	return res, nil
}

// Compare runs the pure comparison with a hard 30s timeout, per spec.md
// §4.7. On timeout it returns a context.DeadlineExceeded-wrapping error so
// callers can map it to "image comparison failed".
func Compare(ctx context.Context, expectedPath, actualPath, diffPath string, opts Options) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, hardTimeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := compareNow(expectedPath, actualPath, diffPath, opts)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("image comparison timed out: %w", ctx.Err())
	}
}
