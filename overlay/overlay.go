// Copyright 2026 SEQSENSE, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package overlay draws face search results onto decoded frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"gocv.io/x/gocv"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/recognition"
)

var (
	// ColorUnmatched is used for detected faces without any match in the collection.
	ColorUnmatched = color.RGBA{R: 255, A: 255}
	// ColorMatched is used for detected faces matched to a collection face.
	ColorMatched = color.RGBA{G: 255, A: 255}
)

const labelMargin = 5

// Compositor annotates an image in place.
// Composite must not modify rec. A nil rec leaves the image untouched.
type Compositor interface {
	Composite(img *image.RGBA, rec *recognition.Record) error
}

// Renderer is a Compositor drawing bounding boxes and match labels by OpenCV.
type Renderer struct {
	thickness int
	fontScale float64
}

type RendererOption func(*Renderer)

// WithThickness sets line thickness of the bounding boxes in pixels.
func WithThickness(t int) RendererOption {
	return func(r *Renderer) {
		r.thickness = t
	}
}

// WithFontScale sets scale of the label font.
func WithFontScale(s float64) RendererOption {
	return func(r *Renderer) {
		r.fontScale = s
	}
}

func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{
		thickness: 2,
		fontScale: 0.5,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Renderer) Composite(img *image.RGBA, rec *recognition.Record) error {
	if rec == nil || len(rec.FaceSearchOutputs) == 0 {
		return nil
	}
	bounds := img.Bounds()

	mat, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return fmt.Errorf("converting image: %w", err)
	}
	defer mat.Close()

	for _, out := range rec.FaceSearchOutputs {
		rect := faceRect(out.DetectedFace.BoundingBox, bounds)
		if rect.Empty() {
			continue
		}
		c, text := annotation(out)
		gocv.Rectangle(&mat, rect, c, r.thickness)
		if text == "" {
			continue
		}
		y := rect.Min.Y - labelMargin
		if y < labelMargin*3 {
			y = rect.Max.Y + labelMargin*3
		}
		gocv.PutText(&mat, text, image.Pt(rect.Min.X, y), gocv.FontHersheySimplex, r.fontScale, c, 1)
	}

	annotated, err := mat.ToImage()
	if err != nil {
		return fmt.Errorf("converting mat: %w", err)
	}
	draw.Draw(img, bounds, annotated, annotated.Bounds().Min, draw.Src)

	kva.Logger().Debugf("Frame annotated (fragment:%s faces:%d)", rec.FragmentNumber, len(rec.FaceSearchOutputs))
	return nil
}

// faceRect converts a ratio based bounding box into pixel coordinates
// clipped by the image bounds.
func faceRect(b recognition.BoundingBox, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(b.Left*w),
		bounds.Min.Y+int(b.Top*h),
		bounds.Min.X+int((b.Left+b.Width)*w),
		bounds.Min.Y+int((b.Top+b.Height)*h),
	)
	return rect.Intersect(bounds)
}

// annotation returns box colour and label of the face search output.
// The label is made from the most similar match.
func annotation(out recognition.FaceSearchOutput) (color.RGBA, string) {
	if len(out.MatchedFaces) == 0 {
		return ColorUnmatched, ""
	}
	best := out.MatchedFaces[0]
	for _, m := range out.MatchedFaces[1:] {
		if m.Similarity > best.Similarity {
			best = m
		}
	}
	name := best.Face.ExternalImageID
	if name == "" {
		name = best.Face.FaceID
	}
	return ColorMatched, fmt.Sprintf("%s %.1f%%", name, best.Similarity)
}
