package watermark

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"

	_ "image/gif"
	_ "image/png"

	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lensfolio/backend/internal/models"
)

const (
	previewQuality = 85
	defaultText    = "PREVIEW"

	// Stamp grid spacing in pixels. Rows are staggered so crops cannot
	// dodge the overlay.
	stampStepX = 220
	stampStepY = 140
)

// AssetStore is the slice of object storage the renderer needs: reading
// originals and writing derivatives.
type AssetStore interface {
	Stream(ctx context.Context, key string) (io.ReadCloser, int64, string, error)
	Save(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// Renderer produces scaled, text-stamped preview derivatives of gallery
// originals. Derivatives live under the previews/ prefix next to their
// source object.
type Renderer struct {
	store AssetStore
}

// NewRenderer constructs a Renderer reading and writing through store.
func NewRenderer(store AssetStore) *Renderer {
	return &Renderer{store: store}
}

// Render builds the preview for file under the provided settings and returns
// the storage key of the derivative.
func (r *Renderer) Render(ctx context.Context, file models.FileRecord, settings models.WatermarkSettings) (string, error) {
	body, _, _, err := r.store.Stream(ctx, file.StorageKey)
	if err != nil {
		return "", fmt.Errorf("stream original %s: %w", file.StorageKey, err)
	}
	defer body.Close()

	img, _, err := image.Decode(body)
	if err != nil {
		return "", fmt.Errorf("decode original %s: %w", file.StorageKey, err)
	}

	if settings.MaxDimension > 0 {
		img = resize.Thumbnail(uint(settings.MaxDimension), uint(settings.MaxDimension), img, resize.Lanczos3)
	}

	stamped := stamp(img, settings.Text)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, stamped, &jpeg.Options{Quality: previewQuality}); err != nil {
		return "", fmt.Errorf("encode preview for %s: %w", file.StorageKey, err)
	}

	key := PreviewKey(file)
	if _, err := r.store.Save(ctx, key, "image/jpeg", &buf); err != nil {
		return "", fmt.Errorf("store preview %s: %w", key, err)
	}

	return key, nil
}

// PreviewKey returns the storage key a file's preview derivative is kept
// under.
func PreviewKey(file models.FileRecord) string {
	return "previews/" + file.StorageKey
}

// stamp tiles the watermark text across the image in translucent white.
func stamp(img image.Image, text string) *image.RGBA {
	if text == "" {
		text = defaultText
	}

	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 96}),
		Face: basicfont.Face7x13,
	}

	row := 0
	for y := bounds.Min.Y + stampStepY/2; y < bounds.Max.Y; y += stampStepY {
		offset := 0
		if row%2 == 1 {
			offset = stampStepX / 2
		}
		for x := bounds.Min.X + offset; x < bounds.Max.X; x += stampStepX {
			drawer.Dot = fixed.P(x, y)
			drawer.DrawString(text)
		}
		row++
	}

	return canvas
}
