// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package frame

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"github.com/mlnoga/panostitch/internal/status"
)

// Writes the image to file, choosing the format from the file extension: .jpg, .png, .tif or .hdr
func (f *Image) WriteFile(fileName string, gamma float32, quality int) error {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".jpg", ".jpeg":
		return f.WriteJPGToFile(fileName, 0, 1, gamma, quality)
	case ".png":
		return f.WritePNGToFile(fileName, 0, 1, gamma)
	case ".tif", ".tiff":
		return f.WriteTIFF16ToFile(fileName, 0, 1, gamma)
	case ".hdr":
		return f.WriteHDRToFile(fileName)
	}
	return errors.Wrapf(status.ErrNotSupported, "output format of %s", fileName)
}

func createBuffered(fileName string, write func(w io.Writer) error) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := write(writer); err != nil {
		return err
	}
	return writer.Flush()
}

// Maps a value into [0,1] using the given min, max and inverse gamma. NaNs become zero, else exports break
func exportValue(v, min, scale float32, gammaInv float64) float32 {
	v = (v - min) * scale
	if math.IsNaN(float64(v)) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if gammaInv != 1.0 {
		v = float32(math.Pow(float64(v), gammaInv))
	}
	return v
}

// Converts the first three channels to a 16-bit golang image. Single-channel images are exported as gray
func (f *Image) toRGBA64(min, max, gamma float32) *image.RGBA64 {
	width, height := f.Width(), f.Height()
	size := int(f.Pixels)
	off1, off2 := size, size*2
	if f.Channels() < 3 {
		off1, off2 = 0, 0
	}
	img := image.NewRGBA64(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r := exportValue(f.Data[yoffset+x], min, scale, gammaInv)
			g := exportValue(f.Data[yoffset+x+off1], min, scale, gammaInv)
			b := exportValue(f.Data[yoffset+x+off2], min, scale, gammaInv)
			c := color.RGBA64{uint16(r * 65535), uint16(g * 65535), uint16(b * 65535), 65535}
			img.SetRGBA64(x, y, c)
		}
	}
	return img
}

// Write the image to JPG, using the given min, max and gamma.
func (f *Image) WriteJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	return createBuffered(fileName, func(w io.Writer) error { return f.WriteJPG(w, min, max, gamma, quality) })
}

// Write the image to JPG, using the given min, max and gamma.
func (f *Image) WriteJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	return jpeg.Encode(writer, f.toRGBA64(min, max, gamma), &jpeg.Options{Quality: quality})
}

// Write the image to 16-bit PNG, using the given min, max and gamma.
func (f *Image) WritePNGToFile(fileName string, min, max, gamma float32) error {
	return createBuffered(fileName, func(w io.Writer) error { return png.Encode(w, f.toRGBA64(min, max, gamma)) })
}

// Write the image to 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteTIFF16ToFile(fileName string, min, max, gamma float32) error {
	return createBuffered(fileName, func(w io.Writer) error { return f.WriteTIFF16(w, min, max, gamma) })
}

// Write the image to 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteTIFF16(writer io.Writer, min, max, gamma float32) error {
	return tiff.Encode(writer, f.toRGBA64(min, max, gamma), &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
}
