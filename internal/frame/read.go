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
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"

	"github.com/mlnoga/panostitch/internal/status"
)

// Reads a PNG, JPEG or TIFF camera frame from file into a three-channel image.
// JPEG and TIFF capture timestamps are taken from EXIF, where present
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (*Image, error) {
	img, err:=readFile(fileName, false)
	if err!=nil { return nil, err }
	img.ID=id

	lExt:=strings.ToLower(path.Ext(fileName))
	if lExt==".jpg" || lExt==".jpeg" || lExt==".tif" || lExt==".tiff" {
		if ts, err:=readExifTimestamp(fileName); err!=nil {
			if logWriter!=nil { fmt.Fprintf(logWriter, "%d: no EXIF timestamp in %s: %v\n", id, fileName, err) }
		} else {
			img.Timestamp=ts
		}
	}
	return img, nil
}

// Reads an image with alpha channel from file, e.g. an overlay, into a four-channel image
func NewRGBAImageFromFile(fileName string) (*Image, error) {
	return readFile(fileName, true)
}

func readFile(fileName string, withAlpha bool) (*Image, error) {
	f, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer f.Close()

	goImg, _, err:=image.Decode(bufio.NewReader(f))
	if err!=nil {
		return nil, errors.Wrapf(status.ErrNotSupported, "decoding %s: %v", fileName, err)
	}
	img:=NewImageFromGoImage(goImg, withAlpha)
	img.FileName=fileName
	return img, nil
}

func readExifTimestamp(fileName string) (ts time.Time, err error) {
	f, err:=os.Open(fileName)
	if err!=nil { return ts, err }
	defer f.Close()

	ex, err:=exif.Decode(f)
	if err!=nil { return ts, err }
	return ex.DateTime()
}

// Converts a golang image into a planar image with values in [0,1]. Alpha is kept as fourth channel if requested, else dropped
func NewImageFromGoImage(goImg image.Image, withAlpha bool) *Image {
	b:=goImg.Bounds()
	width, height:=b.Dx(), b.Dy()
	channels:=3
	if withAlpha { channels=4 }
	img:=NewImageFromNaxisn([]int32{int32(width), int32(height), int32(channels)}, nil)
	size:=int(img.Pixels)

	const scale=1.0/65535.0
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			c:=color.NRGBA64Model.Convert(goImg.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			img.Data[yoffset+x       ]=float32(c.R)*scale
			img.Data[yoffset+x+size  ]=float32(c.G)*scale
			img.Data[yoffset+x+size*2]=float32(c.B)*scale
			if withAlpha {
				img.Data[yoffset+x+size*3]=float32(c.A)*scale
			}
		}
	}
	return img
}
