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


package colorconv

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/status"
)

func near(a, b, eps float32) bool {
	return float32(math.Abs(float64(a-b)))<=eps
}

func TestDecodeRGBFormats(t *testing.T) {
	tests:=[]struct{
		format string
		buf    []byte
		expect []float32 // planar, two pixels
	}{
		{"RGB",  []byte{255,0,0, 0,255,51}, []float32{1,0, 0,1, 0,0.2}},
		{"RGBX", []byte{255,0,0,9, 0,255,51,9}, []float32{1,0, 0,1, 0,0.2}},
		{"RGBA", []byte{255,0,0,255, 0,255,51,0}, []float32{1,0, 0,1, 0,0.2, 1,0}},
		{"RGB4", []byte{0xff,0xff,0,0,0,0, 0,0,0xff,0xff,0,0x80}, []float32{1,0, 0,1, 0,0x8000/65535.0}},
	}
	for _, test:=range tests {
		pf, err:=frame.LookupPixelFormat(test.format)
		if err!=nil { t.Fatal(err) }
		img, err:=Decode(test.buf, pf, 2, 1, 2)
		if err!=nil { t.Errorf("%s: %v", test.format, err); continue }
		if len(img.Data)!=len(test.expect) { t.Errorf("%s: got %d values", test.format, len(img.Data)); continue }
		for i, v:=range img.Data {
			if !near(v, test.expect[i], 1e-4) { t.Errorf("%s: data[%d]=%f, expected %f", test.format, i, v, test.expect[i]) }
		}
	}
}

func TestDecodeYUV(t *testing.T) {
	// mid gray with neutral chroma decodes to gray in all YUV formats
	gray8 :=[]byte{128,128,128,128}
	gray16:=[]byte{0,0x80, 0,0x80, 0,0x80, 0,0x80}
	tests:=[]struct{
		format string
		buf    []byte
	}{
		{"UYVY", gray8}, {"YUYV", gray8}, {"Y210", gray16}, {"Y212", gray16}, {"Y216", gray16},
	}
	for _, test:=range tests {
		pf, _:=frame.LookupPixelFormat(test.format)
		img, err:=Decode(test.buf, pf, 2, 1, 1)
		if err!=nil { t.Errorf("%s: %v", test.format, err); continue }
		for i, v:=range img.Data {
			if !near(v, 0.5, 0.01) { t.Errorf("%s: data[%d]=%f, expected 0.5", test.format, i, v) }
		}
	}

	// pure red in BT.709: Y=0.2126, U=-0.1146, V=0.5
	r, g, b:=YUVToRGB(0.2126, -0.1146, 0.5)
	if !near(r, 1, 0.01) || !near(g, 0, 0.01) || !near(b, 0, 0.01) {
		t.Errorf("red decoded to %f %f %f", r, g, b)
	}
}

func TestDecodeErrors(t *testing.T) {
	pf, _:=frame.LookupPixelFormat("YUYV")
	if _, err:=Decode([]byte{1,2}, pf, 2, 1, 1); !errors.Is(err, status.ErrInvalidParameters) {
		t.Errorf("short buffer: %v", err)
	}
	if _, err:=Decode(make([]byte, 6), pf, 3, 1, 1); !errors.Is(err, status.ErrInvalidParameters) {
		t.Errorf("odd width: %v", err)
	}
	if _, err:=Decode(nil, nil, 2, 1, 1); !errors.Is(err, status.ErrNotSupported) {
		t.Errorf("nil format: %v", err)
	}
}

func TestLuma(t *testing.T) {
	nan:=float32(math.NaN())
	img:=frame.NewImageFromNaxisn([]int32{3,1,3}, []float32{
		1, 0, nan,
		1, 0, 0.5,
		1, 0, 0.5,
	})
	for _, mode:=range []LumaMode{LumaRec709, LumaLab} {
		l:=LumaImage(img, mode, 2)
		if l.Channels()!=1 { t.Errorf("%s: %d channels", mode, l.Channels()) }
		if !near(l.Data[0], 1, 1e-3) { t.Errorf("%s: white luma %f", mode, l.Data[0]) }
		if !near(l.Data[1], 0, 1e-3) { t.Errorf("%s: black luma %f", mode, l.Data[1]) }
		if !math.IsNaN(float64(l.Data[2])) { t.Errorf("%s: invalid pixel luma %f", mode, l.Data[2]) }
	}

	if m, err:=ParseLumaMode("lab"); err!=nil || m!=LumaLab { t.Errorf("lab: %v %v", m, err) }
	if _, err:=ParseLumaMode("hsl"); !errors.Is(err, status.ErrNotSupported) { t.Errorf("hsl: %v", err) }
}
