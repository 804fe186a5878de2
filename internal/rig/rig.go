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


// Package rig models the calibrated camera rig: per camera lens intrinsics and
// orientation, and the equirectangular panorama they are projected into.
package rig

import (
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/panostitch/internal/config"
	"github.com/mlnoga/panostitch/internal/status"
)

// Lens projection model
type Lens int

const (
	Rectilinear Lens = iota // Pinhole projection, r = f tan(theta)
	Fisheye                 // Equidistant projection, r = f theta
)

var lensNames=[]string{"rectilinear", "fisheye"}

func (l Lens) String() string { return lensNames[l] }

// Parses a lens name. The empty string selects rectilinear
func ParseLens(s string) (Lens, error) {
	if s=="" { return Rectilinear, nil }
	for i,n:=range lensNames {
		if n==s { return Lens(i), nil }
	}
	return 0, errors.Wrapf(status.ErrInvalidCalibration, "unknown lens %q", s)
}

// A calibrated camera
type Camera struct {
	Index     int
	Name      string
	Lens      Lens
	Width     int
	Height    int
	HFOV      float64          // Horizontal field of view in radians
	Focal     float64          // Focal length in pixels
	CX, CY    float64          // Principal point in pixel coordinates
	K1,K2,K3  float64          // Radial distortion coefficients
	Crop      image.Rectangle  // Valid source area
	toCamera *mat.Dense        // Rotation from world to camera frame
}

// A calibrated rig of cameras
type Rig struct {
	Cameras []*Camera
}

// Returns the rotation matrix for yaw (around the vertical axis, positive turns right),
// pitch (around the horizontal axis, positive tilts up) and roll (around the optical axis), in degrees.
// World frame has x right, y down, z forward
func RotationMatrix(yawDeg, pitchDeg, rollDeg float64) *mat.Dense {
	y, p, r:=yawDeg*math.Pi/180, pitchDeg*math.Pi/180, rollDeg*math.Pi/180
	ry:=mat.NewDense(3, 3, []float64{
		 math.Cos(y), 0, math.Sin(y),
		 0,           1, 0,
		-math.Sin(y), 0, math.Cos(y),
	})
	rp:=mat.NewDense(3, 3, []float64{
		1, 0,           0,
		0, math.Cos(p), -math.Sin(p),
		0, math.Sin(p),  math.Cos(p),
	})
	rr:=mat.NewDense(3, 3, []float64{
		math.Cos(r), -math.Sin(r), 0,
		math.Sin(r),  math.Cos(r), 0,
		0,            0,           1,
	})
	var m mat.Dense
	m.Mul(ry, rp)
	m.Mul(&m, rr)
	return &m
}

// Inverts a camera-to-world rotation. Singular, ill-conditioned or non-finite matrices are invalid calibration
func invertRotation(m mat.Matrix) (*mat.Dense, error) {
	r, c:=m.Dims()
	if r!=3 || c!=3 {
		return nil, errors.Wrapf(status.ErrInvalidCalibration, "rotation is %dx%d", r, c)
	}
	for i:=0; i<3; i++ {
		for j:=0; j<3; j++ {
			if v:=m.At(i,j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Wrap(status.ErrInvalidCalibration, "rotation has non-finite entries")
			}
		}
	}
	var inv mat.Dense
	if err:=inv.Inverse(m); err!=nil {
		return nil, errors.Wrapf(status.ErrInvalidCalibration, "rotation not invertible: %v", err)
	}
	return &inv, nil
}

// Builds the rig from the configuration. Fails with status.ErrInvalidCalibration on degenerate parameters
func New(cfg *config.Config) (*Rig, error) {
	var rigRot *mat.Dense
	if len(cfg.Rig.Matrix)>0 {
		if len(cfg.Rig.Matrix)!=9 {
			return nil, errors.Wrapf(status.ErrInvalidCalibration, "rig matrix needs 9 values, have %d", len(cfg.Rig.Matrix))
		}
		rigRot=mat.NewDense(3, 3, append([]float64(nil), cfg.Rig.Matrix...))
	} else {
		rigRot=RotationMatrix(cfg.Rig.Yaw, cfg.Rig.Pitch, cfg.Rig.Roll)
	}

	r:=&Rig{}
	for i, cc:=range cfg.Cameras {
		var rot mat.Dense
		rot.Mul(rigRot, RotationMatrix(cc.Yaw, cc.Pitch, cc.Roll))
		cam, err:=NewCamera(i, cc, &rot)
		if err!=nil { return nil, err }
		r.Cameras=append(r.Cameras, cam)
	}
	if len(r.Cameras)==0 {
		return nil, errors.Wrap(status.ErrInvalidCalibration, "rig without cameras")
	}
	return r, nil
}

// Creates a camera from its configuration and camera-to-world rotation
func NewCamera(index int, cc config.Camera, rot mat.Matrix) (*Camera, error) {
	lens, err:=ParseLens(cc.Lens)
	if err!=nil { return nil, errors.WithMessagef(err, "camera %d", index) }
	if cc.Width<=0 || cc.Height<=0 {
		return nil, errors.Wrapf(status.ErrInvalidCalibration, "camera %d: buffer size %dx%d", index, cc.Width, cc.Height)
	}
	maxFOV:=180.0
	if lens==Fisheye { maxFOV=360 }
	if !(cc.HFOV>0 && cc.HFOV<maxFOV) && !(lens==Fisheye && cc.HFOV==360) {
		return nil, errors.Wrapf(status.ErrInvalidCalibration, "camera %d: %s field of view %g degrees", index, lens, cc.HFOV)
	}
	for _, v:=range []float64{cc.K1, cc.K2, cc.K3, cc.CX, cc.CY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrapf(status.ErrInvalidCalibration, "camera %d: non-finite intrinsics", index)
		}
	}
	toCamera, err:=invertRotation(rot)
	if err!=nil { return nil, errors.WithMessagef(err, "camera %d", index) }

	hfov:=cc.HFOV*math.Pi/180
	c:=&Camera{
		Index:    index,
		Name:     cc.Name,
		Lens:     lens,
		Width:    cc.Width,
		Height:   cc.Height,
		HFOV:     hfov,
		CX:       float64(cc.Width-1)/2+cc.CX,
		CY:       float64(cc.Height-1)/2+cc.CY,
		K1:       cc.K1,
		K2:       cc.K2,
		K3:       cc.K3,
		Crop:     image.Rect(0, 0, cc.Width, cc.Height),
		toCamera: toCamera,
	}
	if lens==Rectilinear {
		c.Focal=float64(cc.Width)/2/math.Tan(hfov/2)
	} else {
		c.Focal=float64(cc.Width)/2/(hfov/2)
	}
	if len(cc.Crop)==4 {
		crop:=image.Rect(cc.Crop[0], cc.Crop[1], cc.Crop[2], cc.Crop[3]).Intersect(c.Crop)
		if crop.Empty() {
			return nil, errors.Wrapf(status.ErrInvalidCalibration, "camera %d: empty crop %v", index, cc.Crop)
		}
		c.Crop=crop
	}
	return c, nil
}

func (c *Camera) String() string {
	return fmt.Sprintf("camera %d %q: %s %dx%d hfov %.1f f %.1f", c.Index, c.Name, c.Lens, c.Width, c.Height, c.HFOV*180/math.Pi, c.Focal)
}

// Rotates a world direction into the camera frame
func (c *Camera) ToCamera(d r3.Vector) r3.Vector {
	m:=c.toCamera
	return r3.Vector{
		X: m.At(0,0)*d.X + m.At(0,1)*d.Y + m.At(0,2)*d.Z,
		Y: m.At(1,0)*d.X + m.At(1,1)*d.Y + m.At(1,2)*d.Z,
		Z: m.At(2,0)*d.X + m.At(2,1)*d.Y + m.At(2,2)*d.Z,
	}
}

// Projects a world direction to source pixel coordinates, with pixel centers at integers.
// Returns false if the direction is outside the lens field of view. Does not check image bounds
func (c *Camera) Project(d r3.Vector) (u, v float64, ok bool) {
	p:=c.ToCamera(d)
	var xn, yn, r float64
	switch c.Lens {
	case Rectilinear:
		if p.Z<=1e-9 { return 0, 0, false }
		xn, yn=p.X/p.Z, p.Y/p.Z
		r=math.Hypot(xn, yn)
	case Fisheye:
		norm:=p.Norm()
		if norm==0 { return 0, 0, false }
		theta:=math.Acos(math.Max(-1, math.Min(1, p.Z/norm)))
		if theta>c.HFOV/2 { return 0, 0, false }
		rho:=math.Hypot(p.X, p.Y)
		if rho==0 {
			return c.CX, c.CY, true
		}
		xn, yn=theta*p.X/rho, theta*p.Y/rho
		r=theta
	}
	r2:=r*r
	dist:=1 + c.K1*r2 + c.K2*r2*r2 + c.K3*r2*r2*r2
	return c.CX + c.Focal*xn*dist, c.CY + c.Focal*yn*dist, true
}

// Returns true if the source coordinate lies within the valid area, including bilinear neighbours
func (c *Camera) Contains(u, v float64) bool {
	return u>=float64(c.Crop.Min.X) && u<=float64(c.Crop.Max.X-1) &&
	       v>=float64(c.Crop.Min.Y) && v<=float64(c.Crop.Max.Y-1)
}


// An equirectangular panorama of given width. Height is half the width
type Equirect struct {
	Width  int
	Height int
}

// Creates a panorama geometry. Width must be even and positive
func NewEquirect(width int) (Equirect, error) {
	if width<2 || width%2!=0 {
		return Equirect{}, errors.Wrapf(status.ErrInvalidCalibration, "panorama width %d", width)
	}
	return Equirect{Width: width, Height: width/2}, nil
}

// Returns longitude and latitude in radians of the pixel center at x, y
func (e Equirect) LonLat(x, y int) (lon, lat float64) {
	lon=(float64(x)+0.5)/float64(e.Width)*2*math.Pi - math.Pi
	lat=math.Pi/2 - (float64(y)+0.5)/float64(e.Height)*math.Pi
	return lon, lat
}

// Returns the unit world direction of the pixel center at x, y
func (e Equirect) Direction(x, y int) r3.Vector {
	lon, lat:=e.LonLat(x, y)
	return r3.Vector{
		X:  math.Cos(lat)*math.Sin(lon),
		Y: -math.Sin(lat),
		Z:  math.Cos(lat)*math.Cos(lon),
	}
}
