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
	"math"
	"runtime"
)


//////////////////////////////////////////////////////////////////
// Simple pixel operations. Parallelized across CPUs
//////////////////////////////////////////////////////////////////

// A pixel function. Operates in-place. For parallelization across CPUs.
type PixelFunction func(data []float32, params interface{})


// Apply given pixel function to the data slice. Uses thread parallelism across all available CPUs. Operates in-place.
func applyPixelFunction(data []float32, pf PixelFunction, args interface{}) {
	// split into 8*NumCPU() work packages, limit parallelism to NumCPUS()
	numBatches:=8*runtime.NumCPU()
	batchSize :=(len(data)+numBatches-1)/(numBatches)
	if batchSize<1024 { batchSize=1024 }
	sem       :=make(chan bool, runtime.NumCPU())
	for lower:=0; lower<len(data); lower+=batchSize {
		upper:=lower+batchSize
		if upper>len(data) { upper=len(data) }

		sem <- true
		go func(data []float32) {
			pf(data, args)
			<-sem
		}(data[lower:upper])
	}

	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
}

// Apply given pixel function to all channels of the image. Operates in-place.
func (f* Image) ApplyPixelFunction(pf PixelFunction, args interface{}) {
	applyPixelFunction(f.Data, pf, args)
}

// Apply given pixel function to given channel of the image. Operates in-place.
func (f* Image) ApplyPixelFunction1Chan(chanID int, pf PixelFunction, args interface{}) {
	applyPixelFunction(f.Channel(chanID), pf, args)
}


type pfScaleOffsetArgs struct {
	Scale   float32
	Offset  float32
}

// Pixel function to apply a scale and an offset. 2nd parameter must be a pfScaleOffsetArgs. NaNs stay NaN. Operates in-place.
func pfScaleOffset(data []float32, params interface{}) {
	scale, offset :=params.(pfScaleOffsetArgs).Scale, params.(pfScaleOffsetArgs).Offset
	for i, d:=range data {
		data[i]=d*scale+offset
	}
}

// Applies given scale factor and offset to image. Operates in-place.
func (f* Image) ApplyScaleOffset(scale, offset float32) {
	f.ApplyPixelFunction(pfScaleOffset, pfScaleOffsetArgs{scale, offset})
}

// Applies given scale factor and offset to given channel of the image. Operates in-place.
func (f* Image) ApplyScaleOffsetToChannel(chanID int, scale, offset float32) {
	f.ApplyPixelFunction1Chan(chanID, pfScaleOffset, pfScaleOffsetArgs{scale, offset})
}


// Pixel function to replace NaNs with a value. 2nd parameter must be a float32. Operates in-place.
func pfFillNaN(data []float32, params interface{}) {
	v:=params.(float32)
	for i, d:=range data {
		if math.IsNaN(float64(d)) { data[i]=v }
	}
}

// Replaces NaNs with the given value, e.g. before export. Operates in-place.
func (f* Image) FillNaN(v float32) {
	f.ApplyPixelFunction(pfFillNaN, v)
}


// Pixel function to clamp values into [0,1]. NaNs stay NaN. Operates in-place.
func pfClamp01(data []float32, params interface{}) {
	for i, d:=range data {
		if d<0 { data[i]=0 } else if d>1 { data[i]=1 }
	}
}

// Clamps all values into [0,1]. Operates in-place.
func (f* Image) Clamp01() {
	f.ApplyPixelFunction(pfClamp01, nil)
}


// Returns minimum and maximum of the finite values in the image
func (f* Image) MinMax() (min, max float32) {
	min, max=float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, d:=range f.Data {
		if math.IsNaN(float64(d)) { continue }
		if d<min { min=d }
		if d>max { max=d }
	}
	return min, max
}
