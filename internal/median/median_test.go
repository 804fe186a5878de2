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



package median

import (
	"math"
	"testing"
)

func TestMedianFloat32Slice9(t *testing.T) {
	tests:=[][]float32{
		{1,2,3,4,5,6,7,8,9},
		{9,8,7,6,5,4,3,2,1},
		{5,1,9,2,8,3,7,4,6},
		{5,5,5,1,1,9,9,5,5},
	}
	for i, test:=range tests {
		if m:=MedianFloat32Slice9(append([]float32(nil), test...)); m!=5 {
			t.Errorf("test %d: got %f expect 5", i, m)
		}
	}
}

func TestMedianFilter3x3(t *testing.T) {
	nan:=float32(math.NaN())
	// a single hot pixel in the middle is removed, a NaN pixel stays NaN
	data:=[]float32{
		1, 1, 1, 1,
		1, 9, 1, nan,
		1, 1, 2, 1,
		1, 1, 1, 1,
	}
	output:=make([]float32, len(data))
	MedianFilter3x3(output, data, 4)

	if output[5]!=1 { t.Errorf("hot pixel got %f expect 1", output[5]) }
	if output[10]!=1 { t.Errorf("pixel (2,2) got %f expect 1", output[10]) }
	if !math.IsNaN(float64(output[7])) { t.Errorf("NaN pixel got %f", output[7]) }
	// borders are copied
	for _, i:=range []int{0,1,2,3,4,8,12,13,14,15} {
		if output[i]!=data[i] { t.Errorf("border %d got %f expect %f", i, output[i], data[i]) }
	}
	// (2,1) has one NaN neighbour: median of 1,1,1,9,1,1,2,1 averages the middle pair
	if output[6]!=1 { t.Errorf("pixel (2,1) got %f expect 1", output[6]) }
}
