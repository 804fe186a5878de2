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


package expcomp

import (
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/mlnoga/panostitch/internal/status"
)

// Keeps the system non-singular for cameras without any overlap
const lambda = 1e-3

// Per camera gains and offsets. With one channel, the same gain applies to all color channels
type GainVector struct {
	Channels int
	Gain     []float32  // Channel-major: Gain[c*N+i] is the gain of camera i in channel c
	Offset   []float32
	Frame    int        // Frame the gains were solved for
	Stale    bool       // Re-published on a frame without solving
}

// Creates unity gains and zero offsets for n cameras
func NewUnityGains(n, channels int) *GainVector {
	gv:=&GainVector{Channels: channels, Gain: make([]float32, n*channels), Offset: make([]float32, n*channels)}
	for i:=range gv.Gain { gv.Gain[i]=1 }
	return gv
}

// Number of cameras
func (gv *GainVector) N() int { return len(gv.Gain)/gv.Channels }

// Returns gain and offset of camera i for color channel c
func (gv *GainVector) For(i, c int) (gain, offset float32) {
	if gv.Channels==1 { c=0 }
	k:=c*gv.N()+i
	return gv.Gain[k], gv.Offset[k]
}

// Returns a copy marked as stale for the given frame
func (gv *GainVector) AsStale() *GainVector {
	c:=*gv
	c.Gain, c.Offset = append([]float32(nil), gv.Gain...), append([]float32(nil), gv.Offset...)
	c.Stale=true
	return &c
}

func (gv *GainVector) String() string {
	s:=""
	for c:=0; c<gv.Channels; c++ {
		if c>0 { s+="; " }
		for i:=0; i<gv.N(); i++ {
			if i>0 { s+=" " }
			g, _:=gv.For(i, c)
			s+=fmt.Sprintf("%.4f", g)
		}
	}
	return s
}

// Solves for gains minimizing
//   e = sum_ij N_ij [ beta (g_i I_ij - g_j I_ji)^2 + alpha (1-g_i)^2 ] + lambda sum_i (1-g_i)^2
// per channel. Alpha penalizes deviation from unity, beta weights overlap consistency.
// Falls back to an iterative minimizer if the normal equations cannot be factorized,
// and to unity gain for cameras whose solution is not finite and positive. Fallbacks are logged
func Solve(gm *GainMatrix, alpha, beta float64, logWriter io.Writer) *GainVector {
	gv:=NewUnityGains(gm.N, gm.Channels())
	for c:=0; c<gm.Channels(); c++ {
		g, err:=solveChannel(gm.Intensity[c], gm.Count, alpha, beta)
		if err!=nil {
			fmt.Fprintf(logWriter, "warning: channel %d: %v; using unity gains\n", c, err)
			continue
		}
		for i, v:=range g {
			if math.IsNaN(v) || math.IsInf(v, 0) || v<=0 {
				fmt.Fprintf(logWriter, "%d: warning: channel %d gain %g invalid; using unity gain\n", i, c, v)
				continue
			}
			gv.Gain[c*gm.N+i]=float32(v)
		}
	}
	return gv
}

// Builds the symmetric positive definite normal equations of the gain energy
func normalEquations(I, N *mat.Dense, alpha, beta float64) (*mat.SymDense, *mat.VecDense) {
	n, _:=N.Dims()
	A:=mat.NewSymDense(n, nil)
	b:=mat.NewVecDense(n, nil)
	for i:=0; i<n; i++ {
		A.SetSym(i, i, lambda)
		b.SetVec(i, lambda)
	}
	for i:=0; i<n; i++ {
		for j:=0; j<n; j++ {
			if i==j { continue }
			nij:=N.At(i,j)
			if nij==0 { continue }
			iij, iji:=I.At(i,j), I.At(j,i)
			A.SetSym(i, i, A.At(i,i) + alpha*nij + 2*beta*nij*iij*iij)
			if i<j {
				A.SetSym(i, j, A.At(i,j) - 2*beta*nij*iij*iji)
			}
			b.SetVec(i, b.AtVec(i) + alpha*nij)
		}
	}
	return A, b
}

// Evaluates the gain energy and its gradient
func energy(I, N *mat.Dense, alpha, beta float64, g, grad []float64) float64 {
	n:=len(g)
	e:=0.0
	for i:=range grad { grad[i]=0 }
	for i:=0; i<n; i++ {
		e+=lambda*(1-g[i])*(1-g[i])
		grad[i]-=2*lambda*(1-g[i])
		for j:=0; j<n; j++ {
			nij:=N.At(i,j)
			if i==j || nij==0 { continue }
			iij, iji:=I.At(i,j), I.At(j,i)
			d:=g[i]*iij - g[j]*iji
			e+=nij*(beta*d*d + alpha*(1-g[i])*(1-g[i]))
			grad[i]+=nij*(2*beta*d*iij - 2*alpha*(1-g[i]))
			grad[j]-=nij*2*beta*d*iji
		}
	}
	return e
}

func solveChannel(I, N *mat.Dense, alpha, beta float64) ([]float64, error) {
	A, b:=normalEquations(I, N, alpha, beta)

	var chol mat.Cholesky
	if chol.Factorize(A) {
		var x mat.VecDense
		if err:=chol.SolveVecTo(&x, b); err==nil {
			return x.RawVector().Data, nil
		}
	}

	return minimize(I, N, alpha, beta)
}

// Minimizes the gain energy iteratively, starting from unity
func minimize(I, N *mat.Dense, alpha, beta float64) ([]float64, error) {
	n, _:=N.Dims()
	x0:=make([]float64, n)
	for i:=range x0 { x0[i]=1 }
	scratch:=make([]float64, n)
	problem:=optimize.Problem{
		Func: func(g []float64) float64 { return energy(I, N, alpha, beta, g, scratch) },
		Grad: func(grad, g []float64) { energy(I, N, alpha, beta, g, grad) },
	}
	result, err:=optimize.Minimize(problem, x0, nil, &optimize.LBFGS{})
	if err!=nil {
		return nil, errors.Wrapf(status.ErrNotConverged, "gain solve: %v", err)
	}
	return result.X, nil
}
