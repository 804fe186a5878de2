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


// Package pipeline registers the stitching stages and wires them into a per frame stage graph.
package pipeline

import (
	"github.com/mlnoga/panostitch/internal/blend"
	"github.com/mlnoga/panostitch/internal/expcomp"
	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/rig"
	"github.com/mlnoga/panostitch/internal/seam"
)

// A headerless camera buffer in a raw pixel format
type RawFrame struct {
	Format *frame.PixelFormat
	Width  int
	Height int
	Buf    []byte
}

// Seam artifacts carry the finder which holds the per pair state across frames
type SeamDecisions struct {
	Finder    *seam.Finder
	Decisions []seam.Decision
}

type SeamCosts struct {
	Finder *seam.Finder
	Fields []*seam.CostField
}

type SeamAccumulated struct {
	Finder *seam.Finder
	Accs   []*seam.Accumulated
}

type SeamPaths struct {
	Finder *seam.Finder
	Paths  []*seam.Path
}

// Typed artifact keys, instantiated with the bound artifact names
var (
	rigKey        =ops.NewKey[*rig.Rig]
	rawKey        =ops.NewKey[[]RawFrame]
	imagesKey     =ops.NewKey[[]*frame.Image]
	imageKey      =ops.NewKey[*frame.Image]
	tablesKey     =ops.NewKey[*remap.Tables]
	gainMatrixKey =ops.NewKey[*expcomp.GainMatrix]
	gainsKey      =ops.NewKey[*expcomp.GainVector]
	decisionsKey  =ops.NewKey[*SeamDecisions]
	costsKey      =ops.NewKey[*SeamCosts]
	accumKey      =ops.NewKey[*SeamAccumulated]
	pathsKey      =ops.NewKey[*SeamPaths]
	weightsKey    =ops.NewKey[*seam.WeightMap]
	pyramidKey    =ops.NewKey[*blend.Pyramids]
	blendedKey    =ops.NewKey[*blend.Blended]
)

// Names of the artifacts a standard pipeline passes between stages
const (
	ArtRig          = "rig"
	ArtRaw          = "raw"
	ArtFrames       = "frames"
	ArtTables       = "tables"
	ArtWarped       = "warped"
	ArtWarpedLumas  = "warped_lumas"
	ArtGainMatrix   = "gain_matrix"
	ArtGains        = "gains"
	ArtCorrected    = "corrected"
	ArtLumas        = "lumas"
	ArtDecisions    = "seam_decisions"
	ArtCosts        = "seam_costs"
	ArtAccumulated  = "seam_accumulated"
	ArtPaths        = "seam_paths"
	ArtWeights      = "seam_weights"
	ArtPyramid      = "pyramid"
	ArtBlended      = "pyramid_blended"
	ArtStitched     = "stitched"
	ArtOverlay      = "overlay"
	ArtSeamOverlay  = "seam_overlay"
	ArtPanorama     = "panorama"
)
