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



// Package rest serves the stitching pipeline over HTTP. Requests stream the pipeline log back as plain text
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	nl "github.com/mlnoga/panostitch/internal"
	"github.com/mlnoga/panostitch/internal/config"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/pipeline"
	"github.com/mlnoga/panostitch/internal/status"
	"github.com/mlnoga/panostitch/web"
)

// Server state shared by all requests. Each stitch request builds its own pipeline from Config
type Server struct {
	Config     *config.Config
	MaxThreads int
	MemoryMB   int
	Gamma      float32
	Quality    int
}

// Creates the router with all API routes
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", getIndex)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",   getPing)
			v1.GET ("/stages", getStages)
			v1.GET ("/config", s.getConfig)
			v1.POST("/stitch", s.postStitch)
		}
	}
	return r
}

// Listens and serves on the given address, e.g. ":8080"
func Serve(s *Server, addr string) error {
	nl.LogPrintf("Serving on %s\n", addr)
	if err:=NewRouter(s).Run(addr); err!=nil {
		return errors.Wrapf(err, "serving on %s", addr)
	}
	return nil
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func getStages(c *gin.Context) {
	c.JSON(http.StatusOK, ops.Descriptors())
}

func (s *Server) getConfig(c *gin.Context) {
	c.String(http.StatusOK, s.Config.AsYaml())
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postStitchArgs struct {
	FilePatterns []string  `json:"filePatterns" binding:"required"`
	Output        string   `json:"output"       binding:"required"`
	Frames        int      `json:"frames"`      // Number of frame sets to stitch, 0 for all
}

func (s *Server) postStitch(c *gin.Context) {
	var args postStitchArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)
	logWriter:=io.MultiWriter(c.Writer, nl.LogWriter())

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}
	if err:=s.stitch(c.Request.Context(), args, logWriter); err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	c.Writer.Flush()
}

// Stitches the globbed files in groups of one frame per camera, or one tiled frame per set if a grid is configured
func (s *Server) stitch(ctx context.Context, args postStitchArgs, logWriter io.Writer) error {
	files, err:=pipeline.GlobFiles(args.FilePatterns, logWriter)
	if err!=nil { return err }

	oc:=ops.NewContext(logWriter, s.MaxThreads, s.MemoryMB)
	p, err:=pipeline.New(s.Config, oc)
	if err!=nil { return err }

	perSet:=pipeline.FilesPerSet(s.Config)
	sets:=len(files)/perSet
	if args.Frames>0 && args.Frames<sets { sets=args.Frames }
	if sets==0 {
		return errors.Wrapf(status.ErrInvalidParameters, "%d files for %d files per frame set", len(files), perSet)
	}
	for i:=0; i<sets; i++ {
		frames, err:=pipeline.LoadFrames(files[i*perSet:(i+1)*perSet], s.MaxThreads, logWriter)
		if err!=nil { return err }
		res, err:=p.Process(ctx, frames)
		if err!=nil { return err }
		if err:=pipeline.SavePanorama(res.Panorama, args.Output, res.Frame, s.Gamma, s.Quality, logWriter); err!=nil { return err }
	}
	oc.Timings.Report(logWriter)
	return nil
}
