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



package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"

	nl "github.com/mlnoga/panostitch/internal"
	"github.com/mlnoga/panostitch/internal/config"
	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/pipeline"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/rest"
	"github.com/mlnoga/panostitch/internal/rig"
	"github.com/mlnoga/panostitch/internal/status"
)

const version = "0.1.0"

var totalMiBs=memory.TotalMemory()/1024/1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var cfgFile = flag.String("config", "rig.yaml", "load rig calibration and options from `file`")
var out     = flag.String("out", "pano%d.jpg", "save panoramas to `file`. %d is replaced with the frame number")
var log     = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var frames  = flag.Int("frames", 0, "number of frame sets to stitch, 0=all")

var threads = flag.Int("threads", 0, "maximum number of concurrent stages, 0=number of CPUs")
var memMiBs = flag.Int("memory", int(totalMiBs), "total MiB of memory to use, pyramids get 0.7x of it")

var width   = flag.Int("width", 0, "override panorama width, 0=keep config")
var blend   = flag.String("blend", "", "override blend mode, one of multiband or merge")
var expcomp = flag.String("expcomp", "", "override exposure compensation, one of off, gain, rgb or manual")
var seams   = flag.String("seams", "", "override seam overlay output `file`")
var grid    = flag.String("grid", "", "override tiling of cameras in one input file as `RxC`, e.g. 1x2")

var gamma   = flag.Float64("gamma", 1, "apply output gamma, 1: keep linear light data")
var quality = flag.Int("quality", 95, "JPEG output quality")

var addr    = flag.String("addr", ":8080", "listen address for serve")
var chroot  = flag.String("chroot", "", "chroot into `dir` before serving. Requires root")
var setuid  = flag.Int("setuid", -1, "change to user `id` before serving, -1=keep")

func main() {
	logWriter:=nl.LogWriter()
	start:=time.Now()
	flag.Usage=func(){
 	    fmt.Fprintf(os.Stdout, `Panostitch Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (stitch|tables|stages|serve|legal|version) (cam0.jpg ... camn.jpg)

Commands:
  stitch  Stitch input frames into panoramas. Files are grouped into sets of one per camera, in order,
          or one tiled file per set if the config has a grid
  tables  Build remap tables and show coverage and overlaps. Saves a coverage map if -out is a .png
  stages  List the available stages and their signatures
  serve   Serve the REST API and web interface
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
	    flag.PrintDefaults()
	}
	flag.Parse()

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log=="%auto" {
		if args[0]=="stitch" && *out!="" {
			*log=strings.Replace(strings.TrimSuffix(*out, filepath.Ext(*out)), "%d", "", 1)+".log"
		} else {
			*log=""
		}
	}
	if *log!="" {
		err:=nl.LogAlsoToFile(*log)
		if err!=nil { nl.LogFatalf("Unable to open logfile '%s'\n", *log) }
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	var err error
	switch args[0] {
	case "stitch":
		err=cmdStitch(args[1:], logWriter)

	case "tables":
		err=cmdTables(logWriter)

	case "stages":
		for _, d:=range ops.Descriptors() {
			fmt.Fprintf(logWriter, "%s\n    %s\n", d, d.Doc)
		}

	case "serve":
		err=cmdServe()

	case "legal":
		cmdLegal()

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f,0); err != nil {
			nl.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err!=nil {
		if status.IsFatal(err) {
			fmt.Fprintf(logWriter, "Fatal: cannot build pipeline: %s\n", err.Error())
		} else {
			fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		}
		nl.LogSync()
		os.Exit(exitCode(err))
	}
	nl.LogSync()
}

// Process exit status for an error: 2 if the pipeline could not be built, 1 otherwise
func exitCode(err error) int {
	switch {
	case err==nil:            return 0
	case status.IsFatal(err): return 2
	default:                  return 1
	}
}

// Loads the config file and applies command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err:=config.Load(*cfgFile)
	if err!=nil { return nil, err }
	o:=&cfg.Options
	if *width>0    { o.OutputWidth=*width }
	if *blend!=""  { o.Blend=*blend }
	if *expcomp!="" { o.ExpCompMode=*expcomp }
	if *seams!=""  { o.SeamOverlay=*seams }
	if *grid!="" {
		if _, err:=fmt.Sscanf(*grid, "%dx%d", &cfg.Grid.Rows, &cfg.Grid.Cols); err!=nil {
			return nil, errors.Wrapf(status.ErrInvalidParameters, "grid %s: %v", *grid, err)
		}
	}
	if *threads>0  { o.MaxThreads=*threads }
	if *memMiBs>0 && o.MemoryMB==0 { o.MemoryMB=*memMiBs }
	return cfg, cfg.Validate()
}

func printSystem(logWriter io.Writer) {
	fmt.Fprintf(logWriter, "Running on %s with %d physical and %d logical cores, AVX2 %v, %d MiB memory\n",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.AVX2(), totalMiBs)
}

// Stitches the given files, in sets of one per camera
func cmdStitch(patterns []string, logWriter io.Writer) error {
	cfg, err:=loadConfig()
	if err!=nil { return err }
	printSystem(logWriter)
	fmt.Fprintf(logWriter, "\nStitching with these settings:\n%s\n", cfg.AsYaml())

	files, err:=pipeline.GlobFiles(patterns, logWriter)
	if err!=nil { return err }

	c:=ops.NewContext(logWriter, cfg.Options.MaxThreads, cfg.Options.MemoryMB)
	fmt.Fprintf(logWriter, "Run %s using %d threads and %d MiB for pyramids\n", c.RunID, c.MaxThreads, c.BlendMemoryMB)
	p, err:=pipeline.New(cfg, c)
	if err!=nil { return err }

	ctx, cancel:=signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	perSet:=pipeline.FilesPerSet(cfg)
	sets:=len(files)/perSet
	if len(files)%perSet!=0 {
		fmt.Fprintf(logWriter, "Warning: ignoring %d trailing files, need %d per frame set\n", len(files)%perSet, perSet)
	}
	if *frames>0 && *frames<sets { sets=*frames }
	raw:=cfg.Cameras[0].Format!=""

	for i:=0; i<sets; i++ {
		set:=files[i*perSet:(i+1)*perSet]
		var res *pipeline.Result
		if raw {
			bufs:=make([][]byte, len(set))
			for j, f:=range set {
				if bufs[j], err=ioutil.ReadFile(f); err!=nil { return errors.Wrapf(err, "reading %s", f) }
			}
			res, err=p.ProcessRaw(ctx, bufs)
		} else {
			var imgs []*frame.Image
			if imgs, err=pipeline.LoadFrames(set, c.MaxThreads, logWriter); err!=nil { return err }
			res, err=p.Process(ctx, imgs)
		}
		if err!=nil { return err }
		if *out!="" {
			if err:=pipeline.SavePanorama(res.Panorama, *out, res.Frame, float32(*gamma), *quality, logWriter); err!=nil { return err }
		}
	}

	fmt.Fprintf(logWriter, "\nStage timings:\n")
	c.Timings.Report(logWriter)
	return nil
}

// Builds the remap tables once and reports coverage. Writes a coverage map if the output is a PNG file
func cmdTables(logWriter io.Writer) error {
	cfg, err:=loadConfig()
	if err!=nil { return err }
	r, err:=rig.New(cfg)
	if err!=nil { return err }
	for _, cam:=range r.Cameras {
		fmt.Fprintf(logWriter, "%s\n", cam)
	}
	pano, err:=rig.NewEquirect(cfg.Options.OutputWidth)
	if err!=nil { return err }
	t, err:=remap.Build(r, pano, cfg.Options.MaxThreads)
	if err!=nil { return err }
	t.Report(logWriter)

	if strings.ToLower(filepath.Ext(*out))!=".png" { return nil }
	fileName:=strings.Replace(*out, "%d", "0", 1)
	fmt.Fprintf(logWriter, "Writing coverage map to %s\n", fileName)
	return coverageMap(t).WritePNGToFile(fileName, 0, 1, 1)
}

// Renders the number of cameras covering each panorama pixel, scaled so full coverage by all cameras is white
func coverageMap(t *remap.Tables) *frame.Image {
	img:=frame.NewFilledImage(t.Pano.Width, t.Pano.Height, 1, 0)
	scale:=1/float32(len(t.Valid))
	for _, v:=range t.Valid {
		for i, ok:=range v.Mask {
			if ok { img.Data[i]+=scale }
		}
	}
	return img
}

func cmdServe() error {
	cfg, err:=loadConfig()
	if err!=nil { return err }
	if err:=rest.MakeSandbox(*chroot, *setuid); err!=nil { return err }
	s:=&rest.Server{
		Config:     cfg,
		MaxThreads: cfg.Options.MaxThreads,
		MemoryMB:   cfg.Options.MemoryMB,
		Gamma:      float32(*gamma),
		Quality:    *quality,
	}
	return rest.Serve(s, *addr)
}
