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



package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/panostitch/internal/config"
	"github.com/mlnoga/panostitch/internal/frame"
)

const twoCameras=`
cameras:
  - name: left
    lens: rectilinear
    hfov: 90
    yaw: -22.5
    width: 64
    height: 48
  - name: right
    lens: rectilinear
    hfov: 90
    yaw: 22.5
    width: 64
    height: 48
options:
  outputwidth: 256
  maxthreads: 2
`

func testServer(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg, err:=config.Parse([]byte(twoCameras))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return NewRouter(&Server{Config: cfg, MaxThreads: 2, MemoryMB: 64, Gamma: 1, Quality: 95})
}

func do(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var b bytes.Buffer
	if body!=nil { json.NewEncoder(&b).Encode(body) }
	req:=httptest.NewRequest(method, path, &b)
	req.Header.Set("Content-Type", "application/json")
	w:=httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	w:=do(testServer(t), http.MethodGet, "/api/v1/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestIndex(t *testing.T) {
	w:=do(testServer(t), http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/stitch")
}

func TestStages(t *testing.T) {
	w:=do(testServer(t), http.MethodGet, "/api/v1/stages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stages []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stages))
	names:=map[string]bool{}
	for _, s:=range stages { names[s.Name]=true }
	for _, want:=range []string{"remap", "warp", "seamfind_path_trace", "blend_pyramid_build", "alpha_blend"} {
		assert.True(t, names[want], want)
	}
}

func TestConfig(t *testing.T) {
	w:=do(testServer(t), http.MethodGet, "/api/v1/config", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "outputwidth: 256")
}

func TestStitchBadRequest(t *testing.T) {
	w:=do(testServer(t), http.MethodPost, "/api/v1/stitch", map[string]interface{}{"output": "x.png"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStitchNoFiles(t *testing.T) {
	dir:=t.TempDir()
	w:=do(testServer(t), http.MethodPost, "/api/v1/stitch", map[string]interface{}{
		"filePatterns": []string{filepath.Join(dir, "*.png")},
		"output":       filepath.Join(dir, "pano.png"),
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "error: ")
}

func TestStitch(t *testing.T) {
	dir:=t.TempDir()
	for _, name:=range []string{"cam0.png", "cam1.png"} {
		img:=frame.NewFilledImage(64, 48, 3, 0.5)
		require.NoError(t, img.WritePNGToFile(filepath.Join(dir, name), 0, 1, 1))
	}
	w:=do(testServer(t), http.MethodPost, "/api/v1/stitch", map[string]interface{}{
		"filePatterns": []string{filepath.Join(dir, "cam*.png")},
		"output":       filepath.Join(dir, "pano%d.png"),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Found 2 files")
	assert.NotContains(t, w.Body.String(), "error: ")

	pano, err:=frame.NewImageFromFile(filepath.Join(dir, "pano0.png"), 0, nil)
	require.NoError(t, err)
	assert.NoError(t, pano.Check(256, 128, 3))
	_, err=os.Stat(filepath.Join(dir, "pano1.png"))
	assert.True(t, os.IsNotExist(err))
}
