package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"fluxserve/core"
	"fluxserve/db"
	"fluxserve/fluxruntime"
)

// GenerateRequest is the body of POST /api/generate. Omitted fields take
// the server defaults.
type GenerateRequest struct {
	ModelDir string   `json:"model_dir"`
	Prompt   string   `json:"prompt"`
	Width    *int     `json:"width"`
	Height   *int     `json:"height"`
	Steps    *int     `json:"steps"`
	Guidance *float64 `json:"guidance"`
	Seed     *int64   `json:"seed"`
	UseMmap  *bool    `json:"use_mmap"`
}

// ImageToImageRequest is the body of POST /api/img2img. Omitted width and
// height adopt the input image's dimensions.
type ImageToImageRequest struct {
	GenerateRequest
	InputPath string  `json:"input_path"`
	Strength  float64 `json:"strength"`
}

// GenerateResponse describes a finished generation.
type GenerateResponse struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	URL        string `json:"url"`
	Seed       int64  `json:"seed"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Steps      int    `json:"steps"`
	DurationMS int64  `json:"duration_ms"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Version   string        `json:"version"`
	Uptime    string        `json:"uptime"`
	Session   SessionStatus `json:"session"`
	Queue     QueueStatus   `json:"queue"`
	OutputDir string        `json:"output_dir"`
	History   bool          `json:"history"`
}

// SessionStatus mirrors fluxruntime.SessionState.
type SessionStatus struct {
	Loaded    bool       `json:"loaded"`
	Closed    bool       `json:"closed"`
	ModelDir  string     `json:"model_dir,omitempty"`
	UseMmap   bool       `json:"use_mmap"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Served    int64      `json:"served"`
	Creates   int64      `json:"creates"`
}

// QueueStatus reports the admission gate.
type QueueStatus struct {
	Waiting  int   `json:"waiting"`
	InFlight int   `json:"in_flight"`
	Admitted int64 `json:"admitted"`
}

// HistoryResponse is returned by GET /api/history.
type HistoryResponse struct {
	Generations []db.Generation `json:"generations"`
	Stats       db.Stats        `json:"stats"`
}

func (s *Server) toRequest(in GenerateRequest, adoptSize bool) fluxruntime.Request {
	d := s.cfg.Defaults
	req := fluxruntime.Request{
		ModelDir: lo.Ternary(in.ModelDir != "", in.ModelDir, d.ModelDir),
		Prompt:   in.Prompt,
		Width:    lo.FromPtrOr(in.Width, d.Width),
		Height:   lo.FromPtrOr(in.Height, d.Height),
		Steps:    lo.FromPtrOr(in.Steps, d.Steps),
		Guidance: lo.FromPtrOr(in.Guidance, d.Guidance),
		Seed:     lo.FromPtrOr(in.Seed, d.Seed),
		UseMmap:  lo.FromPtrOr(in.UseMmap, d.UseMmap),
	}
	if adoptSize {
		req.Width = lo.FromPtr(in.Width)
		req.Height = lo.FromPtr(in.Height)
	}
	return req
}

func (s *Server) handleGenerate(c *gin.Context) {
	var in GenerateRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, fluxruntime.KindValidation.String(), "invalid JSON body: "+err.Error(), 0)
		return
	}

	res, err := s.svc.Generate(c.Request.Context(), s.toRequest(in, false))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.response(c, res))
}

func (s *Server) handleImageToImage(c *gin.Context) {
	var in ImageToImageRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, fluxruntime.KindValidation.String(), "invalid JSON body: "+err.Error(), 0)
		return
	}

	req := fluxruntime.Img2ImgRequest{
		Request:   s.toRequest(in.GenerateRequest, true),
		InputPath: in.InputPath,
		Strength:  in.Strength,
	}
	res, err := s.svc.ImageToImage(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.response(c, res))
}

func (s *Server) response(c *gin.Context, res *fluxruntime.Result) GenerateResponse {
	name := filepath.Base(res.Path)
	return GenerateResponse{
		ID:         c.GetString(ctxRequestID),
		Path:       res.Path,
		URL:        "/api/images/" + name,
		Seed:       res.Params.Seed,
		Width:      int(res.Params.Width),
		Height:     int(res.Params.Height),
		Steps:      int(res.Params.NumSteps),
		DurationMS: res.Duration.Milliseconds(),
	}
}

// handleImage serves an artifact from the output directory. Only generated
// names are served. With ?consume=true the file is removed afterwards.
func (s *Server) handleImage(c *gin.Context) {
	name := c.Param("name")
	if !fluxruntime.IsOutputName(name) {
		writeError(c, http.StatusNotFound, kindNotFound, "no such image", 0)
		return
	}
	path := filepath.Join(s.svc.Status().OutputDir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		writeError(c, http.StatusNotFound, kindNotFound, "no such image", 0)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.File(path)

	if consume, _ := strconv.ParseBool(c.Query("consume")); consume {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove consumed image", zap.String("file", name), zap.Error(err))
		}
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.svc.Status()
	session := SessionStatus{
		Loaded:   st.Session.Loaded,
		Closed:   st.Session.Closed,
		ModelDir: st.Session.Config.ModelDir,
		UseMmap:  st.Session.Config.UseMmap,
		Served:   st.Session.Served,
		Creates:  st.Session.Creates,
	}
	if st.Session.Loaded {
		session.CreatedAt = lo.ToPtr(st.Session.CreatedAt)
	}

	c.JSON(http.StatusOK, StatusResponse{
		Version:   core.GetVersion(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Session:   session,
		Queue:     QueueStatus{Waiting: st.Waiting, InFlight: st.InFlight, Admitted: st.Admitted},
		OutputDir: st.OutputDir,
		History:   s.history != nil,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		writeError(c, http.StatusNotFound, kindNotFound, "history is disabled", 0)
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, fluxruntime.KindValidation.String(), "limit must be a positive integer", 0)
			return
		}
		limit = min(n, s.cfg.MaxHistory)
	}

	ctx := c.Request.Context()
	gens, err := s.history.ListRecent(ctx, limit)
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, fluxruntime.KindIO.String(), "history unavailable", 0)
		return
	}
	stats, err := s.history.Stats(ctx)
	if err != nil {
		s.logger.Error("history stats failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, fluxruntime.KindIO.String(), "history unavailable", 0)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Generations: lo.Ternary(gens == nil, []db.Generation{}, gens), Stats: stats})
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.svc.Reset(c.Request.Context()); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.tracker != nil && s.tracker.IsClosed() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
