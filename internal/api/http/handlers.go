package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zhaoge0202/EnsoAI/internal/api/middleware"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/monitoring"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/resilience"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/detect"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/runner"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/shell"
	"github.com/zhaoge0202/EnsoAI/internal/service"
	"github.com/zhaoge0202/EnsoAI/internal/shared/id"
	"github.com/zhaoge0202/EnsoAI/internal/shared/types"
	"github.com/zhaoge0202/EnsoAI/internal/shared/utils"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	terminals *terminal.Provider
	registry  *service.Registry
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(terminals *terminal.Provider, registry *service.Registry, metrics *monitoring.Metrics, log *zap.Logger) *Handlers {
	return &Handlers{
		terminals: terminals,
		registry:  registry,
		metrics:   metrics,
		log:       logging.OrNop(log),
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "ptyhost",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"sessions":         h.terminals.Manager().Len(),
		"service_registry": h.registry.Stats(),
	})
}

// Stats returns a metrics summary
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics":          h.metrics.Snapshot(),
		"sessions":         h.terminals.Manager().Len(),
		"service_registry": h.registry.Stats(),
	})
}

// CreateTerminal starts a new shell session
func (h *Handlers) CreateTerminal(c *gin.Context) {
	var req types.CreateTerminalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateCreate(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := terminal.Options{
		Shell: req.Shell,
		Args:  req.Args,
		Dir:   req.WorkingDir,
		Cols:  req.Cols,
		Rows:  req.Rows,
		Env:   req.Env,
	}
	if req.ShellKind != "" {
		opts.ShellConfig = &shell.Config{
			Kind:   shell.Kind(req.ShellKind),
			Path:   req.ShellPath,
			Args:   req.ShellArgs,
			Distro: req.Distro,
		}
	}

	timer := monitoring.NewTimer(h.metrics, "terminal", "create")
	st, err := h.terminals.CreateSession(c.Request.Context(), opts)
	if err != nil {
		timer.Stop("error")
		h.log.Warn("terminal create failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err))
		var spawnErr *terminal.SpawnError
		if errors.As(err, &spawnErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	timer.Stop("success")

	c.JSON(http.StatusCreated, st.Session().Info())
}

// ListTerminals lists all live sessions
func (h *Handlers) ListTerminals(c *gin.Context) {
	sessions := h.terminals.Manager().List()
	if sessions == nil {
		sessions = []terminal.SessionInfo{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetTerminal returns one session
func (h *Handlers) GetTerminal(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := h.terminals.Manager().Get(sid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

// WriteTerminal sends input to a session. Unknown ids are accepted and
// reported with found=false.
func (h *Handlers) WriteTerminal(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	var req types.InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data := []byte(req.Data)
	if err := utils.ValidateInput(data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, lookupErr := h.terminals.Manager().Get(sid)
	h.terminals.Manager().Write(sid, data)
	c.JSON(http.StatusOK, gin.H{"success": true, "found": lookupErr == nil})
}

// ResizeTerminal changes a session's size
func (h *Handlers) ResizeTerminal(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	var req types.ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, lookupErr := h.terminals.Manager().Get(sid)
	h.terminals.Manager().Resize(sid, req.Cols, req.Rows)
	c.JSON(http.StatusOK, gin.H{"success": true, "found": lookupErr == nil})
}

// DestroyTerminal kills a session and its process tree
func (h *Handlers) DestroyTerminal(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	found := h.terminals.Kill(sid)
	c.JSON(http.StatusOK, gin.H{"success": true, "found": found})
}

// DestroyAllTerminals kills every session
func (h *Handlers) DestroyAllTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.terminals.KillAll()})
}

// DestroyTerminalsUnder kills every session rooted at or below a directory
func (h *Handlers) DestroyTerminalsUnder(c *gin.Context) {
	var req types.DestroyUnderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidatePath(req.Dir, "dir", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": h.terminals.KillUnder(req.Dir)})
}

// RunCommand runs a bounded one-shot command. Exit and timeout failures
// are reported in the body with status 200.
func (h *Handlers) RunCommand(c *gin.Context) {
	var req types.RunCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateCommand(req.Command); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateEnv(req.Env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runReq := runner.Request{
		Command: req.Command,
		Dir:     req.WorkingDir,
		Env:     req.Env,
		Shell:   req.Shell,
	}
	if req.TimeoutMS > 0 {
		runReq.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	if req.KillOnTimeout {
		runReq.OnTimeout = runner.TimeoutKeepPartial
	}

	res, err := h.terminals.Run(c.Request.Context(), runReq)
	resp, status := commandResponse(res, err)
	if status != http.StatusOK {
		h.log.Warn("command could not run",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DetectCLIs probes installed agent CLIs
func (h *Handlers) DetectCLIs(c *gin.Context) {
	clis, err := detect.Select(c.QueryArray("id")...)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timer := monitoring.NewTimer(h.metrics, "terminal", "detect")
	statuses := h.terminals.Detector().Detect(c.Request.Context(), clis...)
	timer.Stop("success")

	c.JSON(http.StatusOK, gin.H{"clis": statuses})
}

// ListServices lists all available services
func (h *Handlers) ListServices(c *gin.Context) {
	categoryStr := c.Query("category")
	if err := utils.ValidateCategory(categoryStr, false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var category *types.Category
	if categoryStr != "" {
		cat := types.Category(categoryStr)
		category = &cat
	}

	c.JSON(http.StatusOK, gin.H{
		"services": h.registry.List(category),
		"stats":    h.registry.Stats(),
	})
}

// DiscoverServices finds services matching a query
func (h *Handlers) DiscoverServices(c *gin.Context) {
	var req struct {
		Query string `json:"query" binding:"required"`
		Limit int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateQuery(req.Query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	c.JSON(http.StatusOK, gin.H{
		"query":    req.Query,
		"services": h.registry.Discover(req.Query, req.Limit),
	})
}

// ExecuteService executes a service tool
func (h *Handlers) ExecuteService(c *gin.Context) {
	var req types.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := utils.ValidateToolID(req.ToolID, "tool_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rid := middleware.GetRequestID(c)
	clientIP := c.ClientIP()
	appCtx := &types.Context{ClientID: &clientIP, RequestID: &rid}

	result, err := h.registry.Execute(c.Request.Context(), req.ToolID, req.Params, appCtx)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrInvalidToolID):
			status = http.StatusBadRequest
		case errors.Is(err, service.ErrServiceNotFound), errors.Is(err, service.ErrToolNotFound), errors.Is(err, terminal.ErrSessionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, resilience.ErrOpen):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// sessionID reads and validates the :id path parameter, writing a 400 on failure.
func sessionID(c *gin.Context) (id.TerminalID, bool) {
	raw := c.Param("id")
	if err := utils.ValidateID(raw, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id.TerminalID(raw), true
}

func validateCreate(req types.CreateTerminalRequest) error {
	if err := utils.ValidatePath(req.Shell, "shell", false); err != nil {
		return err
	}
	if err := utils.ValidatePath(req.ShellPath, "shell_path", false); err != nil {
		return err
	}
	if err := utils.ValidatePath(req.WorkingDir, "working_dir", false); err != nil {
		return err
	}
	if req.Cols < 0 || req.Rows < 0 {
		return errors.New("cols and rows must not be negative")
	}
	return utils.ValidateEnv(req.Env)
}

// commandResponse maps a runner outcome to the response body and status.
func commandResponse(res *runner.Result, err error) (types.RunCommandResponse, int) {
	var (
		exitErr    *runner.ExitError
		timeoutErr *runner.TimeoutError
	)
	switch {
	case err == nil:
		return types.RunCommandResponse{OK: true, Output: res.Output, Truncated: res.Truncated}, http.StatusOK
	case errors.As(err, &exitErr):
		code := exitErr.Code
		return types.RunCommandResponse{Output: exitErr.Output, ExitCode: &code}, http.StatusOK
	case errors.As(err, &timeoutErr):
		return types.RunCommandResponse{Output: timeoutErr.Output, TimedOut: true}, http.StatusOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.RunCommandResponse{}, http.StatusRequestTimeout
	case errors.Is(err, resilience.ErrOpen):
		return types.RunCommandResponse{}, http.StatusServiceUnavailable
	default:
		return types.RunCommandResponse{}, http.StatusInternalServerError
	}
}
