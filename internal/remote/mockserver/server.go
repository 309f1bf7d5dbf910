// Package mockserver exposes a remote.MemoryAPI over the REST routes the
// HTTP client speaks, for local development and client tests.
package mockserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Gopher0727/PortalChat/internal/metrics"
	"github.com/Gopher0727/PortalChat/internal/model"
	"github.com/Gopher0727/PortalChat/internal/remote"
	logger "github.com/Gopher0727/PortalChat/middleware/log"
)

const maxUploadBytes = 16 << 20

type Server struct {
	api    *remote.MemoryAPI
	engine *gin.Engine
	logger *zap.Logger
}

type Option func(*options)

type options struct {
	rps           float64
	burst         int
	maxConcurrent int
}

// WithSendRateLimit throttles message sends per client. rps <= 0 disables it.
func WithSendRateLimit(rps float64, burst int) Option {
	return func(o *options) { o.rps, o.burst = rps, burst }
}

// WithMaxConcurrent caps requests handled at once. n <= 0 disables it.
func WithMaxConcurrent(n int) Option {
	return func(o *options) { o.maxConcurrent = n }
}

func New(api *remote.MemoryAPI, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{api: api, logger: log}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), metrics.HTTPMetricsMiddleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	if o.maxConcurrent > 0 {
		v1.Use(MaxConcurrencyMiddleware(o.maxConcurrent))
	}
	var limit []gin.HandlerFunc
	if o.rps > 0 {
		limit = append(limit, RateLimitMiddleware(newLimiterPool(o.rps, o.burst)))
	}
	sends := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc(nil), limit...), h)
	}
	{
		v1.GET("/groups", s.listGroups)
		v1.GET("/groups/:id/messages", s.listMessages)
		v1.POST("/groups/:id/messages", sends(s.sendMessage)...)
		v1.POST("/groups/:id/messages/files", sends(s.sendMessageWithFiles)...)
		v1.DELETE("/messages/:id", s.deleteMessage)
		v1.GET("/attachments/:id", s.getAttachment)
	}
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mock server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.WithTraceID(c.Request.Context(), c.GetHeader("X-Trace-ID"))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", logger.GetTraceID(ctx))

		c.Next()

		logger.FromZap(s.logger).DebugContext(ctx, "request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	var se *remote.StatusError
	switch {
	case errors.As(err, &se):
		code = se.Code
	case errors.Is(err, remote.ErrNetwork):
		code = http.StatusServiceUnavailable
	}
	s.logger.Debug("request failed", zap.String("path", c.FullPath()), zap.Int("status", code), zap.Error(err))
	c.JSON(code, gin.H{
		"code":  code,
		"error": err.Error(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":  http.StatusBadRequest,
		"error": msg,
	})
}

func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.api.FetchGroups(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, groups)
}

// parseBefore accepts RFC 3339 or epoch milliseconds.
func parseBefore(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func (s *Server) listMessages(c *gin.Context) {
	limit := 10
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	before, err := parseBefore(c.Query("before"))
	if err != nil {
		badRequest(c, "before must be RFC 3339 or epoch milliseconds")
		return
	}

	msgs, err := s.api.FetchMessages(c.Request.Context(), c.Param("id"), limit, before)
	if err != nil {
		s.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	ok(c, msgs)
}

type sendRequest struct {
	Content     string                `json:"content"`
	Attachments []model.AttachmentRef `json:"attachments"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		badRequest(c, "content or attachments required")
		return
	}
	msg, err := s.api.SendMessage(c.Request.Context(), c.Param("id"), req.Content, req.Attachments)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, msg)
}

func (s *Server) sendMessageWithFiles(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	var files []model.PendingFile
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		payload, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		files = append(files, model.PendingFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Payload:     payload,
		})
	}
	content := c.PostForm("content")
	if content == "" && len(files) == 0 {
		badRequest(c, "content or files required")
		return
	}

	msg, err := s.api.SendMessageWithFiles(c.Request.Context(), c.Param("id"), content, files)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, msg)
}

func (s *Server) deleteMessage(c *gin.Context) {
	if err := s.api.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"id": c.Param("id"), "deleted": true})
}

func (s *Server) getAttachment(c *gin.Context) {
	att, err := s.api.FetchAttachment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, att)
}
