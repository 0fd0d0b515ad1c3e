package control

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	coreerrors "github.com/ducminhle1904/risk-orchestrator/internal/errors"
	"github.com/ducminhle1904/risk-orchestrator/internal/killswitch"
	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
)

const operatorKey = "operator"

type actionRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RouterOptions adds the unauthenticated endpoints
type RouterOptions struct {
	Health  http.Handler
	Metrics http.Handler
	Logger  *logger.Logger
}

// NewRouter exposes the service over HTTP. /v1 routes require a bearer token
// signed with secret.
func NewRouter(svc *Service, secret string, opts RouterOptions) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("http")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	if opts.Health != nil {
		r.GET("/healthz", gin.WrapH(opts.Health))
	}
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := r.Group("/v1", BearerAuth(secret))
	v1.GET("/status", func(c *gin.Context) {
		st, err := svc.Status(c.Request.Context(), currentOperator(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})
	v1.POST("/pause", func(c *gin.Context) {
		req, ok := bindAction(c)
		if !ok {
			return
		}
		if err := svc.Pause(c.Request.Context(), currentOperator(c), req.Reason); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, svc.Snapshot().State)
	})
	v1.POST("/resume", func(c *gin.Context) {
		req, ok := bindAction(c)
		if !ok {
			return
		}
		if err := svc.Resume(c.Request.Context(), currentOperator(c), req.Reason); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, svc.Snapshot().State)
	})
	v1.POST("/kill-switch/activate", func(c *gin.Context) {
		req, ok := bindAction(c)
		if !ok {
			return
		}
		// flattening must finish even if the caller disconnects
		ctx := context.WithoutCancel(c.Request.Context())
		rec, err := svc.ActivateKillSwitch(ctx, currentOperator(c), req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})
	v1.POST("/kill-switch/reset", func(c *gin.Context) {
		if err := svc.ResetKillSwitch(c.Request.Context(), currentOperator(c)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, svc.Snapshot().KillSwitch)
	})
	return r
}

// BearerAuth verifies the Authorization header and stores the operator on the context
func BearerAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing or malformed bearer token"})
			return
		}
		op, err := ParseToken(secret, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid or expired token"})
			return
		}
		c.Set(operatorKey, op)
		c.Next()
	}
}

func currentOperator(c *gin.Context) Operator {
	if v, ok := c.Get(operatorKey); ok {
		if op, ok := v.(Operator); ok {
			return op
		}
	}
	return Operator{}
}

func bindAction(c *gin.Context) (actionRequest, bool) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "body must be JSON with a reason"})
		return req, false
	}
	return req, true
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, killswitch.ErrNotTriggered):
		status = http.StatusConflict
	case coreerrors.CategoryOf(err) == coreerrors.CategoryValidation:
		status = http.StatusConflict
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully
func Serve(ctx context.Context, addr string, handler http.Handler, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if log != nil {
		log.Info("control API listening on %s", addr)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
