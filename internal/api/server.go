// Package api assembles the dashboard / control-plane HTTP server.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/pmb-go/internal/api/handler"
	"github.com/user/pmb-go/internal/api/middleware"
	"github.com/user/pmb-go/internal/callback"
	"github.com/user/pmb-go/internal/intercept"
	"github.com/user/pmb-go/internal/obs"
	"github.com/user/pmb-go/internal/repeater"
	"github.com/user/pmb-go/internal/repository"
)

// Server wraps the HTTP router and dependencies.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

// ServerDeps holds all dependencies for the control-plane server.
type ServerDeps struct {
	Broker    *intercept.Broker
	Toggle    *intercept.Toggle
	Callbacks *callback.Store
	Repeater  *repeater.Engine
	Templates repository.TemplateRepository
	Metrics   *obs.Metrics
	// ProxyAddr is the host:port advertised in the PAC file.
	ProxyAddr string
	// CLILogPath backs the dashboard's activity-log panel.
	CLILogPath string
	Logger     *zap.Logger
}

// NewServer creates the control-plane server with all routes configured.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = obs.NewMetrics()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	interceptHandler := handler.NewInterceptHandler(deps.Broker, deps.Toggle, deps.Metrics, logger)
	ui := r.Group("/ui/intercept")
	{
		ui.GET("/status", interceptHandler.Status)
		ui.POST("/toggle", interceptHandler.Toggle)
		ui.GET("/list", interceptHandler.ListPending)
	}
	cli := r.Group("/cli/intercept")
	{
		cli.POST("/new", interceptHandler.NewFlow)
		cli.GET("/decision", interceptHandler.PollDecision)
		cli.POST("/decision", interceptHandler.PostDecision)
	}

	if deps.CLILogPath != "" {
		logsHandler := handler.NewLogsHandler(deps.CLILogPath, logger)
		logs := r.Group("/cli/logs")
		{
			logs.GET("", logsHandler.View)
			logs.POST("/append", logsHandler.Append)
			logs.POST("/clear", logsHandler.Clear)
		}
	}

	callbackHandler := handler.NewCallbackHandler(deps.Callbacks, deps.Metrics, logger)
	r.GET("/callback", callbackHandler.Hit)
	r.POST("/callback", callbackHandler.Hit)
	r.GET("/ui/hit", callbackHandler.Hit)
	r.POST("/ui/hit", callbackHandler.Hit)
	r.GET("/ui/callbacks", callbackHandler.List)
	r.POST("/ui/callbacks/clear", callbackHandler.Clear)
	r.GET("/ui/injections", callbackHandler.Injections)

	if deps.Repeater != nil && deps.Templates != nil {
		repeaterHandler := handler.NewRepeaterHandler(deps.Repeater, deps.Templates, logger)
		reqs := r.Group("/reqs")
		{
			reqs.POST("/send", repeaterHandler.Send)
			reqs.POST("/save", repeaterHandler.Save)
			reqs.GET("/list", repeaterHandler.List)
			reqs.GET("/rawdb", repeaterHandler.RawDB)
		}
	}

	pacHandler := handler.NewPACHandler(deps.ProxyAddr)
	r.GET("/pac", pacHandler.PAC)

	return &Server{router: r, logger: logger}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
