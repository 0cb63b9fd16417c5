package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/events"
)

const maxBodyBytes = 1 << 20

// Server is a JSON-RPC 2.0 HTTP server with an optional event websocket.
type Server struct {
	handler *Handler
	cfg     config.RPCConfig
	hub     *Hub
	engine  *gin.Engine
	srv     *http.Server
	ln      net.Listener
}

// NewServer creates a Server for cfg. If cfg.AuthToken is non-empty, every
// request must carry a matching "Authorization: Bearer <token>" header.
// emitter feeds the websocket hub and may be nil when cfg.WebSocket is off.
func NewServer(cfg config.RPCConfig, handler *Handler, emitter *events.Emitter) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{handler: handler, cfg: cfg}

	r := gin.New()
	r.Use(gin.Recovery(), requestLog())
	r.GET("/health", s.health)

	authed := r.Group("/")
	if cfg.AuthToken != "" {
		authed.Use(bearerAuth(cfg.AuthToken))
	}
	authed.POST("/", s.serveRPC)
	if cfg.WebSocket && emitter != nil {
		s.hub = NewHub(emitter)
		authed.GET("/ws", s.hub.Serve)
	}

	s.engine = r
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for serving without binding a port.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub returns the websocket hub, or nil when websockets are disabled.
func (s *Server) Hub() *Hub { return s.hub }

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[rpc] server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Stop closes websocket clients and gracefully shuts down the HTTP server,
// waiting up to 5 seconds for in-flight requests to complete.
func (s *Server) Stop() error {
	if s.hub != nil {
		s.hub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"chain_id": s.handler.Chain.ChainID(),
		"height":   s.handler.Chain.Height(),
	})
}

func (s *Server) serveRPC(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		c.JSON(http.StatusOK, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}
	c.JSON(http.StatusOK, s.handler.Dispatch(req))
}

func bearerAuth(token string) gin.HandlerFunc {
	want := "Bearer " + token
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != want {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errResponse(nil, CodeUnauthorized, "unauthorized"))
			return
		}
		c.Next()
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Writer.Status() >= http.StatusBadRequest {
			logger.Warningf("[rpc] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
		}
	}
}
