// Package gateway is the HTTP ingress: the WeCom callback endpoints, the
// health check and the WebSocket push hub for agent frontends.
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kkhouse/wecopilot/pkg/bus"
	"github.com/kkhouse/wecopilot/pkg/config"
	"github.com/kkhouse/wecopilot/pkg/envelope"
	"github.com/kkhouse/wecopilot/pkg/logger"
	"github.com/kkhouse/wecopilot/pkg/wecrypt"
)

type Server struct {
	cfg    *config.Config
	crypt  *wecrypt.MsgCrypt
	bus    *bus.MessageBus
	hub    *Hub
	engine *gin.Engine
}

func NewServer(cfg *config.Config, crypt *wecrypt.MsgCrypt, mb *bus.MessageBus, hub *Hub) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		crypt:  crypt,
		bus:    mb,
		hub:    hub,
		engine: engine,
	}

	engine.GET("/api/v1/wework/callback", s.handleVerify)
	engine.POST("/api/v1/wework/callback", s.handleCallback)
	engine.GET("/health", s.handleHealth)
	if hub != nil {
		engine.GET("/ws/:agent_id", hub.Handle)
	}
	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("gateway", "HTTP server listening",
			map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleVerify answers the platform's URL ownership handshake by decrypting
// the echo string.
func (s *Server) handleVerify(c *gin.Context) {
	sig := c.Query("msg_signature")
	timestamp := c.Query("timestamp")
	nonce := c.Query("nonce")
	echostr := c.Query("echostr")

	echo, err := s.crypt.VerifyURL(sig, timestamp, nonce, echostr)
	if err != nil {
		logger.WarnCF("gateway", "Callback verification rejected",
			map[string]interface{}{"code": int(wecrypt.CodeOf(err)), "error": err.Error()})
		c.String(http.StatusForbidden, "verification failed")
		return
	}
	logger.InfoC("gateway", "Callback verification successful")
	c.String(http.StatusOK, echo)
}

// handleCallback authenticates, decrypts and decodes an inbound message, then
// enqueues it and acks immediately. Processing never blocks the response.
func (s *Server) handleCallback(c *gin.Context) {
	sig := c.Query("msg_signature")
	timestamp := c.Query("timestamp")
	nonce := c.Query("nonce")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "bad request body")
		return
	}

	plaintext, err := s.crypt.DecryptMsg(sig, timestamp, nonce, body)
	if err != nil {
		code := wecrypt.CodeOf(err)
		logger.WarnCF("gateway", "Message decryption rejected",
			map[string]interface{}{"code": int(code), "error": err.Error()})
		status := http.StatusBadRequest
		if code == wecrypt.CodeValidateSignature {
			status = http.StatusForbidden
		}
		c.String(status, "decryption failed")
		return
	}

	env, err := envelope.Decode(plaintext)
	if err != nil {
		logger.WarnCF("gateway", "Message decoding failed",
			map[string]interface{}{"error": err.Error()})
		c.String(http.StatusBadRequest, "message parsing failed")
		return
	}

	job := bus.Job{
		Envelope:      env,
		CorrelationID: uuid.NewString(),
		EnqueuedAt:    time.Now(),
	}
	if err := s.bus.PublishJob(job); err != nil {
		// The platform redelivers on non-200; shed load instead of blocking.
		logger.ErrorCF("gateway", "Job queue full, rejecting callback",
			map[string]interface{}{"msg_id": env.MsgID, "error": err.Error()})
		c.String(http.StatusServiceUnavailable, "busy")
		return
	}

	logger.InfoCF("gateway", "Message enqueued",
		map[string]interface{}{
			"correlation_id": job.CorrelationID,
			"msg_id":         env.MsgID,
			"kind":           string(env.Kind),
			"queue_depth":    s.bus.QueueDepth(),
		})
	c.String(http.StatusOK, "success")
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "wecopilot",
		"version": "1.0.0",
	})
}
