package webapi

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"screenlink/config"
	"screenlink/metrics"
	"screenlink/server"
)

// Server is the operator-facing HTTP surface: status API, Prometheus
// metrics, the live event feed and the browser preview. It never sits
// on the media path to the streaming client; the control and transport
// channels work with or without it.
type Server struct {
	cfg config.Config
	sup *server.Supervisor
	hub *EventHub

	router *gin.Engine
}

func New(cfg config.Config, sup *server.Supervisor) *Server {
	s := &Server{
		cfg: cfg,
		sup: sup,
		hub: NewEventHub(),
	}
	s.setRouter()
	return s
}

// Hub exposes the event feed so the supervisor's Notify hook can be
// pointed at it.
func (s *Server) Hub() *EventHub { return s.hub }

func (s *Server) setRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "device": s.cfg.DeviceName})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/sessions", s.handleListSessions)
		api.GET("/events", s.hub.HandleWS)
	}

	if s.cfg.Preview {
		preview := NewPreview(s.sup)
		r.POST("/preview/sdp", preview.HandleSDP)
		r.OPTIONS("/preview/sdp", preview.HandleSDP)
	}

	s.router = r
}

// Serve blocks on the configured API address.
func (s *Server) Serve() {
	log.Printf("webapi: listening on %s", s.cfg.APIAddr)
	if err := s.router.Run(s.cfg.APIAddr); err != nil {
		log.Printf("webapi: server stopped: %v", err)
	}
}

type sessionSummary struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FPS      int    `json:"fps"`
	Bitrate  int    `json:"bitrate"`
	Backend  string `json:"backend"`
	HasAudio bool   `json:"hasAudio"`
}

func (s *Server) handleListSessions(c *gin.Context) {
	live := s.sup.Sessions()
	out := make([]sessionSummary, 0, len(live))
	for _, sess := range live {
		cfg := sess.Config()
		summary := sessionSummary{
			ID:       sess.ID,
			Endpoint: cfg.Endpoint(),
			Width:    cfg.Width,
			Height:   cfg.Height,
			FPS:      cfg.FPS,
			HasAudio: sess.HasAudio(),
		}
		if enc := sess.Encoder(); enc != nil {
			summary.Bitrate = enc.Bitrate()
			summary.Width, summary.Height = enc.Resolution()
			summary.Backend = enc.Backend()
		}
		out = append(out, summary)
	}
	c.JSON(http.StatusOK, out)
}
