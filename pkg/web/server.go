package web

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/arcline-ai/voicebridge/internal/config"
	"github.com/arcline-ai/voicebridge/internal/log"
	"github.com/arcline-ai/voicebridge/pkg/session"
	"github.com/arcline-ai/voicebridge/pkg/telephony"
)

// Server hosts the HTTP surface: the incoming-call webhook that returns
// TwiML and the media-stream websocket that carries call audio.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	tools    *session.Registry
	registry *Registry

	// dialer overrides the realtime dialer, for tests. Nil means dial
	// the real API.
	dialer session.Dialer
}

// NewServer builds the fiber app and registers all routes.
func NewServer(cfg *config.Config, tools *session.Registry) *Server {
	s := &Server{
		app:      fiber.New(fiber.Config{DisableStartupMessage: true}),
		cfg:      cfg,
		tools:    tools,
		registry: NewRegistry(),
	}
	s.routes()
	return s
}

// Registry exposes the live session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) routes() {
	s.app.Use(cors.New())

	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "Twilio Media Stream Server is running!"})
	})

	s.app.Get("/incoming-call", s.handleIncomingCall)
	s.app.Post("/incoming-call", s.handleIncomingCall)

	s.app.Use("/media-stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/media-stream", websocket.New(s.handleMediaStream))
}

func (s *Server) handleIncomingCall(c *fiber.Ctx) error {
	twiml, err := BuildTwiML(s.cfg.Twilio, c.Hostname())
	if err != nil {
		log.Error("failed to build call response", "error", err)
		return fiber.ErrInternalServerError
	}
	c.Set(fiber.HeaderContentType, "text/xml")
	return c.SendString(twiml)
}

// handleMediaStream owns one call from websocket accept to hangup. The
// websocket read loop stays on this goroutine; the session's audio loops
// run on their own.
func (s *Server) handleMediaStream(c *websocket.Conn) {
	callID := uuid.New().String()
	log.Info("call connected", "call_id", callID)

	handler := telephony.NewAudioHandler(callID, c, s.cfg.Audio.QueueDepth)
	defer handler.Shutdown()

	dial := s.dialer
	if dial == nil {
		dial = session.RealtimeDialer(s.cfg, s.tools)
	}
	sess := session.New(callID, s.cfg, handler, s.tools, dial)
	s.registry.Add(callID, sess)
	defer func() {
		s.registry.Remove(callID)
		sess.Disconnect()
		log.Info("call ended", "call_id", callID)
	}()

	// Closing the telephony socket is how a dead model leg reaches the
	// caller: it unblocks the read loop below so the deferred teardown
	// runs instead of leaving the caller on a silent line.
	var closeOnce sync.Once
	hangUp := func() {
		closeOnce.Do(func() { c.Close() })
	}
	sess.OnStateChange = func(_, to session.State) {
		if to == session.StateError {
			hangUp()
		}
	}

	var convWG sync.WaitGroup
	defer convWG.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		log.Error("failed to connect session", "call_id", callID, "error", err)
		return
	}

	var startOnce sync.Once
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			log.Debug("media stream closed", "call_id", callID, "error", err)
			return
		}

		event, err := handler.HandleFrame(data)
		if err != nil {
			log.Warn("bad media frame", "call_id", callID, "error", err)
			continue
		}

		switch event {
		case telephony.EventStart:
			startOnce.Do(func() {
				convWG.Add(1)
				go func() {
					defer convWG.Done()
					err := sess.StartConversation(ctx, s.cfg.Twilio.InitialMessage)
					if err != nil && !errors.Is(err, context.Canceled) {
						log.Error("conversation ended with error", "call_id", callID, "error", err)
					}
					hangUp()
				}()
			})
		case telephony.EventStop:
			return
		}
	}
}

// Start serves until Listen returns.
func (s *Server) Start() error {
	log.Info("listening", "addr", s.cfg.Server.ListenAddr)
	return s.app.Listen(s.cfg.Server.ListenAddr)
}

// Shutdown disconnects all live sessions and stops the HTTP server.
func (s *Server) Shutdown() error {
	s.registry.Shutdown()
	return s.app.Shutdown()
}

// App exposes the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}
