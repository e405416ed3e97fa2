package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcline-ai/voicebridge/internal/config"
	"github.com/arcline-ai/voicebridge/internal/log"
	"github.com/arcline-ai/voicebridge/pkg/session"
	"github.com/arcline-ai/voicebridge/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	listenAddr := flag.String("listen", "", "Listen address override, e.g. :5050")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	log.Init(string(cfg.Server.LogLevel))
	log.Info("starting voicebridge",
		"listen_addr", cfg.Server.ListenAddr,
		"model", cfg.OpenAI.Model,
		"streaming_mode", cfg.Audio.StreamingMode,
	)

	tools := session.NewRegistry()
	registerDemoTools(tools)

	server := web.NewServer(cfg, tools)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		if err := server.Shutdown(); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// registerDemoTools installs a couple of example functions the model can
// call during a conversation. Replace these with real integrations.
func registerDemoTools(reg *session.Registry) {
	reg.Add(session.Tool{
		Name:        "get_current_time",
		Description: "Get the current date and time",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return map[string]any{"time": time.Now().Format(time.RFC1123)}, nil
		},
	})

	reg.Add(session.Tool{
		Name:        "get_weather",
		Description: "Get the current weather for a city",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name",
				},
			},
			"required": []string{"city"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			city, _ := args["city"].(string)
			if city == "" {
				return nil, fmt.Errorf("city is required")
			}
			// Placeholder response until a weather backend is wired up.
			return map[string]any{
				"city":      city,
				"condition": "sunny",
				"temp_c":    21,
			}, nil
		},
	})
}
