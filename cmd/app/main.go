package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// .env.local takes priority; neither file is required
	for _, file := range []string{".env.local", ".env"} {
		_ = godotenv.Load(file)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("archive-crawler exited with an error")
		os.Exit(1)
	}
}
