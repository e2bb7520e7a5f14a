package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs an HTTP server on addr until ctx is done, then shuts it down
// with a 10s deadline. onShutdown, if set, runs as shutdown begins so that
// long-lived streams can end.
func Serve(ctx context.Context, addr string, h http.Handler, onShutdown func()) error {
	server := &http.Server{Addr: addr, Handler: h}
	if onShutdown != nil {
		server.RegisterOnShutdown(onShutdown)
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "www").Str("addr", addr).Msg("operator API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		log.Warn().Str("component", "www").Err(err).Msg("http server shutdown")
	}
	return nil
}
