package backend

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const defaultShutdownDeadline = 10 * time.Second

var ErrUnexpected = errors.New("unexpected server error")

// Run serves on addr until ctx is done, then shuts down gracefully
func (b *Backend) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: b.Handler(),
	}

	hErr := make(chan error, 1)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	b.logger.Info().Str("addr", addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Join(ErrUnexpected, err)
		}
		return nil
	case <-ctx.Done():
		b.Close()

		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			b.logger.Error().Err(err).Msg("server shutdown failed")
			return err
		}
		b.logger.Debug().Msg("server stopped")
		return nil
	}
}
