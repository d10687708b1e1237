package telemetry

import (
	"context"
	"net"

	"go.uber.org/zap"
)

// ServeHealth runs a bare TCP listener that accepts and immediately
// closes every connection, answering the connect-check spec.md's
// ambient stack describes without a request/response protocol of its
// own — a connection succeeding is the whole signal.
func ServeHealth(ctx context.Context, addr string, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if logger != nil {
					logger.Warn("health listener accept failed", zap.Error(err))
				}
				return err
			}
		}
		_ = conn.Close()
	}
}
