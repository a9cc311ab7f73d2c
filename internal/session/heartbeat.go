package session

import (
	"context"
	"time"
	"voxagent/internal/worker"
	"voxagent/pkg/logger"

	"go.uber.org/zap"
)

// Emitter sends heartbeats for the lifetime of one connection
type Emitter struct {
	host     Host
	out      worker.Sender
	interval time.Duration
}

func NewEmitter(host Host, out worker.Sender, interval time.Duration) *Emitter {
	return &Emitter{host: host, out: out, interval: interval}
}

// Run ticks until ctx is done or a send fails. A failed send is returned so
// the session can drop the connection; the emitter itself never reconnects.
func (e *Emitter) Run(ctx context.Context) error {
	t := time.NewTicker(e.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := e.Beat(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("Heartbeat send failed, stopping", zap.Error(err))
				return err
			}
		}
	}
}

// Beat sends one heartbeat
func (e *Emitter) Beat(ctx context.Context) error {
	hb := e.host.Heartbeat(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.out.Send(hb); err != nil {
		return err
	}
	logger.Debug("Heartbeat sent",
		zap.String("status", string(hb.Status)),
		zap.Int("threads", hb.ModelConfig.Threads))
	return nil
}
