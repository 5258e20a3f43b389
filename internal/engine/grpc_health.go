package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/opsguard/internal/domain"
)

// HealthReporter публикует здоровье компонентов через стандартный gRPC Health Checking Protocol.
// Сервис "" описывает ядро целиком, "opsguard.<component>" отдельные компоненты.
type HealthReporter struct {
	engine *Engine
	server *health.Server
	logger *zap.Logger
}

const healthServicePrefix = "opsguard."

func NewHealthReporter(e *Engine, logger *zap.Logger) *HealthReporter {
	return &HealthReporter{
		engine: e,
		server: health.NewServer(),
		logger: logger.With(zap.String("mod", "grpc-health")),
	}
}

// Server для регистрации: healthpb.RegisterHealthServer(grpcServer, r.Server()).
func (r *HealthReporter) Server() *health.Server { return r.server }

// Sync переносит текущий снимок здоровья в gRPC-статусы.
func (r *HealthReporter) Sync() {
	overall := healthpb.HealthCheckResponse_SERVING
	if !r.engine.IsMonitoring() {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	for _, h := range r.engine.ComponentHealth() {
		st := healthpb.HealthCheckResponse_SERVING
		if h.Status == domain.StatusCritical {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		r.server.SetServingStatus(healthServicePrefix+h.Component, st)
	}
	r.server.SetServingStatus("", overall)
}

// Run синхронизирует статусы по таймеру до отмены ctx, затем переводит все в NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Sync()
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			r.logger.Info("grpc health reporter stopped")
			return
		case <-ticker.C:
			r.Sync()
		}
	}
}
