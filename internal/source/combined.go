package source

import (
	"context"

	"github.com/xela07ax/opsguard/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Combined сводит хост и пробу приложения в один сэмпл. Ошибка любой части делает тик устаревшим.
type Combined struct {
	Host  *HostSource
	Probe *HTTPProbe
}

func (c *Combined) Sample(ctx context.Context) (domain.SystemMetricSample, error) {
	if c.Probe == nil {
		return c.Host.Sample(ctx)
	}

	var host, app domain.SystemMetricSample
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		host, err = c.Host.Sample(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		app, err = c.Probe.Sample(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.SystemMetricSample{}, err
	}

	host.Network.LatencyMs = app.Network.LatencyMs
	host.Database = app.Database
	host.Application = app.Application
	return host, nil
}
