package main

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/iris-mlops/cmd/training-controller/handlers"
	"github.com/HatiCode/iris-mlops/cmd/training-controller/metrics"
)

// ServerOptions are the dependencies of the controller routes.
type ServerOptions struct {
	Launcher handlers.Launcher
	Console  []byte
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	LogLevel string
}

// BuildServer wires the controller routes:
//
//	GET    /                 training console
//	GET    /health           liveness
//	GET    /jobs             training jobs, newest first
//	POST   /jobs/train       submit a training job
//	DELETE /jobs/:job_name   delete a training job
//	GET    /metrics          Prometheus metrics
func BuildServer(opts ServerOptions) *echo.Echo {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	setLevel(e, opts.LogLevel)

	e.HTTPErrorHandler = handlers.ErrorHandler(opts.Logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			opts.Logger.Debug("request completed",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"error", v.Error,
			)
			return nil
		},
	}))

	e.GET("/", handlers.ConsoleHandler(opts.Console))
	e.GET("/health", handlers.HealthHandler())
	e.GET("/jobs", handlers.ListJobsHandler(opts.Launcher, opts.Logger))
	e.POST("/jobs/train", handlers.TrainHandler(opts.Launcher, opts.Metrics, opts.Logger))
	e.DELETE("/jobs/:job_name", handlers.DeleteJobHandler(opts.Launcher, opts.Metrics, opts.Logger, "job_name"))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	return e
}

// setLevel maps the process log level onto echo's own logger.
func setLevel(e *echo.Echo, level string) {
	switch strings.ToLower(level) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	case "off":
		e.Logger.SetLevel(log.OFF)
	default:
		e.Logger.SetLevel(log.WARN)
	}
}
