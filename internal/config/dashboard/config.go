package dashboard_config

import (
	"time"

	"github.com/NordCoder/ccwatch/internal/obs"
)

type App struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type Provider struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserPageSize     int           `mapstructure:"user_page_size"`
	QueuePageSize    int           `mapstructure:"queue_page_size"`
	EvaluationWindow time.Duration `mapstructure:"evaluation_window"`
}

type Ingest struct {
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval"`
	MinPollInterval     time.Duration `mapstructure:"min_poll_interval"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (lc *Log) AsLoggerConfig(app App) *obs.LogConfig {
	return &obs.LogConfig{
		Level:  lc.Level,
		Pretty: lc.Pretty,
		App:    app.Name,
		Env:    app.Env,
	}
}

type Config struct {
	App             App      `mapstructure:"app"`
	Server          Server   `mapstructure:"server"`
	Provider        Provider `mapstructure:"provider"`
	Ingest          Ingest   `mapstructure:"ingest"`
	ConnectionsFile string   `mapstructure:"connections_file"`
	OTEL            OTEL     `mapstructure:"otel"`
	Log             Log      `mapstructure:"log"`
}
