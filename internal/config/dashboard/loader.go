package dashboard_config

import (
	"strings"

	"github.com/spf13/viper"
)

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		_ = v.ReadInConfig()
	}

	v.SetDefault("app.name", "ccwatch")
	v.SetDefault("app.env", "dev")

	v.SetDefault("server.http_addr", ":3000")
	v.SetDefault("server.metrics_addr", ":8082")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "5s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("provider.request_timeout", "15s")
	v.SetDefault("provider.user_page_size", 25)
	v.SetDefault("provider.queue_page_size", 100)
	v.SetDefault("provider.evaluation_window", "24h")

	v.SetDefault("ingest.default_poll_interval", "30s")
	v.SetDefault("ingest.min_poll_interval", "5s")
	v.SetDefault("ingest.reconnect_delay", "5s")

	v.SetDefault("connections_file", "config/connections.json")

	v.SetDefault("otel.enable", false)
	v.SetDefault("otel.service_name", "ccwatch")
	v.SetDefault("otel.sample_ratio", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
