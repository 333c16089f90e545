// Package config carica la configurazione del servizio con viper:
// default, file opzionale (-config) e variabili d'ambiente con gli stessi nomi (RABBITMQ_HOST, ...).
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/agro_telemetry/pkg/rabbitmq"
)

type Config struct {
	RabbitHost          string        `mapstructure:"rabbitmq_host"`
	RabbitPort          int           `mapstructure:"rabbitmq_port"`
	RabbitUser          string        `mapstructure:"rabbitmq_user"`
	RabbitPassword      string        `mapstructure:"rabbitmq_password"`
	RabbitClientID      string        `mapstructure:"rabbitmq_clientid"`
	MQTTRetryInterval   time.Duration `mapstructure:"mqtt_retry_interval"`
	ControlSubTopics    []string      `mapstructure:"control_sub_topics"`
	ControlPubTopic     string        `mapstructure:"control_pub_topic"`
	StateChangeTemplate string        `mapstructure:"event_statechange_template"`
	UnboundTopics       []string      `mapstructure:"unbound_topics"`

	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	InfluxURL          string        `mapstructure:"influx_url"`
	InfluxToken        string        `mapstructure:"influx_token"`
	InfluxOrg          string        `mapstructure:"influx_org"`
	InfluxBucket       string        `mapstructure:"influx_bucket"`
	InfluxMeasurement  string        `mapstructure:"measurement"`
	WriteBatchSize     int           `mapstructure:"write_batch_size"`
	WriteFlushInterval time.Duration `mapstructure:"write_flush_interval"`

	HTTPPort           int      `mapstructure:"http_port"`
	GRPCPort           int      `mapstructure:"grpc_port"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	EnqueueTimeout  time.Duration `mapstructure:"enqueue_timeout"`
	HistorySize     int           `mapstructure:"history_size"`
	StoreRetryDelay time.Duration `mapstructure:"store_retry_delay"`

	PollDefaultInterval time.Duration `mapstructure:"poll_default_interval"`
	PollTimeout         time.Duration `mapstructure:"poll_timeout"`

	AlertDedupWindow time.Duration `mapstructure:"alert_dedup_window"`

	SMTPHost          string   `mapstructure:"smtp_host"`
	SMTPPort          int      `mapstructure:"smtp_port"`
	SMTPUser          string   `mapstructure:"smtp_user"`
	SMTPPassword      string   `mapstructure:"smtp_password"`
	SMTPFrom          string   `mapstructure:"smtp_from"`
	SMTPTLS           string   `mapstructure:"smtp_tls"` // opportunistic | mandatory | none
	CBSMTPFails       int      `mapstructure:"cb_smtp_fails"`
	CBSMTPOpenMs      int      `mapstructure:"cb_smtp_open_ms"`
	CBSMTPIntervalMs  int      `mapstructure:"cb_smtp_interval_ms"`
	AlertKafkaBrokers []string `mapstructure:"alert_kafka_brokers"`
	AlertKafkaTopic   string   `mapstructure:"alert_kafka_topic"`

	SensorsConfigPath string        `mapstructure:"sensors_config_path"`
	RegistryRefresh   time.Duration `mapstructure:"registry_refresh"`
	BroadcastBuffer   int           `mapstructure:"broadcast_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rabbitmq_host", "localhost")
	v.SetDefault("rabbitmq_port", 1883)
	v.SetDefault("rabbitmq_user", "guest")
	v.SetDefault("rabbitmq_password", "guest")
	v.SetDefault("rabbitmq_clientid", "telemetry-service")
	v.SetDefault("mqtt_retry_interval", 5*time.Second)
	v.SetDefault("control_sub_topics", []string{"control/status/#"})
	v.SetDefault("control_pub_topic", "control/command")
	v.SetDefault("event_statechange_template", "event/StateChange/{field}/{sensor}")
	v.SetDefault("unbound_topics", []string{})

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "telemetry.db")

	v.SetDefault("influx_url", "")
	v.SetDefault("influx_token", "")
	v.SetDefault("influx_org", "msut")
	v.SetDefault("influx_bucket", "telemetry")
	v.SetDefault("measurement", "sensor_reading")
	v.SetDefault("write_batch_size", 10)
	v.SetDefault("write_flush_interval", 200*time.Millisecond)

	v.SetDefault("http_port", 8080)
	v.SetDefault("grpc_port", 50051)
	v.SetDefault("cors_allowed_origins", []string{"*"})

	v.SetDefault("workers", 4)
	v.SetDefault("queue_size", 256)
	v.SetDefault("enqueue_timeout", 2*time.Second)
	v.SetDefault("history_size", 50)
	v.SetDefault("store_retry_delay", 200*time.Millisecond)

	v.SetDefault("poll_default_interval", 30*time.Second)
	v.SetDefault("poll_timeout", 10*time.Second)

	v.SetDefault("alert_dedup_window", 15*time.Minute)

	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "alerts@localhost")
	v.SetDefault("smtp_tls", "opportunistic")
	v.SetDefault("cb_smtp_fails", 3)
	v.SetDefault("cb_smtp_open_ms", 30000)
	v.SetDefault("cb_smtp_interval_ms", 60000)
	v.SetDefault("alert_kafka_brokers", []string{})
	v.SetDefault("alert_kafka_topic", "telemetry.alerts")

	v.SetDefault("sensors_config_path", "")
	v.SetDefault("registry_refresh", 30*time.Second)
	v.SetDefault("broadcast_buffer", 256)
}

// Load legge default, file opzionale e ambiente (l'ambiente vince sul file).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	// come negli altri servizi: HOSTNAME come client id se non specificato
	_ = v.BindEnv("rabbitmq_clientid", "RABBITMQ_CLIENTID", "HOSTNAME")

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Printf("config: loaded %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ControlSubTopics = cleanList(cfg.ControlSubTopics)
	cfg.UnboundTopics = cleanList(cfg.UnboundTopics)
	cfg.AlertKafkaBrokers = cleanList(cfg.AlertKafkaBrokers)
	cfg.CORSAllowedOrigins = cleanList(cfg.CORSAllowedOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("config: workers must be > 0")
	case c.QueueSize <= 0:
		return fmt.Errorf("config: queue_size must be > 0")
	case c.HistorySize < 0:
		return fmt.Errorf("config: history_size must be >= 0")
	case c.PollDefaultInterval <= 0:
		return fmt.Errorf("config: poll_default_interval must be > 0")
	case c.AlertDedupWindow <= 0:
		return fmt.Errorf("config: alert_dedup_window must be > 0")
	case c.DBDriver != "sqlite" && c.DBDriver != "pgx":
		return fmt.Errorf("config: unsupported db_driver %q", c.DBDriver)
	case c.SMTPTLS != "opportunistic" && c.SMTPTLS != "mandatory" && c.SMTPTLS != "none":
		return fmt.Errorf("config: unsupported smtp_tls %q", c.SMTPTLS)
	}
	return nil
}

// Rabbit ritorna la configurazione del broker di default.
func (c Config) Rabbit() rabbitmq.RabbitMQConfig {
	return rabbitmq.RabbitMQConfig{
		Host:          c.RabbitHost,
		Port:          c.RabbitPort,
		User:          c.RabbitUser,
		Password:      c.RabbitPassword,
		ClientID:      c.RabbitClientID,
		RetryInterval: c.MQTTRetryInterval,
	}
}

// cleanList gestisce sia liste vere sia stringhe "a, b,c" arrivate dall'ambiente.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
