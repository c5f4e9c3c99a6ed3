package config

import "github.com/spf13/viper"

type Config struct {
	Running struct {
		Port   int    `mapstructure:"port"`
		NodeID string `mapstructure:"nodeId"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Collab struct {
		// Concurrency window thresholds in milliseconds. Heuristic
		// policy, safe to tune.
		WindowPrefilterMs int `mapstructure:"windowPrefilterMs"`
		WindowRadiusMs    int `mapstructure:"windowRadiusMs"`
		MaxAppendAttempts int `mapstructure:"maxAppendAttempts"`
	} `mapstructure:"collab"`
	Replication struct {
		QueueSize     int `mapstructure:"queueSize"`
		Workers       int `mapstructure:"workers"`
		MaxRetry      int `mapstructure:"maxRetry"`
		MaxInflight   int `mapstructure:"maxInflight"`
		BaseBackoffMs int `mapstructure:"baseBackoffMs"`
		MaxBackoffMs  int `mapstructure:"maxBackoffMs"`
		LivenessTTLs  int `mapstructure:"livenessTtlSeconds"`
	} `mapstructure:"replication"`
}

// Load reads collabConfig.yaml from the usual locations, working from
// either the project root or the backend directory.
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
