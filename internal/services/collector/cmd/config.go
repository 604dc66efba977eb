package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/services/collector"
)

type Config struct {
	Endpoint       string
	RootCA         string
	Cert           string
	Key            string
	LogFile        string
	Topic          string
	ClientID       string
	Capacity       int
	QueueSize      int
	ResetLog       bool
	HTTPAddr       string // empty disables the HTTP API
	ConnectRetries int
	LogLevel       string

	Influx collector.InfluxConfig
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func envBool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var c Config
	fs.StringVar(&c.Endpoint, "endpoint", env("MQTT_ENDPOINT", ""), "broker endpoint (host, host:port or URL)")
	fs.StringVar(&c.RootCA, "rootCA", env("MQTT_ROOT_CA", ""), "CA bundle used to verify the broker")
	fs.StringVar(&c.Cert, "cert", env("MQTT_CERT", ""), "client certificate (PEM)")
	fs.StringVar(&c.Key, "key", env("MQTT_KEY", ""), "client private key (PEM)")
	fs.StringVar(&c.LogFile, "logFile", env("COLLECTOR_LOG_FILE", "energy_log.json"), "JSON file read by the dashboard")
	fs.StringVar(&c.Topic, "topic", env("MQTT_TOPIC", "meter/energy"), "topic to subscribe to")
	fs.StringVar(&c.ClientID, "clientId", env("COLLECTOR_ID", "Dashboard01"), "collector identifier, part of the MQTT client id")
	fs.IntVar(&c.Capacity, "capacity", envInt("LOG_CAPACITY", collector.DefaultCapacity), "readings kept in the log")
	fs.IntVar(&c.QueueSize, "queueSize", envInt("INBOX_SIZE", collector.DefaultQueueSize), "deliveries buffered ahead of the writer")
	fs.BoolVar(&c.ResetLog, "resetLog", envBool("RESET_LOG", false), "start from an empty log instead of resuming the file")
	fs.StringVar(&c.HTTPAddr, "httpAddr", env("HTTP_ADDR", ""), "listen address for /healthz, /readyz, /readings/latest and /metrics")
	fs.IntVar(&c.ConnectRetries, "connectRetries", envInt("MQTT_CONNECT_RETRIES", 0), "extra connect attempts")
	fs.StringVar(&c.LogLevel, "logLevel", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	c.Influx = collector.InfluxConfig{
		URL:    env("INFLUX_URL", ""),
		Token:  env("INFLUX_TOKEN", ""),
		Org:    env("INFLUX_ORG", ""),
		Bucket: env("INFLUX_BUCKET", ""),
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"endpoint": c.Endpoint, "cert": c.Cert, "key": c.Key,
		"logFile": c.LogFile, "topic": c.Topic, "clientId": c.ClientID,
	} {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("--%s is required", name))
		}
	}
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("--capacity must be > 0, got %d", c.Capacity))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("--queueSize must be > 0, got %d", c.QueueSize))
	}
	if c.ConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("--connectRetries must be >= 0, got %d", c.ConnectRetries))
	}
	return errors.Join(errs...)
}

func (c Config) Policy() collector.Policy {
	if c.ResetLog {
		return collector.PolicyReset
	}
	return collector.PolicyResume
}

func (c Config) SessionClientID(now time.Time) string {
	return fmt.Sprintf("subscriber_%s_%d", c.ClientID, now.Unix())
}
