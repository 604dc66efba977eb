package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Path           string
	Endpoint       string
	RootCA         string
	Cert           string
	Key            string
	Topic          string
	DelaySeconds   float64
	ClientID       string
	Loop           bool
	ConnectRetries int
	MetricsAddr    string // empty disables /metrics
	LogLevel       string
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

func envFloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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
	fs.StringVar(&c.Path, "path", env("METER_CSV_PATH", ""), "CSV file with Date and Value (kW) columns")
	fs.StringVar(&c.Endpoint, "endpoint", env("MQTT_ENDPOINT", ""), "broker endpoint (host, host:port or URL)")
	fs.StringVar(&c.RootCA, "rootCA", env("MQTT_ROOT_CA", ""), "CA bundle used to verify the broker")
	fs.StringVar(&c.Cert, "cert", env("MQTT_CERT", ""), "client certificate (PEM)")
	fs.StringVar(&c.Key, "key", env("MQTT_KEY", ""), "client private key (PEM)")
	fs.StringVar(&c.Topic, "topic", env("MQTT_TOPIC", "meter/energy"), "topic readings are published to")
	fs.Float64Var(&c.DelaySeconds, "delay", envFloat("PUBLISH_DELAY", 2), "seconds between two publishes")
	fs.StringVar(&c.ClientID, "clientId", env("METER_ID", "SmartMeter01"), "meter identifier, part of the MQTT client id")
	fs.BoolVar(&c.Loop, "loop", envBool("REPLAY_LOOP", false), "restart from the first row at the end of the file")
	fs.IntVar(&c.ConnectRetries, "connectRetries", envInt("MQTT_CONNECT_RETRIES", 0), "extra connect attempts")
	fs.StringVar(&c.MetricsAddr, "metricsAddr", env("METRICS_ADDR", ""), "listen address for /metrics")
	fs.StringVar(&c.LogLevel, "logLevel", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"path": c.Path, "endpoint": c.Endpoint, "cert": c.Cert, "key": c.Key,
		"topic": c.Topic, "clientId": c.ClientID,
	} {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("--%s is required", name))
		}
	}
	if c.DelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("--delay must be >= 0, got %v", c.DelaySeconds))
	}
	if c.ConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("--connectRetries must be >= 0, got %d", c.ConnectRetries))
	}
	return errors.Join(errs...)
}

func (c Config) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// SessionClientID is unique per run so two simulators never steal each
// other's session.
func (c Config) SessionClientID(now time.Time) string {
	return fmt.Sprintf("publisher_%s_%d", c.ClientID, now.Unix())
}
