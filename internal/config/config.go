package config

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// NATS Configuration
	NatsURL        string
	Stream         string
	Subject        string
	Durable        string
	QueueGroup     string
	ResponsePrefix string
	MaxMsgs        int
	MaxAge         time.Duration
	AckWait        time.Duration
	MaxDeliver     int
	MaxAckPending  int
	Concurrency    int

	// Monitoring Configuration
	MonitoringTopic       string
	BackpressureThreshold int

	// HTTP Configuration
	HTTPAddr string

	// Model Configuration
	ServiceName    string
	APIKey         string
	BaseURL        string
	ClassifyModel  string
	GenerateModel  string
	SynthModel     string
	CreativeModel  string
	ClassifyTemp   float64
	GenerateTemp   float64
	SynthTemp      float64
	CreativeTemp   float64
	LLMConcurrency int

	// Pipeline Configuration
	RunBudget         time.Duration
	ClassifyTimeout   time.Duration
	GenerateTimeout   time.Duration
	ExecuteTimeout    time.Duration
	SynthTimeout      time.Duration
	QuestionMaxLen    int
	RowCap            int
	RegistryRetention time.Duration
	ShortcutTriggers  []string

	// Database Configuration
	StatsDBPath      string
	AuditDBPath      string
	AuditBusyTimeout time.Duration
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	return &Config{
		NatsURL:        getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		Stream:         getEnv("STREAM_NAME", "ANALYTICS"),
		Subject:        getEnv("SUBJECT", "analytics.query.request"),
		Durable:        getEnv("QUEUE_DURABLE", "analytics-wq"),
		QueueGroup:     getEnv("QUEUE_GROUP", "workers"),
		ResponsePrefix: getEnv("RESPONSE_PREFIX", "analytics.query.reply"),
		MaxMsgs:        getEnvInt("QUEUE_MAX_MSGS", 2000),
		MaxAge:         getEnvDuration("QUEUE_MAX_AGE", "30s"),
		AckWait:        getEnvDuration("ACK_WAIT", "90s"),
		MaxDeliver:     getEnvInt("MAX_DELIVER", 5),
		MaxAckPending:  getEnvInt("MAX_ACK_PENDING", 64),
		Concurrency:    getEnvInt("WORKER_CONCURRENCY", 2),

		MonitoringTopic:       getEnv("MONITORING_TOPIC", "monitoring.backpressure"),
		BackpressureThreshold: getEnvInt("BACKPRESSURE_THRESHOLD", 10),

		HTTPAddr: getEnv("HTTP_ADDR", ":8082"),

		ServiceName:    getEnv("SERVICE_NAME", "analytics"),
		APIKey:         getEnv("LLM_API_KEY", ""),
		BaseURL:        getEnv("LLM_BASE_URL", "https://api.deepseek.com/v1/chat/completions"),
		ClassifyModel:  getEnv("MODEL_CLASSIFY", "deepseek-chat"),
		GenerateModel:  getEnv("MODEL_GENERATE", "deepseek-chat"),
		SynthModel:     getEnv("MODEL_SYNTH", "deepseek-chat"),
		CreativeModel:  getEnv("MODEL_CREATIVE", "deepseek-chat"),
		ClassifyTemp:   getEnvFloat("TEMP_CLASSIFY", 0.0),
		GenerateTemp:   getEnvFloat("TEMP_GENERATE", 0.0),
		SynthTemp:      getEnvFloat("TEMP_SYNTH", 0.7),
		CreativeTemp:   getEnvFloat("TEMP_CREATIVE", 1.3),
		LLMConcurrency: getEnvInt("LLM_CONCURRENCY", 10),

		RunBudget:         getEnvDuration("RUN_BUDGET", "60s"),
		ClassifyTimeout:   getEnvDuration("CLASSIFY_TIMEOUT", "10s"),
		GenerateTimeout:   getEnvDuration("GENERATE_TIMEOUT", "20s"),
		ExecuteTimeout:    getEnvDuration("EXECUTE_TIMEOUT", "10s"),
		SynthTimeout:      getEnvDuration("SYNTH_TIMEOUT", "25s"),
		QuestionMaxLen:    getEnvInt("QUESTION_MAX_LEN", 256),
		RowCap:            getEnvInt("ROW_CAP", 200),
		RegistryRetention: getEnvDuration("REGISTRY_RETENTION", "1800s"),
		ShortcutTriggers:  getEnvList("SHORTCUT_TRIGGERS", "锐评,整活,讲个段子"),

		StatsDBPath:      getEnv("STATS_DB_PATH", "data/stats.sqlite"),
		AuditDBPath:      getEnv("AUDIT_DB_PATH", "data/audit.sqlite"),
		AuditBusyTimeout: getEnvDuration("AUDIT_BUSY_TIMEOUT", "2s"),
	}, nil
}

func loadDotEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key, defaultVal string) time.Duration {
	val := getEnv(key, defaultVal)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaultVal)
	return d
}

func getEnvList(key, defaultVal string) []string {
	val := getEnv(key, defaultVal)
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
