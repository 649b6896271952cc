package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Sadiq-Teslim/kula-website/internal/transport"
	"github.com/joho/godotenv"
)

const (
	DefaultServerURL = "https://kula-server.onrender.com"
	DefaultModelURL  = "https://teachablemachine.withgoogle.com/models/BaY5gFQ9K/"
	DefaultMic       = "arecord -q -f S16_LE -r 16000 -c 1 -t raw"
)

// Config holds application configuration.
type Config struct {
	ServerURL      string
	RequestTimeout time.Duration
	SpeechLang     string
	AssemblyAIKey  string
	MicCommand     string
	CameraCommand  string
	ModelURL       string
	PredictURL     string

	LogFile  string
	LogLevel string

	AdvisorAddress string
	// AdvisorBackend selects the reply source: scripted, chat or gemini.
	AdvisorBackend string
	ChatAPIKey     string
	ChatModel      string
	GeminiProject  string
	GeminiLocation string
	GeminiModel    string

	// Warnings collects problems found while loading. They are reported once
	// a logger exists.
	Warnings []string
}

// Load reads the environment (and .env when present) and returns Config with
// sane defaults.
func Load() Config {
	var warnings []string
	if err := godotenv.Load(); err != nil {
		warnings = append(warnings, "no .env file loaded")
	}

	timeout := transport.DefaultTimeout
	if v := os.Getenv("KULA_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			warnings = append(warnings, fmt.Sprintf("invalid KULA_REQUEST_TIMEOUT %q, using %s", v, timeout))
		} else {
			timeout = d
		}
	}

	cfg := Config{
		ServerURL:      getEnv("KULA_SERVER_URL", DefaultServerURL),
		RequestTimeout: timeout,
		SpeechLang:     getEnv("KULA_SPEECH_LANG", "en-US"),
		AssemblyAIKey:  os.Getenv("ASSEMBLYAI_API_KEY"),
		MicCommand:     getEnv("KULA_MIC_COMMAND", DefaultMic),
		CameraCommand:  os.Getenv("KULA_CAMERA_COMMAND"),
		ModelURL:       getEnv("KULA_MODEL_URL", DefaultModelURL),
		PredictURL:     os.Getenv("KULA_PREDICT_URL"),
		LogFile:        getEnv("KULA_LOG_FILE", "kula.log"),
		LogLevel:       getEnv("KULA_LOG_LEVEL", "info"),
		AdvisorAddress: getEnv("KULA_ADVISOR_ADDRESS", ":8080"),
		AdvisorBackend: getEnv("KULA_ADVISOR_BACKEND", "scripted"),
		ChatAPIKey:     os.Getenv("CEREBRAS_API_KEY"),
		ChatModel:      getEnv("CEREBRAS_MODEL_ID", "gpt-oss-120b"),
		GeminiProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		GeminiLocation: getEnv("GOOGLE_CLOUD_LOCATION", "us-central1"),
		GeminiModel:    getEnv("KULA_GEMINI_MODEL", "gemini-2.5-flash"),
	}
	if cfg.AssemblyAIKey == "" {
		warnings = append(warnings, "ASSEMBLYAI_API_KEY not set - voice input will not work")
	}
	if cfg.PredictURL == "" {
		warnings = append(warnings, "KULA_PREDICT_URL not set - photo analysis will not work")
	}
	if cfg.CameraCommand == "" {
		warnings = append(warnings, "KULA_CAMERA_COMMAND not set - camera capture is disabled")
	}
	cfg.Warnings = warnings
	return cfg
}

// BindFlags registers command line overrides for the client settings.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server", c.ServerURL, "Kula server base URL")
	fs.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "request timeout")
	fs.StringVar(&c.SpeechLang, "lang", c.SpeechLang, "speech recognition language")
	fs.StringVar(&c.MicCommand, "mic", c.MicCommand, "audio capture command (PCM16LE 16kHz mono on stdout)")
	fs.StringVar(&c.CameraCommand, "camera", c.CameraCommand, "camera capture command (image on stdout)")
	fs.StringVar(&c.ModelURL, "model", c.ModelURL, "image model base URL")
	fs.StringVar(&c.PredictURL, "predict", c.PredictURL, "image model prediction endpoint")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "log file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
}

// BindAdvisorFlags registers overrides for the local advisory service.
func (c *Config) BindAdvisorFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.AdvisorAddress, "addr", c.AdvisorAddress, "listen address")
	fs.StringVar(&c.AdvisorBackend, "backend", c.AdvisorBackend, "reply backend: scripted, chat or gemini")
	fs.StringVar(&c.ChatModel, "chat-model", c.ChatModel, "chat completions model id")
	fs.StringVar(&c.GeminiProject, "gemini-project", c.GeminiProject, "Google Cloud project for Gemini replies")
	fs.StringVar(&c.GeminiLocation, "gemini-location", c.GeminiLocation, "Google Cloud location")
	fs.StringVar(&c.GeminiModel, "gemini-model", c.GeminiModel, "Gemini model id")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
