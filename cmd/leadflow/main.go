package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caselink/leadflow/internal/api"
	"github.com/caselink/leadflow/internal/genai"
	"github.com/caselink/leadflow/internal/store"
	"github.com/caselink/leadflow/internal/twiliowhatsapp"
	"github.com/caselink/leadflow/internal/util"
	"github.com/caselink/leadflow/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for leadflow state data
	DefaultStateDir = "/var/lib/leadflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadflow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags, config)
	twilioOpts := buildTwilioOptions(config)
	apiOpts := buildAPIOptions(flags, config)

	// Start the service
	slog.Info("Bootstrapping leadflow with configured modules")
	slog.Debug("Module options counts",
		"whatsapp", len(waOpts), "store", len(storeOpts), "genai", len(genaiOpts),
		"twilio", len(twilioOpts), "api", len(apiOpts))
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr, "transport", *flags.transport)
	if err := api.Run(waOpts, storeOpts, genaiOpts, twilioOpts, apiOpts); err != nil {
		slog.Error("leadflow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("leadflow exited successfully")
}

// Config holds environment configuration
type Config struct {
	NumericCode     bool
	WhatsAppDSN     string
	DatabaseURL     string
	StateDir        string
	OpenAIKey       string
	APIAddr         string
	Transport       string
	FlowFile        string
	LawyerPhones    string
	StrictAttempts  int
	GenAICooldown   time.Duration
	GenAITimeout    time.Duration
	ShutdownTimeout time.Duration
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	openaiKey    *string
	apiAddr      *string
	transport    *string
	flowFile     *string
	lawyerPhones *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		NumericCode:     util.ParseBoolEnv("LEADFLOW_NUMERIC_CODE", false),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("LEADFLOW_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		APIAddr:         os.Getenv("API_ADDR"),
		Transport:       os.Getenv("LEADFLOW_TRANSPORT"),
		FlowFile:        os.Getenv("LEADFLOW_FLOW_FILE"),
		LawyerPhones:    os.Getenv("LEADFLOW_LAWYER_PHONES"),
		StrictAttempts:  util.ParseIntEnv("LEADFLOW_STRICT_ATTEMPTS", 0),
		GenAICooldown:   util.ParseDurationEnv("LEADFLOW_GENAI_COOLDOWN", 0),
		GenAITimeout:    util.ParseDurationEnv("LEADFLOW_GENAI_TIMEOUT", 0),
		ShutdownTimeout: util.ParseDurationEnv("LEADFLOW_SHUTDOWN_TIMEOUT", 0),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("LEADFLOW_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Default to WhatsApp DSN if specific not set
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as WHATSAPP_DB_DSN", "dsn_set", true)
		}
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"LEADFLOW_TRANSPORT", config.Transport,
		"LEADFLOW_FLOW_FILE", config.FlowFile,
		"LEADFLOW_LAWYER_PHONES_SET", config.LawyerPhones != "",
		"TWILIO_CONFIGURED", config.TwilioSID != "" && config.TwilioToken != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code (overrides $LEADFLOW_NUMERIC_CODE)"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for leadflow data (overrides $LEADFLOW_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp and lead store (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		transport:    flag.String("transport", config.Transport, "messaging transport: whatsapp or twilio (overrides $LEADFLOW_TRANSPORT)"),
		flowFile:     flag.String("flow-file", config.FlowFile, "path to a JSON flow definition (overrides $LEADFLOW_FLOW_FILE)"),
		lawyerPhones: flag.String("lawyer-phones", config.LawyerPhones, "comma-separated lawyer WhatsApp numbers for lead alerts (overrides $LEADFLOW_LAWYER_PHONES)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport,
		"flowFile", *flags.flowFile,
		"lawyerPhonesSet", *flags.lawyerPhones != "")

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.WhatsAppDSN && config.WhatsAppDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		slog.Debug("Configuring lead store", "dsn_type", store.DetectDSNType(*flags.dbDSN), "dsn_set", true)
		storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags, config Config) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if config.GenAICooldown > 0 {
		genaiOpts = append(genaiOpts, genai.WithCooldown(config.GenAICooldown))
	}
	if config.GenAITimeout > 0 {
		genaiOpts = append(genaiOpts, genai.WithRequestTimeout(config.GenAITimeout))
	}
	return genaiOpts
}

// buildTwilioOptions constructs Twilio transport configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var twilioOpts []twiliowhatsapp.Option
	if config.TwilioSID != "" {
		twilioOpts = append(twilioOpts, twiliowhatsapp.WithAccountSID(config.TwilioSID))
	}
	if config.TwilioToken != "" {
		twilioOpts = append(twilioOpts, twiliowhatsapp.WithAuthToken(config.TwilioToken))
	}
	if config.TwilioFrom != "" {
		twilioOpts = append(twilioOpts, twiliowhatsapp.WithFromWhats(config.TwilioFrom))
	}
	return twilioOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if config.StrictAttempts > 0 {
		apiOpts = append(apiOpts, api.WithStrictAttempts(config.StrictAttempts))
	}
	if config.ShutdownTimeout > 0 {
		apiOpts = append(apiOpts, api.WithShutdownTimeout(config.ShutdownTimeout))
	}
	if *flags.stateDir != "" {
		apiOpts = append(apiOpts, api.WithStateDir(*flags.stateDir))
	}
	if *flags.transport != "" {
		apiOpts = append(apiOpts, api.WithTransport(*flags.transport))
	}
	if *flags.flowFile != "" {
		apiOpts = append(apiOpts, api.WithFlowFile(*flags.flowFile))
	}
	if *flags.lawyerPhones != "" {
		phones := strings.Split(*flags.lawyerPhones, ",")
		for i := range phones {
			phones[i] = strings.TrimSpace(phones[i])
		}
		apiOpts = append(apiOpts, api.WithLawyerPhones(phones))
	}
	return apiOpts
}
