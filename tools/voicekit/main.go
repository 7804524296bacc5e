package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltairaLabs/VoiceKit/pkg/config"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
	"github.com/AltairaLabs/VoiceKit/runtime/version"
)

// Flag and viper key names shared across commands.
const (
	keyConfig   = "config"
	keyEnvFile  = "env_file"
	keyVerbose  = "verbose"
	keyRelayURL = "relay_url"
	keyTokenURL = "token_url"
)

var rootCmd = &cobra.Command{
	Use:           "voicekit",
	Short:         "VoiceKit - real-time voice conversation client",
	Version:       version.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `VoiceKit runs spoken conversations with an AI agent.

It negotiates a realtime session first and falls back to a streaming relay,
capturing the microphone and playing the agent's replies on the default
output device.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(viper.GetStringSlice(keyEnvFile)...); err != nil {
			return err
		}
		if viper.GetBool(keyVerbose) {
			logger.SetVerbose(true)
		}
		return nil
	},
}

func init() {
	viper.SetEnvPrefix("VOICEKIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.StringP(keyConfig, "c", "", "Path to a voicekit.yaml configuration file")
	flags.StringSlice("env-file", []string{".env"}, "Env files loaded before configuration")
	flags.BoolP(keyVerbose, "v", false, "Enable debug logging")
	flags.String("relay-url", "", "Override the streaming relay URL")
	flags.String("token-url", "", "Override the realtime token endpoint")

	_ = viper.BindPFlag(keyConfig, flags.Lookup(keyConfig))
	_ = viper.BindPFlag(keyEnvFile, flags.Lookup("env-file"))
	_ = viper.BindPFlag(keyVerbose, flags.Lookup(keyVerbose))
	_ = viper.BindPFlag(keyRelayURL, flags.Lookup("relay-url"))
	_ = viper.BindPFlag(keyTokenURL, flags.Lookup("token-url"))
}

// readConfig builds the effective configuration: defaults, file, environment,
// then command-line overrides. It does not validate.
func readConfig() (*config.Config, error) {
	cfg, err := config.Read(viper.GetString(keyConfig))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString(keyRelayURL); v != "" {
		cfg.Streaming.URL = v
	}
	if v := viper.GetString(keyTokenURL); v != "" {
		cfg.Realtime.TokenURL = v
	}
	configureLogging(cfg)
	return cfg, nil
}

// loadConfig is readConfig followed by validation.
func loadConfig() (*config.Config, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configureLogging(cfg *config.Config) {
	logger.Configure(&logger.LoggingConfigSpec{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		CommonFields: cfg.Logging.CommonFields,
		Modules:      cfg.Logging.Modules,
	})
	if viper.GetBool(keyVerbose) {
		logger.SetLevel(slog.LevelDebug)
	}
	version.LogStartup(context.Background())
}

// setupVersion configures the version display
func setupVersion() {
	rootCmd.SetVersionTemplate(version.Get().String() + "\n")
}

func Execute() {
	setupVersion()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(describe(err)))
		os.Exit(1)
	}
}

func main() {
	Execute()
}
