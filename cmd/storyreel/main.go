package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kikiluvv/storyreel/internal/config"
	"github.com/kikiluvv/storyreel/internal/logging"
	"github.com/kikiluvv/storyreel/internal/server"
	"github.com/kikiluvv/storyreel/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile   string
	envFile   string
	verbose   bool
	logCloser io.Closer
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "storyreel",
	Short: "storyreel - narrated slideshow videos from plain text",
	Long: "Turns a story into a narrated video: AI images, synthesized speech, " +
		"timed subtitles and background music, recorded to WebM.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return fmt.Errorf("load env: %w", err)
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		closer, err := logging.InitWithFile(verbose, cfg.Server.LogFile)
		if err != nil {
			return err
		}
		logCloser = closer

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./storyreel.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with API keys")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(configCmd)
}

var catalogCmd = &cobra.Command{
	Use:       "catalog [voices|emotions|music|ratios|speeds|styles]",
	Short:     "List the selectable options",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"voices", "emotions", "music", "ratios", "speeds", "styles"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c := server.NewCatalog()
		out := cmd.OutOrStdout()
		switch args[0] {
		case "voices":
			for _, v := range c.Voices {
				fmt.Fprintf(out, "%-36s %s\n", v.ID, v.Label)
			}
		case "emotions":
			for _, e := range c.Emotions {
				fmt.Fprintf(out, "%-12s %s\n", e.ID, e.Label)
			}
		case "music":
			for _, t := range c.Music {
				fmt.Fprintf(out, "%-32s %s\n", t.ID, t.Label)
			}
		case "ratios":
			for _, r := range c.Ratios {
				fmt.Fprintln(out, r)
			}
		case "speeds":
			for _, s := range c.Speeds {
				fmt.Fprintf(out, "%.2fx\n", s)
			}
		case "styles":
			for _, s := range c.Styles {
				fmt.Fprintln(out, s)
			}
		default:
			return fmt.Errorf("unknown catalog %q", args[0])
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "storyreel.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("Config written")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration, secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *config.FromContext(cmd.Context())
		cfg.Speech.AccessKey = mask(cfg.Speech.AccessKey)
		cfg.Images.APIKey = mask(cfg.Images.APIKey)
		cfg.Prompts.APIKey = mask(cfg.Prompts.APIKey)
		cfg.Prompts.GeminiAPIKey = mask(cfg.Prompts.GeminiAPIKey)

		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
