package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gryf/slackbak/internal/assets"
	"github.com/gryf/slackbak/internal/config"
	"github.com/gryf/slackbak/internal/logging"
	"github.com/gryf/slackbak/internal/report"
	"github.com/gryf/slackbak/internal/slack"
	"github.com/gryf/slackbak/internal/store"
	"github.com/gryf/slackbak/internal/sync"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	flagConfig   string
	flagDatabase string
	flagChannels []string
	flagVerbose  int
	flagQuiet    int
)

func main() {
	// Secrets may live in a .env next to the working directory.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "slackbak",
		Short: "Archive Slack history into a local database",
		Long: `Slackbak pulls a Slack workspace's channels, users and message
history into a local SQLite database, downloads shared files, and
renders per-channel text transcripts.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "i", "", "Use specific config file")
	rootCmd.PersistentFlags().StringVarP(&flagDatabase, "database", "d", "", "Path to the database file")
	rootCmd.PersistentFlags().StringSliceVarP(&flagChannels, "channels", "c", nil,
		"Channels to act on (default: all)")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v",
		"Be verbose; repeat to increase")
	rootCmd.PersistentFlags().CountVarP(&flagQuiet, "quiet", "q",
		"Be quiet; repeat to decrease")

	rootCmd.AddCommand(versionCmd(), initCmd(), fetchCmd(), generateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("slackbak %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			dbPath, err := databasePath(cfg)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(config.AssetsDirFor(dbPath), 0o755); err != nil {
				return err
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Printf("Initialized database at %s\n", dbPath)
			return nil
		},
	}
}

func fetchCmd() *cobra.Command {
	var token, team, user, password string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Update the local database with Slack data",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(flagVerbose, flagQuiet)

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if token == "" {
				token = cfg.Fetch.Token
			}
			if token == "" {
				token = os.Getenv("SLACK_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("a slack API token is required (flag, config or SLACK_TOKEN)")
			}
			if team == "" {
				team = cfg.Fetch.Team
			}
			if user == "" {
				user = cfg.Fetch.User
			}
			if password == "" {
				password = cfg.Fetch.Password
			}
			if password == "" {
				password = os.Getenv("SLACK_PASSWORD")
			}

			dbPath, err := databasePath(cfg)
			if err != nil {
				return err
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			downloader := assets.NewDownloader(team, user, password,
				config.AssetsDirFor(dbPath), log)
			resolver := assets.NewResolver(downloader, log)
			client := slack.NewClient(token)

			engine := sync.New(st, client, resolver, downloader, log, sync.Options{
				Channels: channels(cfg),
			})

			res, err := engine.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Users: %d created, %d updated\n", res.UsersCreated, res.UsersUpdated)
			fmt.Printf("Channels: %d created, %d updated\n", res.ChannelsCreated, res.ChannelsUpdated)
			failed := false
			for _, ch := range res.Channels {
				fmt.Printf("  #%s: %s, %d messages, %d files, %d skipped\n",
					ch.Channel, ch.State, ch.Messages, ch.Files, ch.Skipped)
				if ch.State == sync.StateError {
					failed = true
				}
			}
			fmt.Printf("Done in %s\n", res.Duration)
			if failed {
				return fmt.Errorf("some channels failed to sync; re-run to resume")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&token, "token", "t", "", "Slack API token")
	cmd.Flags().StringVarP(&team, "team", "e", "", "Team name (the <team> of <team>.slack.com)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Username for the Slack account")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password for the Slack account")
	return cmd
}

func generateCmd() *cobra.Command {
	var output, format, theme string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate transcripts out of the local database",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(flagVerbose, flagQuiet)

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.Generate.Output
			}
			if output == "" {
				output = "logs"
			}
			if format == "" {
				format = cfg.Generate.Format
			}
			if theme == "" {
				theme = cfg.Generate.Theme
			}
			if theme == "" {
				theme = "plain"
			}

			dbPath, err := databasePath(cfg)
			if err != nil {
				return err
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			reporter := report.New(format, st, report.Options{
				Output:   output,
				Theme:    theme,
				Channels: channels(cfg),
			}, log)
			return reporter.Generate()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory for transcripts")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format (text, none)")
	cmd.Flags().StringVarP(&theme, "theme", "m", "", "Theme for text output (plain, unicode)")
	return cmd
}

func databasePath(cfg *config.Config) (string, error) {
	if flagDatabase != "" {
		return flagDatabase, nil
	}
	if cfg.Common.Database != "" {
		return cfg.Common.Database, nil
	}
	path, err := config.DefaultDatabasePath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func channels(cfg *config.Config) []string {
	if len(flagChannels) > 0 {
		return flagChannels
	}
	return cfg.Common.Channels
}
