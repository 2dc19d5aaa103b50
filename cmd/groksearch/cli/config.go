package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gudastudio/groksearch/internal/config"
	"github.com/gudastudio/groksearch/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage persisted settings",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a setting",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		s := getStore()
		defer s.Close()

		if err := s.SetSetting(args[0], args[1]); err != nil {
			fmt.Printf("Failed to set %s: %v\n", args[0], err)
			os.Exit(1)
		}
		fmt.Printf("Setting saved: %s\n", args[0])
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a setting",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := getStore()
		defer s.Close()

		val, err := s.GetSetting(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if val == "" {
			fmt.Println("(not set)")
		} else {
			fmt.Println(val)
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with masked credentials",
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("api_url:            %s\n", cfg.APIURL)
		fmt.Printf("api_key:            %s\n", config.MaskKey(cfg.APIKey))
		fmt.Printf("model:              %s\n", cfg.Model)
		fmt.Printf("tavily_api_key:     %s\n", config.MaskKey(cfg.TavilyAPIKey))
		fmt.Printf("firecrawl_api_key:  %s\n", config.MaskKey(cfg.FirecrawlAPIKey))
		fmt.Printf("session_ttl:        %s\n", cfg.SessionTTL)
		fmt.Printf("max_sessions:       %d\n", cfg.MaxSessions)
		fmt.Printf("retry_max_attempts: %d\n", cfg.RetryMaxAttempts)
	},
}

func getStore() *store.Store {
	s, err := store.Open(filepath.Join(config.DataDir(), "groksearch.db"))
	if err != nil {
		fmt.Printf("Failed to open settings database: %v\n", err)
		os.Exit(1)
	}
	return s
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configShowCmd)
}
