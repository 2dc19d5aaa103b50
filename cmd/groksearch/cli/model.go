package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gudastudio/groksearch/internal/config"
)

var modelCmd = &cobra.Command{
	Use:   "model [name]",
	Short: "Show or set the default model",
	Long: `Without arguments, prints the model that serve will use. With a name,
persists it as the new default for subsequent server runs.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := getStore()
		defer s.Close()

		if len(args) == 0 {
			saved, err := s.GetSetting("model")
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if saved == "" {
				path := configPath
				if path == "" {
					path = config.DefaultPath()
				}
				cfg, err := config.Load(path)
				if err != nil {
					fmt.Printf("Error: %v\n", err)
					os.Exit(1)
				}
				saved = cfg.Model
			}
			fmt.Println(saved)
			return
		}

		if err := s.SetSetting("model", args[0]); err != nil {
			fmt.Printf("Failed to save model: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default model set to %s\n", args[0])
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent searches from the audit log",
	Run: func(cmd *cobra.Command, args []string) {
		s := getStore()
		defer s.Close()

		records, err := s.RecentSearches(recentLimit)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if len(records) == 0 {
			fmt.Println("(no searches recorded)")
			return
		}
		for _, r := range records {
			fmt.Printf("%s  %-12s  %4d sources  %6dms  %s\n",
				r.CreatedAt.Format("2006-01-02 15:04"), r.Model, r.SourceCount, r.DurationMS, r.Query)
		}
	},
}

var recentLimit int

func init() {
	RootCmd.AddCommand(modelCmd)
	RootCmd.AddCommand(recentCmd)
	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 20, "Number of searches to show")
}
