package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:9091"

func newRootCommand() *cobra.Command {
	var (
		serverFlag string
		jsonFlag   bool
		timeout    time.Duration
	)

	env := &cliEnv{}

	rootCmd := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Manage the video search library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env.client = newAPIClient(serverFlag, timeout)
			env.json = jsonFlag
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("VIDEO_SEARCH_URL")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", server, "Base URL of the video search server")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print raw JSON instead of tables")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "HTTP request timeout")

	rootCmd.AddCommand(
		newListCommand(env),
		newStatusCommand(env),
		newAddCommand(env),
		newRetryCommand(env),
		newDeleteCommand(env),
		newSearchCommand(env),
	)
	return rootCmd
}

type cliEnv struct {
	client *apiClient
	json   bool
}
