package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/i2y/merco/llm"
	"github.com/i2y/merco/tools"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "merco",
		Short:         "Run crews of LLM agents defined in Markdown",
		Long:          "merco runs a crew directory: agents/*.md define personas, tasks/**/*.md define the work, executed in order with each output handed to the next task.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCmd(), newCheckCmd(), newProvidersCmd(), newToolsCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <crew-dir>",
		Short: "Run every task of a crew and print the final output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrew(cmd.Context(), args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	addConfigFlags(cmd, &opts)
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Stream completions and echo text to stderr")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Print the output of every task, not only the last")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "check <crew-dir>",
		Short: "Load a crew and validate its configuration without calling any model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkCrew(args[0], opts, cmd.OutOrStdout())
		},
	}

	addConfigFlags(cmd, &opts)
	return cmd
}

func addConfigFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default <crew-dir>/merco.yaml)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Provider override")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model override")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "API base URL override")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the available providers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range llm.Providers().Available() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools agents can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := tools.NewWorkspace(".")
			if err != nil {
				return err
			}
			for _, t := range tools.Builtin(w) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", t.Name(), t.Description())
			}
			return nil
		},
	}
}
