package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"edgehost/pkg/host"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

type typeSummary struct {
	TypeID  string `json:"type_id"`
	Name    string `json:"name"`
	Model   string `json:"model"`
	Default any    `json:"default"`
}

// NewRootCommand builds the edgehost command tree. Running the bare command serves.
func NewRootCommand(version, commit, date string) *cobra.Command {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "edgehost",
		Short: "Edgehost - endpoint instance host",
		Long: `Edgehost hosts pluggable output endpoints, drives their start/stop/configure
lifecycle and exposes it over an authenticated HTTP API.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configDir)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory holding app.yaml and .env")

	rootCmd.AddCommand(
		newServeCommand(&configDir),
		newHashPasswordCommand(),
		newTypesCommand(),
		newFingerprintCommand(),
	)

	return rootCmd
}

func newServeCommand(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the host and its management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configDir)
		},
	}
}

// newHashPasswordCommand prints a bcrypt hash suitable for ADMIN_HASH.
func newHashPasswordCommand() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash of a password for ADMIN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return fmt.Errorf("password must not be empty")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	return cmd
}

func newTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the compiled-in endpoint types and their default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := newRegistry()
			if err != nil {
				return err
			}

			summaries := make([]typeSummary, 0)
			for _, id := range registry.Types() {
				desc, err := registry.Lookup(id)
				if err != nil {
					return err
				}
				def, err := registry.DefaultConfiguration(id)
				if err != nil {
					return err
				}
				summaries = append(summaries, typeSummary{
					TypeID:  desc.TypeID,
					Name:    desc.Name,
					Model:   desc.Definition.ModelName(),
					Default: def,
				})
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summaries)
		},
	}
}

func newFingerprintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [file]",
		Short: "Print the SHA-256 fingerprint instances carry (defaults to this executable)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sum string
				err error
			)
			if len(args) == 1 {
				sum, err = host.FileFingerprint(args[0])
			} else {
				sum, err = host.ExecutableFingerprint()
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}
