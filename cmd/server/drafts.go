package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"skill-forge/internal/validate"
)

func draftsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:     "drafts",
		Aliases: []string{"ls"},
		Short:   "List drafts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*cfg)
			if err != nil {
				return err
			}
			drafts, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(drafts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No drafts found.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tSTATUS\tCREATED")
			for _, d := range drafts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Kind, d.Status, humanize.Time(d.CreatedAt))
			}
			return tw.Flush()
		},
	}
}

func validateCmd(cfg *Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate <draft>",
		Short: "Validate a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*cfg)
			if err != nil {
				return err
			}
			d, err := store.Get(args[0])
			if err != nil {
				return err
			}

			result := validate.Validate(d.Path)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printIssues(cmd.OutOrStdout(), result)
			if !result.Valid {
				return fmt.Errorf("%s has %d validation errors", d.Name, len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func promoteCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <draft>",
		Short: "Install a plugin draft into the plugins directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*cfg)
			if err != nil {
				return err
			}
			result, err := newPipeline(store, *cfg).Promote(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printIssues(out, result.Validation)
			if result.External != nil && !result.External.Passed {
				fmt.Fprintf(out, "external validator failed: %s\n", result.External.Output)
			}
			fmt.Fprintf(out, "Promoted %s@%s to %s\n", result.Name, result.Version, result.InstallPath)
			return nil
		},
	}
}

func printIssues(w io.Writer, r *validate.Result) {
	if r == nil {
		return
	}
	for _, is := range r.Errors {
		fmt.Fprintf(w, "error   %s %s: %s\n", is.File, is.Field, is.Message)
	}
	for _, is := range r.Warnings {
		fmt.Fprintf(w, "warning %s %s: %s\n", is.File, is.Field, is.Message)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
