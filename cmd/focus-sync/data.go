package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/focus-sync/internal/document"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print a local value, or every synchronized field",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if len(args) == 1 {
				v, ok, err := a.store.Get(args[0])
				if err != nil {
					return userError(err)
				}

				if !ok {
					return fmt.Errorf("%s is not set", args[0])
				}

				fmt.Fprintln(cmd.OutOrStdout(), v)

				return nil
			}

			doc, err := localDocument(a)
			if err != nil {
				return err
			}

			for _, k := range doc.Keys() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", k, doc[k])
			}

			return nil
		}),
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a local value and sync it if it belongs to the document",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			return writeAndFlush(cmd, a, func() error { return a.store.Set(args[0], args[1]) })
		}),
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a local value and sync the change",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			return writeAndFlush(cmd, a, func() error { return a.store.Remove(args[0]) })
		}),
	}
}

// writeAndFlush applies one local mutation with the change detector
// running, then sends the scheduled upload before the process exits. A
// failed upload is reported but the local write stands.
func writeAndFlush(cmd *cobra.Command, a *app, write func() error) error {
	if err := a.writable(); err != nil {
		return err
	}

	a.engine.Start(cmd.Context())

	if err := write(); err != nil {
		return userError(err)
	}

	if err := a.engine.Flush(cmd.Context()); err != nil {
		a.logger.Warn("upload after local write failed", slog.String("error", err.Error()))
		fmt.Fprintf(cmd.ErrOrStderr(), "saved locally, not synced: %s\n", userError(err))
	}

	return nil
}

func localDocument(a *app) (document.Document, error) {
	values, err := a.store.All()
	if err != nil {
		return nil, userError(err)
	}

	return document.Collect(values), nil
}

func exportCmd() *cobra.Command {
	var (
		format string
		remote bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the synchronized document",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			doc, err := localDocument(a)
			if err != nil {
				return err
			}

			if remote {
				cred, err := a.credential(cmd.Context())
				if err != nil {
					return err
				}

				rec, err := a.remote.GetDocument(cmd.Context(), cred)
				if err != nil {
					return userError(err)
				}

				doc = rec.Document
			}

			return writeDocument(cmd.OutOrStdout(), doc, format)
		}),
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, yaml)")
	cmd.Flags().BoolVar(&remote, "remote", false, "Export the server's copy instead of the local one")

	return cmd
}

// writeDocument renders doc. Field values that hold JSON are decoded so
// the output is readable; other values are printed as strings.
func writeDocument(w io.Writer, doc document.Document, format string) error {
	out := make(map[string]any, len(doc))

	for k, v := range doc {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

func diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Show what a pull would change locally",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			local, err := localDocument(a)
			if err != nil {
				return err
			}

			cred, err := a.credential(cmd.Context())
			if err != nil {
				return err
			}

			rec, err := a.remote.GetDocument(cmd.Context(), cred)
			if err != nil {
				return userError(err)
			}

			writeDiff(cmd.OutOrStdout(), document.Diff(local, rec.Document))

			return nil
		}),
	}
}

func writeDiff(w io.Writer, changes []document.FieldChange) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "up to date")
		return
	}

	for _, c := range changes {
		switch c.Kind {
		case document.ChangeAdded:
			fmt.Fprintf(w, "+ %s = %s\n", c.Key, c.Remote)
		case document.ChangeRemoved:
			fmt.Fprintf(w, "  %s (local only, kept)\n", c.Key)
		case document.ChangeModified:
			fmt.Fprintf(w, "~ %s: %s\n", c.Key, c.PrettyText())
		}
	}
}

