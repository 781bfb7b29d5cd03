// cli.go -- One-shot subcommands operating on the store directly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MGallo-Code/obol/internal/store"
)

// withApp opens the app for one command, scoped to --scope.
func withApp(cmd *cobra.Command, st *cliState, fn func(ctx context.Context, a *app) error) error {
	ctx := store.WithScope(cmd.Context(), st.scope)
	a, err := newApp(ctx, st.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd(st *cliState) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connection state for every provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, st, func(ctx context.Context, a *app) error {
				view, err := a.engine.View(ctx)
				if err != nil {
					return err
				}
				for id, v := range view {
					view[id] = v.Redacted()
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), view)
				}

				ids := make([]string, 0, len(view))
				for id := range view {
					ids = append(ids, id)
				}
				sort.Strings(ids)

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PROVIDER\tENABLED\tCONFIGURED\tCONNECTED\tACCOUNT\tEXPIRES")
				for _, id := range ids {
					v := view[id]
					account, expires := "-", "-"
					if v.Profile != nil {
						account = v.Profile.Name
						if v.Profile.Email != "" {
							account = v.Profile.Email
						}
					}
					if v.ExpiresAt != nil {
						expires = v.ExpiresAt.Local().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%t\t%t\t%t\t%s\t%s\n", id, v.Enabled, v.Configured, v.IsConnected, account, expires)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newExportCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the MCP integration config, access tokens included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, st, func(ctx context.Context, a *app) error {
				cfg, err := a.engine.Export(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			})
		},
	}
}

func newRefreshCmd(st *cliState) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "refresh <provider>",
		Short: "Redeem the stored refresh token for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, st, func(ctx context.Context, a *app) error {
				rec, err := a.engine.Refresh(ctx, args[0], userID)
				if err != nil {
					return fmt.Errorf("refresh %s: %w", args[0], err)
				}
				msg := fmt.Sprintf("refreshed %s for user %s", args[0], rec.UserID)
				if exp := rec.ExpiresAt(); !exp.IsZero() {
					msg += ", expires " + exp.Local().Format(time.RFC3339)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: first stored account)")
	return cmd
}

func newDisconnectCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <provider>",
		Short: "Remove every stored token and profile for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, st, func(ctx context.Context, a *app) error {
				if err := a.engine.Disconnect(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "disconnected %s\n", args[0])
				return nil
			})
		},
	}
}

func newConfigureCmd(st *cliState) *cobra.Command {
	var (
		clientID, clientSecret string
		enable, disable, reset bool
	)
	cmd := &cobra.Command{
		Use:   "configure <provider>",
		Short: "Set or reset the stored configuration for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if enable && disable {
				return errors.New("--enable and --disable are mutually exclusive")
			}
			return withApp(cmd, st, func(ctx context.Context, a *app) error {
				if reset {
					if err := a.engine.Unconfigure(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "configuration for %s removed\n", args[0])
					return nil
				}

				// Start from what is stored so unset flags keep their values.
				id, ok := a.engine.Canonical(args[0])
				if !ok {
					return fmt.Errorf("unknown provider %q", args[0])
				}
				pc := store.ProviderConfig{}
				if cur, err := a.engine.Configs().Get(ctx, id); err == nil {
					pc = *cur
				} else if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if cmd.Flags().Changed("client-id") {
					pc.ClientID = clientID
				}
				if cmd.Flags().Changed("client-secret") {
					pc.ClientSecret = clientSecret
				}
				if enable || disable {
					on := enable
					pc.Enabled = &on
				}

				d, err := a.engine.Configure(ctx, id, pc)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					ID          string `json:"id"`
					ClientID    string `json:"clientId"`
					Enabled     bool   `json:"enabled"`
					Scope       string `json:"scope"`
					RedirectURI string `json:"redirectUri"`
				}{d.ID, d.ClientID, d.Enabled, d.Scope, d.RedirectURL(st.cfg.BaseURL)})
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client id")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret")
	cmd.Flags().BoolVar(&enable, "enable", false, "enable the provider")
	cmd.Flags().BoolVar(&disable, "disable", false, "disable the provider")
	cmd.Flags().BoolVar(&reset, "reset", false, "remove the stored configuration")
	return cmd
}
