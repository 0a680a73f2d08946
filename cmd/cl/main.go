package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/lifecycle"
	"caseline/internal/migrate"
	"caseline/internal/repo"
	"caseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline runs the monitoring registry for public procurement audits.
A monitoring case follows a fixed lifecycle (draft -> active -> addressed/declined,
with cancelled and stopped as exits), every accepted change is recorded as an
immutable revision, deadlines are computed in working days over the configured
holiday calendar, and restricted cases are masked for unprivileged viewers.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(revisionCmd())
	rootCmd.AddCommand(serveCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage monitoring cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(casePatchCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var tenderID, procedure, details, peName, peKind string
	var reasons []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a draft monitoring case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e lifecycle.Engine) error {
				opts := lifecycle.CreateOptions{
					TenderID:          tenderID,
					Reasons:           reasons,
					Procedure:         procedure,
					MonitoringDetails: details,
				}
				if peName != "" || peKind != "" {
					opts.ProcuringEntity = &domain.Party{Name: peName, Kind: peKind}
				}
				sc := &lifecycle.Scope{ActorID: viper.GetString("actor-id"), Role: domain.RoleSAS}
				c, rev, err := e.Create(ctx, sc, opts)
				if err != nil {
					return err
				}
				fmt.Printf("created %s (%s) at revision %d\n", c.PublicID, c.ID, rev)
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&tenderID, "tender-id", "", "monitored tender id")
	cmd.Flags().StringSliceVar(&reasons, "reason", nil, "monitoring reason (repeatable)")
	cmd.Flags().StringVar(&procedure, "procedure", "", "procurement procedure")
	cmd.Flags().StringVar(&details, "details", "", "free-text monitoring details")
	cmd.Flags().StringVar(&peName, "procuring-entity", "", "procuring entity name")
	cmd.Flags().StringVar(&peKind, "procuring-entity-kind", "", "procuring entity kind")
	_ = cmd.MarkFlagRequired("tender-id")
	return cmd
}

func caseListCmd() *cobra.Command {
	var status string
	var restricted bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitoring cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e lifecycle.Engine) error {
				f := repo.CaseFilters{Status: status, Limit: limit}
				if cmd.Flags().Changed("restricted") {
					f.Restricted = &restricted
				}
				items, err := e.Repo.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Public ID", "Status", "Tender", "Restricted", "Rev", "Modified"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Case.PublicID, it.Case.Status, it.Case.TenderID, it.Case.Restricted, it.Revision, it.Case.DateModified})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().BoolVar(&restricted, "restricted", false, "restricted filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one monitoring case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e lifecycle.Engine) error {
				c, rev, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("revision %d\n", rev)
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func casePatchCmd() *cobra.Command {
	var data, file string
	var revision int
	cmd := &cobra.Command{
		Use:   "patch <id>",
		Short: "Apply a merge patch to a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := []byte(data)
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				patch = b
			}
			if len(patch) == 0 {
				return fmt.Errorf("--data or --file required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e lifecycle.Engine) error {
				sc := &lifecycle.Scope{ActorID: viper.GetString("actor-id"), Role: domain.RoleSAS}
				c, rev, err := e.ApplyPatch(ctx, sc, args[0], patch, revision)
				if err != nil {
					return err
				}
				fmt.Printf("revision %d\n", rev)
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "patch JSON")
	cmd.Flags().StringVar(&file, "file", "", "path to patch JSON file")
	cmd.Flags().IntVar(&revision, "revision", 0, "revision the patch is based on")
	_ = cmd.MarkFlagRequired("revision")
	return cmd
}

func revisionCmd() *cobra.Command {
	c := &cobra.Command{Use: "revision", Short: "Inspect the audit trail"}
	c.AddCommand(revisionLogCmd())
	c.AddCommand(revisionShowCmd())
	return c
}

func revisionLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <case-id>",
		Short: "List revisions of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e lifecycle.Engine) error {
				recs, err := e.Repo.ListRevisions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rev", "Author", "Date", "Ops"})
				for _, r := range recs {
					var ops []map[string]any
					_ = json.Unmarshal([]byte(r.Changes), &ops)
					tw.AppendRow(table.Row{r.Rev, r.Author, r.Date, len(ops)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func revisionShowCmd() *cobra.Command {
	var rev int
	cmd := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show one revision with its changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e lifecycle.Engine) error {
				rec, err := e.Repo.GetRevision(ctx, args[0], rev)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().IntVar(&rev, "rev", 0, "revision number")
	_ = cmd.MarkFlagRequired("rev")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := lifecycle.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:       cfg.Auth.JWTSecret,
				AllowDevHeaders: cfg.Auth.AllowDevHeaders,
			}
			if secret := os.Getenv("CASELINE_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowDevHeaders {
				return fmt.Errorf("CASELINE_JWT_SECRET is required when dev headers are disabled")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Caseline API on http://%s%s (OpenAPI at /openapi.json)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, lifecycle.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, lifecycle.New(conn, cfg))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
