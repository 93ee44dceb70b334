package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/dnd"
	"taskboard/internal/domain"
	"taskboard/internal/logging"
	"taskboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskboard CLI",
	Long: `Taskboard is a four-column kanban board kept in a local workspace.
- Cards live in backlog, todo, doing or done; store order is the order you see.
- Move places a card before another card, or at the end of the board with --before -1.
- Deleting a card (explicitly, by dropping it on the trash, or by emptying its title)
  keeps it in the deleted history until you remove it or clear the trash.
- State lives in .taskboard/ (sqlite by default; badger, redis or memory via config).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := app.LoadEnv(workspace); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		_, err := db.EnsureWorkspace(workspace)
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("backend", "", "storage backend override (sqlite, badger, redis, memory)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(trashCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show all columns and the deleted history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				cards := b.Engine.Cards()
				deleted := b.Engine.Deleted()
				if viper.GetBool("json") {
					return printJSON(map[string]any{"cards": cards, "deleted": deleted})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				header := table.Row{}
				columns := make([][]domain.Card, len(domain.Columns))
				depth := 0
				for i, col := range domain.Columns {
					header = append(header, fmt.Sprintf("%s (%d)", b.Config.ColumnTitle(col), len(b.Engine.CardsIn(col))))
					columns[i] = b.Engine.CardsIn(col)
					depth = max(depth, len(columns[i]))
				}
				tw.AppendHeader(header)
				for row := 0; row < depth; row++ {
					r := table.Row{}
					for _, cards := range columns {
						cell := ""
						if row < len(cards) {
							cell = fmt.Sprintf("[%s] %s", cards[row].ID, cards[row].Title)
						}
						r = append(r, cell)
					}
					tw.AppendRow(r)
				}
				tw.Render()
				if len(deleted) > 0 {
					fmt.Printf("%d card(s) in trash\n", len(deleted))
				}
				return nil
			})
		},
	}
}

func cardCmd() *cobra.Command {
	card := &cobra.Command{
		Use:   "card",
		Short: "Manage cards",
	}
	card.AddCommand(cardListCmd())
	card.AddCommand(cardAddCmd())
	card.AddCommand(cardEditCmd())
	card.AddCommand(cardDeleteCmd())
	card.AddCommand(cardMoveCmd())
	card.AddCommand(cardDragCmd())
	return card
}

func cardListCmd() *cobra.Command {
	var column string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cards in store order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				cards := b.Engine.Cards()
				if column != "" {
					col, err := domain.ParseColumn(column)
					if err != nil {
						return err
					}
					cards = b.Engine.CardsIn(col)
				}
				if viper.GetBool("json") {
					return printJSON(cards)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Column"})
				for _, c := range cards {
					tw.AppendRow(table.Row{c.ID, c.Title, b.Config.ColumnTitle(c.Column)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "column filter (backlog, todo, doing, done)")
	return cmd
}

func cardAddCmd() *cobra.Command {
	var column string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a card to a column",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := domain.ParseColumn(column)
			if err != nil {
				return err
			}
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				card, ok, err := b.Engine.Add(ctx, col, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("title is blank; nothing added")
				}
				return printJSONOrTable(card)
			})
		},
	}
	cmd.Flags().StringVar(&column, "column", string(domain.ColumnBacklog), "target column")
	return cmd
}

func cardEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id> [title]",
		Short: "Retitle a card; an empty title moves it to the trash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				res, err := b.Engine.Retitle(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func cardDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Move a card to the deleted history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				entry, ok := b.Engine.Delete(ctx, args[0])
				if !ok {
					return fmt.Errorf("card %s: %w", args[0], domain.ErrNotFound)
				}
				return printJSONOrTable(entry)
			})
		},
	}
}

func cardMoveCmd() *cobra.Command {
	var column, before string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a card before another card, or to the end with --before -1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := domain.ParseColumn(column)
			if err != nil {
				return err
			}
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				moved, err := b.Engine.Move(ctx, args[0], col, before)
				if err != nil {
					return err
				}
				card, _ := b.Engine.Card(args[0])
				if viper.GetBool("json") {
					return printJSON(map[string]any{"moved": moved, "card": card})
				}
				if !moved {
					fmt.Println("nothing moved")
					return nil
				}
				return printJSONOrTable(card)
			})
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "target column")
	cmd.Flags().StringVar(&before, "before", domain.EndOfColumn, "card id to insert before (-1 appends)")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

// cardDragCmd replays a pointer drag against the rendered layout, which is
// handy for checking how a y coordinate resolves to a drop target.
func cardDragCmd() *cobra.Command {
	var column string
	var y float64
	var trash bool
	cmd := &cobra.Command{
		Use:   "drag <id>",
		Short: "Drag a card and drop it at --y in --column, or on the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				ctl := dnd.NewController(b.Engine, dnd.LayoutFrom(b.Config.Board.Layout), b.Config.Board.ProximityOffset)
				if err := ctl.Begin(args[0]); err != nil {
					return err
				}
				var res dnd.DropResult
				var err error
				if trash {
					res, err = ctl.DropOnTrash(ctx)
				} else {
					col, perr := domain.ParseColumn(column)
					if perr != nil {
						ctl.Cancel()
						return perr
					}
					res, err = ctl.Drop(ctx, y, col, nil)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "column under the pointer")
	cmd.Flags().Float64Var(&y, "y", 0, "pointer y coordinate within the column")
	cmd.Flags().BoolVar(&trash, "trash", false, "drop on the trash target")
	cmd.MarkFlagsMutuallyExclusive("trash", "column")
	cmd.MarkFlagsOneRequired("trash", "column")
	return cmd
}

func trashCmd() *cobra.Command {
	trash := &cobra.Command{
		Use:   "trash",
		Short: "Deleted history",
	}
	trash.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List deleted cards, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				deleted := b.Engine.Deleted()
				if viper.GetBool("json") {
					return printJSON(deleted)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Deleted ID", "Card", "Title", "Column", "Deleted At"})
				for _, d := range deleted {
					tw.AppendRow(table.Row{d.DeletedID, d.ID, d.Title, b.Config.ColumnTitle(d.Column), d.DeletedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	trash.AddCommand(&cobra.Command{
		Use:   "remove <deleted-id>",
		Short: "Permanently remove one history entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				removed := b.Engine.PermanentlyRemove(ctx, args[0])
				return printJSONOrTable(map[string]bool{"removed": removed})
			})
		},
	})
	trash.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the deleted history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				n := b.Engine.ClearAll(ctx)
				return printJSONOrTable(map[string]int{"cleared": n})
			})
		},
	})
	return trash
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the default cards (the trash is kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				b.Engine.Reset(ctx)
				return printJSONOrTable(map[string]int{"cards": len(b.Engine.Cards())})
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every board change recorded by the sqlite backend: adds, moves, deletes, purges and resets.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, b *app.Board) error {
				if b.Log == nil {
					return fmt.Errorf("backend %q keeps no event log", b.Config.Storage.Backend)
				}
				events, err := b.Log.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Kind", "Entity", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (card, trash, board)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in taskboard.yml at the workspace root; without it the built-in defaults apply.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := resolveConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("TASKBOARD_JWT_SECRET"); env != "" {
				secret = env
			}
			b, err := app.Open(cmd.Context(), viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()
			handler, err := server.New(server.Config{
				Engine:   b.Engine,
				Notices:  b.Notices,
				Events:   b.Log,
				Metrics:  b.Metrics,
				Logger:   logger,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
			})
			if err != nil {
				return err
			}
			server.StartWebhooks(cmd.Context(), b.Log, cfg.Webhooks, logger)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			auth := "open"
			if secret != "" {
				auth = "bearer"
			}
			logger.Infow("serving taskboard api", "addr", addr, "base_path", basePath, "backend", cfg.Storage.Backend, "auth", auth)
			fmt.Printf("Serving Taskboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("TASKBOARD_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return errors.New("set server.jwt_secret or TASKBOARD_JWT_SECRET first")
			}
			token, err := server.SignToken(secret, subject, ttl, scopes...)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-user", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 never expires)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scopes to embed")
	return cmd
}

// --- helpers ---

func resolveConfig() (*config.Config, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if backend := viper.GetString("backend"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withBoard(ctx context.Context, fn func(context.Context, *app.Board) error) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	b, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := fn(ctx, b); err != nil {
		return err
	}
	printNotices(b)
	return nil
}

// printNotices echoes the notifications a command raised, oldest first.
func printNotices(b *app.Board) {
	if viper.GetBool("json") {
		return
	}
	items := b.Notices.List()
	slices.Reverse(items)
	for _, n := range items {
		fmt.Fprintln(os.Stderr, "»", n.Text)
	}
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
