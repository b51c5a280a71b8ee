package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandQueue は生成キューの運用コマンド群を示す。
	CommandQueue Command = "queue"
)

// NewRootCommand はサブコマンドを登録したルートコマンドを返す。
// サブコマンドを省略した場合はserveとして動作する。
// wはログと表の出力先。
func NewRootCommand(w io.Writer) *cobra.Command {
	rt := &commandContext{out: w}

	root := &cobra.Command{
		Use:           "moviehunt-blog",
		Short:         "MovieHunt blog backend: article generation pipeline and CMS API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == string(CommandHealthcheck) {
				return nil
			}
			return rt.init()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.serve(cmd.Context())
		},
	}
	root.SetOut(w)

	root.AddCommand(
		newServeCommand(rt),
		newWorkerCommand(rt),
		newMigrateCommand(rt),
		newHealthcheckCommand(),
		newQueueCommand(rt),
	)
	return root
}

func newServeCommand(rt *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.serve(cmd.Context())
		},
	}
}

func newWorkerCommand(rt *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run the queue scheduler, cleanup and discovery jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.worker(cmd.Context())
		},
	}
}

func newMigrateCommand(rt *commandContext) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.migrateUp()
		},
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.migrateUp()
		},
	})

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.migrateDown(steps)
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(downCmd)

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.migrateVersion(cmd.OutOrStdout())
		},
	})
	return migrateCmd
}

func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe the local /health endpoint (container health check)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(cmd.Context(), port)
		},
	}
}

func newQueueCommand(rt *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   string(CommandQueue),
		Short: "Inspect and manage the generation queue",
	}

	var listStatus string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queue records (newest first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.queueList(cmd.Context(), cmd.OutOrStdout(), listStatus)
		},
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending|processing|completed|failed)")
	queueCmd.AddCommand(listCmd)

	var resetStatus string
	var resetStuck bool
	resetCmd := &cobra.Command{
		Use:   "reset [id]",
		Short: "Reset a queue record, or every processing record with --stuck",
		Args: func(cmd *cobra.Command, args []string) error {
			if resetStuck {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if resetStuck {
				return rt.queueResetStuck(cmd.Context(), cmd.OutOrStdout())
			}
			return rt.queueReset(cmd.Context(), cmd.OutOrStdout(), args[0], resetStatus)
		},
	}
	resetCmd.Flags().StringVar(&resetStatus, "status", "pending", "target status (pending|failed)")
	resetCmd.Flags().BoolVar(&resetStuck, "stuck", false, "reset every processing record to pending")
	queueCmd.AddCommand(resetCmd)

	var processLimit int
	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Process pending records now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.queueProcess(cmd.Context(), cmd.OutOrStdout(), processLimit)
		},
	}
	processCmd.Flags().IntVar(&processLimit, "limit", 0, "maximum records to process (0 uses QUEUE_PROCESS_LIMIT)")
	queueCmd.AddCommand(processCmd)

	var maxRetries int
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry failed records below the retry ceiling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.queueRetry(cmd.Context(), cmd.OutOrStdout(), maxRetries)
		},
	}
	retryCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry ceiling (0 uses QUEUE_MAX_RETRIES)")
	queueCmd.AddCommand(retryCmd)

	return queueCmd
}
