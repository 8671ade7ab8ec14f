package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/steinarvk/natours/lib/config"
	"github.com/steinarvk/natours/lib/docstore/pgstore"
	"github.com/steinarvk/natours/lib/natours"
	"github.com/steinarvk/natours/lib/natoursapi"
	"github.com/steinarvk/natours/lib/natoursclient"
	"github.com/steinarvk/natours/lib/server"
	"github.com/steinarvk/natours/lib/version"
	"go.uber.org/zap"
)

func printJSON(value interface{}) error {
	marshalled, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	os.Stdout.Write(marshalled)
	os.Stdout.Write([]byte("\n"))

	return nil
}

func printCounts(verb string, counts map[string]int) {
	var names []string
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("%s %d %s\n", verb, counts[name], name)
	}
}

func mkClientCommandGroup(ctx context.Context) *cobra.Command {
	var clientCmds = &cobra.Command{
		Use:   "client",
		Short: "Client commands",
	}

	var serverFlag string
	clientCmds.PersistentFlags().StringVar(&serverFlag, "server", "", "server alias or host name")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "List config files",
		RunE: func(cmd *cobra.Command, args []string) error {
			filenames, err := natoursclient.ConfigFilenames(ctx)
			if err != nil {
				return err
			}

			for _, fn := range filenames {
				_, err := os.Stat(fn)
				if err != nil && !os.IsNotExist(err) {
					return err
				}

				status := "exists"
				if err != nil {
					status = "missing"
				}

				fmt.Printf("\t[%s]\t%s\n", status, fn)
			}

			return nil
		},
	}
	clientCmds.AddCommand(configCmd)

	getClient := func(ctx context.Context) (*natoursclient.Client, error) {
		cfg, err := natoursclient.LoadConfig(ctx)
		if err != nil {
			return nil, err
		}

		return natoursclient.New(ctx, cfg, serverFlag)
	}

	listCmd := &cobra.Command{
		Use:   "list [collection] [query]?",
		Short: "List documents, e.g. list tours 'duration[gte]=5&sort=price'",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query natoursapi.QueryRequest
			if len(args) == 2 {
				values, err := url.ParseQuery(args[1])
				if err != nil {
					return fmt.Errorf("invalid query %q: %w", args[1], err)
				}
				query = natoursapi.ParseQuery(values)
			}

			client, err := getClient(ctx)
			if err != nil {
				return err
			}

			resp, err := client.List(ctx, args[0], query)
			if err != nil {
				return err
			}

			return printJSON(resp)
		},
	}
	clientCmds.AddCommand(listCmd)

	getCmd := &cobra.Command{
		Use:   "get [collection] [ID]",
		Short: "Get a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errors.New("expected exactly two arguments")
			}

			client, err := getClient(ctx)
			if err != nil {
				return err
			}

			doc, err := client.Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			return printJSON(doc)
		},
	}
	clientCmds.AddCommand(getCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete [collection] [ID]",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient(ctx)
			if err != nil {
				return err
			}

			return client.Delete(ctx, args[0], args[1])
		},
	}
	clientCmds.AddCommand(deleteCmd)

	return clientCmds
}

func runServer(ctx context.Context, env *config.Env) error {
	svc, cfg, backend, err := openService(ctx, env)
	if err != nil {
		return err
	}
	defer backend.Close()

	s, err := server.New(
		server.WithHost(env.Host),
		server.WithPort(env.Port),
		server.WithService(svc),
		server.WithLogger(zap.L()),
		server.WithDevelopment(env.Development()),
		server.WithMaxBodyBytes(cfg.Limits.MaxBodyBytes),
		server.WithPagination(cfg.Pagination.DefaultLimit, cfg.Pagination.MaxLimit),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

func mkServerCommandGroup(ctx context.Context, env *config.Env) *cobra.Command {
	var serverCmds = &cobra.Command{
		Use:   "server",
		Short: "Server commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(ctx, env)
		},
	}

	var runServerCmd = &cobra.Command{
		Use:   "run",
		Short: "Run server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(ctx, env)
		},
	}
	serverCmds.AddCommand(runServerCmd)

	var adminCmd = &cobra.Command{
		Use:   "admin",
		Short: "Admin commands that connect directly to the database",
	}
	serverCmds.AddCommand(adminCmd)

	var statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Get statistics on the postgres store using direct database access",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := pgstore.Open(ctx, postgresParams(env))
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.GetStats(ctx)
			if err != nil {
				return err
			}

			fmt.Println("TotalStorageBytes:", humanizeBytes(stats.TotalSizeAllRelations))
			fmt.Println("TotalIndexBytes:", humanizeBytes(stats.TotalSizeAllIndexes))
			fmt.Println()

			for name, cs := range stats.Collections {
				fmt.Println("Collection:", name)
				fmt.Println("  documents:", cs.NumDocuments)
				fmt.Println("  total document length:", humanizeBytes(cs.TotalLengthDocuments))
				fmt.Println("  max document length:", humanizeBytes(int64(cs.MaxDocumentLength)))
				if cs.NumDocuments > 0 {
					fmt.Println("  average document length:", float64(cs.TotalLengthDocuments)/float64(cs.NumDocuments))
				}
			}
			fmt.Println()

			for tableName, tableStats := range stats.TableStats {
				fmt.Println("Table:", tableName)
				fmt.Println("  pg_relation_size:", humanizeBytes(tableStats.PgRelationSize))
				fmt.Println("  pg_indexes_size:", humanizeBytes(tableStats.PgIndexesSize))
				fmt.Println("  pg_total_relation_size:", humanizeBytes(tableStats.PgTotalRelationSize))
				fmt.Println("  n_live_tup (approximate rows):", tableStats.NLiveTuples)
				fmt.Println("  n_dead_tup (approximate rows):", tableStats.NDeadTuples)
			}

			return nil
		},
	}
	adminCmd.AddCommand(statsCmd)

	return serverCmds
}

func mkDataCommandGroup(ctx context.Context, env *config.Env) *cobra.Command {
	var dataCmds = &cobra.Command{
		Use:   "data",
		Short: "Load or remove development data in the configured store",
	}

	var importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Import users, tours and reviews from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			data, err := natours.ReadDevData(f)
			if err != nil {
				return fmt.Errorf("error reading %q: %w", args[0], err)
			}

			svc, _, backend, err := openService(ctx, env)
			if err != nil {
				return err
			}
			defer backend.Close()

			counts, err := svc.Import(ctx, data)
			if err != nil {
				return err
			}

			printCounts("imported", counts)
			return nil
		},
	}
	dataCmds.AddCommand(importCmd)

	var deleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "Delete every document in every collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, backend, err := openService(ctx, env)
			if err != nil {
				return err
			}
			defer backend.Close()

			counts, err := svc.DeleteAll(ctx)
			if err != nil {
				return err
			}

			printCounts("deleted", counts)
			return nil
		},
	}
	dataCmds.AddCommand(deleteCmd)

	return dataCmds
}

func newLogger(env *config.Env) (*zap.Logger, error) {
	zapconfig := zap.NewProductionConfig()
	if env.Development() {
		zapconfig = zap.NewDevelopmentConfig()
		zapconfig.Level.SetLevel(zap.InfoLevel)
	}
	return zapconfig.Build()
}

func Main() {
	ctx := context.Background()

	env, err := config.LoadEnv(ctx)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	zap.ReplaceGlobals(logger)

	var rootCmd = &cobra.Command{Use: "natours"}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := version.GetInfo()
			if err != nil {
				return err
			}

			if info.CommitHash != "" {
				dirtyFlag := ""
				if info.DirtyCommit {
					dirtyFlag = " (dirty)"
				}
				fmt.Printf("Commit:       %s%s\n", info.CommitHash, dirtyFlag)
				fmt.Printf("Commit time:  %s\n", info.CommitTime)
			}
			if info.BinaryHash != "" {
				fmt.Printf("Binary hash:  %s\n", info.BinaryHash)
			}
			fmt.Printf("Version:      %s\n", info.VersionString())

			return nil
		},
	}

	serverCmds := mkServerCommandGroup(ctx, env)
	dataCmds := mkDataCommandGroup(ctx, env)
	clientCmds := mkClientCommandGroup(ctx)

	rootCmd.AddCommand(serverCmds, dataCmds, clientCmds, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
