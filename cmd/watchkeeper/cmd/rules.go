package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/solatis/watchkeeper/internal/core/config"
	"github.com/solatis/watchkeeper/internal/core/db"
	"github.com/solatis/watchkeeper/internal/rules"
	"github.com/solatis/watchkeeper/internal/store"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate, import and list detection rules",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Compile every rule in a rules file and report rejections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := store.LoadFile(args[0])
		if err != nil {
			return err
		}
		opts, err := compileOptions()
		if err != nil {
			return err
		}

		compiled, errs := rules.CompileAll(f.Rules, opts)
		out := cmd.OutOrStdout()
		for _, err := range errs {
			fmt.Fprintln(out, "rejected:", err)
		}
		fmt.Fprintf(out, "%d rules valid, %d rejected, %d devices\n", len(compiled), len(errs), len(f.Devices))
		fmt.Fprintf(out, "known classes: %s\n", strings.Join(lo.Map(rules.Classes(), func(c rules.Class, _ int) string { return string(c) }), ", "))
		if len(errs) > 0 {
			return fmt.Errorf("%d rules rejected", len(errs))
		}
		return nil
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store the rules of a rules file in the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prune, _ := cmd.Flags().GetBool("prune")

		f, err := store.LoadFile(args[0])
		if err != nil {
			return err
		}
		database, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		sqlStore, err := migratedStore(cmd, database)
		if err != nil {
			return err
		}
		res, err := sqlStore.Import(cmd.Context(), f.Rules, prune)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rules imported, %d removed\n", res.Upserted, res.Deleted)
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		sqlStore, err := migratedStore(cmd, database)
		if err != nil {
			return err
		}
		defs, skipped, err := sqlStore.Load(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSOURCE\tCLASSES\tNOTIFIERS\tDISABLED")
		for _, r := range defs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%t\n", r.ID, r.Name, r.Source, r.DetectionClasses, r.Notifiers, r.Disabled)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		for _, err := range skipped {
			fmt.Fprintln(cmd.ErrOrStderr(), "skipped:", err)
		}
		return nil
	},
}

func init() {
	rulesImportCmd.Flags().Bool("prune", false, "delete stored rules missing from the file")
	rulesCmd.AddCommand(rulesValidateCmd, rulesImportCmd, rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}

// compileOptions checks notifier references against the configured
// notifiers when a config file is given.
func compileOptions() (rules.CompileOptions, error) {
	if configFile == "" {
		return rules.CompileOptions{}, nil
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return rules.CompileOptions{}, fmt.Errorf("failed to load config: %w", err)
	}
	return rules.CompileOptions{Notifiers: notifierIDs(cfg)}, nil
}

func openDatabase(cmd *cobra.Command) (*sqlx.DB, error) {
	configured := ""
	if configFile != "" {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		configured = cfg.DatabaseURL
	}
	url := databaseURL(configured)
	if url == "" {
		return nil, errors.New("--db-url or database_url required")
	}
	database, err := db.Open(cmd.Context(), url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// migratedStore refuses to touch a database whose schema is behind.
func migratedStore(cmd *cobra.Command, database *sqlx.DB) (*store.SQLStore, error) {
	statuses, err := db.MigrateStatus(cmd.Context(), database)
	if err != nil {
		return nil, err
	}
	for _, s := range statuses {
		if !s.Applied {
			return nil, fmt.Errorf("migration %s not applied - run 'watchkeeper migrate up' first", s.ID)
		}
	}
	q, err := db.LoadQueries(database)
	if err != nil {
		return nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return store.NewSQLStore(q, nil), nil
}
