package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/quality"
	"github.com/sells-group/lakeflow/internal/reader"
	"github.com/sells-group/lakeflow/internal/store"
)

func initStore(ctx context.Context) (store.TableStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "lakeflow.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// loadContract parses and validates a contract file against the quality
// rule registries.
func loadContract(path string) (*contract.Contract, error) {
	return contract.Load(path, quality.ValidateRuleName)
}

// readerOptions builds environment-level reader settings. The Salesforce
// client is created lazily so file-based contracts never need credentials.
func readerOptions(c *contract.Contract) (reader.Options, error) {
	opts := reader.Options{
		FTPTimeout: time.Duration(cfg.Reader.FTPTimeoutSecs) * time.Second,
	}
	if c.Source.Type == "salesforce" {
		q, err := reader.NewSalesforceQuerier(reader.SalesforceCreds{
			Domain:         cfg.Salesforce.LoginURL,
			ConsumerKey:    cfg.Salesforce.ClientID,
			ConsumerSecret: cfg.Salesforce.ClientSecret,
			Username:       cfg.Salesforce.Username,
			Password:       cfg.Salesforce.Password,
		})
		if err != nil {
			return opts, err
		}
		opts.Salesforce = q
	}
	return opts, nil
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the table store",
}

var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "store init")
		}
		fmt.Println("store schema ready")
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeInitCmd)
	rootCmd.AddCommand(storeCmd)
}
