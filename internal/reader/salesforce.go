package reader

import (
	"context"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/resilience"
)

// Querier is the SOQL surface the salesforce reader needs. Satisfied by
// *sfQuerier in production and by fakes in tests.
type Querier interface {
	Query(ctx context.Context, soql string, out any) error
}

// SalesforceCreds configures the username-password OAuth flow.
type SalesforceCreds struct {
	Domain         string
	ConsumerKey    string
	ConsumerSecret string
	Username       string
	Password       string
}

// sfQuerier wraps go-salesforce/v3. The library does not accept a context,
// so ctx only guards the call boundary.
type sfQuerier struct {
	sf *salesforce.Salesforce
}

// NewSalesforceQuerier authenticates against Salesforce and returns a Querier.
func NewSalesforceQuerier(creds SalesforceCreds) (Querier, error) {
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.Domain,
		ConsumerKey:    creds.ConsumerKey,
		ConsumerSecret: creds.ConsumerSecret,
		Username:       creds.Username,
		Password:       creds.Password,
	})
	if err != nil {
		return nil, eris.Wrap(err, "reader: salesforce init")
	}
	return &sfQuerier{sf: sf}, nil
}

func (q *sfQuerier) Query(ctx context.Context, soql string, out any) error {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("salesforce", "query")

	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := q.sf.Query(soql, out); err != nil {
			return eris.Wrap(err, "reader: salesforce query")
		}
		return nil
	})
}

// salesforceReader runs the contract's SOQL query and maps the records onto
// the schema.
type salesforceReader struct {
	contract *contract.Contract
	client   Querier
}

func newSalesforceReader(c *contract.Contract, client Querier) *salesforceReader {
	return &salesforceReader{contract: c, client: client}
}

func (r *salesforceReader) Read(ctx context.Context) (*model.Batch, error) {
	soql := r.contract.Source.Query
	if soql == "" {
		return nil, eris.Errorf("reader: contract %s has no salesforce query", r.contract.Name)
	}

	var records []map[string]any
	if err := r.client.Query(ctx, soql, &records); err != nil {
		return nil, err
	}

	batch := model.NewBatch(r.contract.ColumnNames())
	for n, record := range records {
		row := make(model.Row, len(r.contract.Schema.Columns))
		for _, col := range r.contract.Schema.Columns {
			v, err := coerceAny(fieldValue(record, col.Name), col.Type)
			if err != nil {
				return nil, eris.Wrapf(err, "reader: record %d field %q", n+1, col.Name)
			}
			row[col.Name] = v
		}
		batch.Append(row)
	}

	zap.L().Debug("reader: salesforce query loaded", zap.Int("rows", batch.Len()))
	return batch, nil
}

// fieldValue resolves a schema column against a Salesforce record, ignoring
// field-name casing differences between SOQL results and contracts.
func fieldValue(record map[string]any, name string) any {
	if v, ok := record[name]; ok {
		return v
	}
	for k, v := range record {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}
