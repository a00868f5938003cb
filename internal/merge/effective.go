package merge

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lakeflow/internal/model"
)

// effectiveDater converts classification outcomes into the concrete row
// mutations for one process date. All rows from one pass share the same
// boundary date, so no two rows for an entity produced by one pass can
// overlap.
type effectiveDater struct {
	naturalKeyCol string
	changeKeyCol  string
	partitionCol  string
	processDate   time.Time
}

// mutations builds the full atomic mutation set for a classified pass:
// close the superseded rows for CHANGED and REVIVED keys, then open fresh
// rows for NEW, CHANGED and REVIVED.
func (d *effectiveDater) mutations(cls *classification) (*model.MutationSet, error) {
	ms := &model.MutationSet{
		CloseKeys: cls.closeKeys(d.naturalKeyCol),
		CloseDate: d.processDate,
	}

	for _, rows := range [][]model.Row{cls.newRows, cls.changedRows, cls.revivedRows} {
		for _, row := range rows {
			hr, err := d.openRow(row)
			if err != nil {
				return nil, err
			}
			ms.Inserts = append(ms.Inserts, hr)
		}
	}
	return ms, nil
}

// openRow builds the insert for a row that becomes the entity's current
// truth: effective_from = process_date, open-ended effective_to, current,
// not deleted.
func (d *effectiveDater) openRow(row model.Row) (model.HistorizedRow, error) {
	nk, ok := row[d.naturalKeyCol].(string)
	if !ok || nk == "" {
		return model.HistorizedRow{}, eris.Wrapf(ErrMissingHashColumns, "row has no %s value", d.naturalKeyCol)
	}
	ck, ok := row[d.changeKeyCol].(string)
	if !ok || ck == "" {
		return model.HistorizedRow{}, eris.Wrapf(ErrMissingHashColumns, "row has no %s value", d.changeKeyCol)
	}

	var partition int64
	switch p := row[d.partitionCol].(type) {
	case int64:
		partition = p
	case int:
		partition = int64(p)
	default:
		return model.HistorizedRow{}, eris.Wrapf(ErrMissingHashColumns, "row has no %s value", d.partitionCol)
	}

	return model.HistorizedRow{
		NaturalKeyHash: nk,
		ChangeKeyHash:  ck,
		PartitionKey:   partition,
		EffectiveFrom:  d.processDate,
		EffectiveTo:    model.OpenEndedDate,
		IsCurrent:      true,
		DeletionFlag:   false,
		Attributes:     d.attributes(row),
	}, nil
}

// attributes strips the metadata columns that live on the historized row
// struct, leaving the business attribute columns.
func (d *effectiveDater) attributes(row model.Row) model.Row {
	attrs := make(model.Row, len(row))
	for k, v := range row {
		if k == d.naturalKeyCol || k == d.changeKeyCol || k == d.partitionCol {
			continue
		}
		attrs[k] = v
	}
	return attrs
}
