// Package report builds the admin xlsx with each user's assigned periods for
// a month, per pool. Fed from the same derived usage query the lottery uses.
package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jmoran/plazabot/internal/domain/slots"
	"github.com/jmoran/plazabot/internal/domain/users"
)

type UsageSource interface {
	MonthlyUsage(ctx context.Context, pool slots.Pool, date time.Time) (map[int64]int, error)
}

type UserSource interface {
	ByIDs(ctx context.Context, ids []int64) (map[int64]users.User, error)
}

type Builder struct {
	usage UsageSource
	users UserSource
}

func NewBuilder(usage UsageSource, userSrc UserSource) *Builder {
	return &Builder{usage: usage, users: userSrc}
}

// Monthly renders the report for the month containing date and returns the
// xlsx bytes plus a suggested file name.
func (b *Builder) Monthly(ctx context.Context, date time.Time) ([]byte, string, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := []interface{}{"pool", "user_id", "nombre", "periodos asignados"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, "", fmt.Errorf("report header: %w", err)
	}

	row := 2
	for _, pool := range []slots.Pool{slots.PoolParking, slots.PoolEV} {
		usage, err := b.usage.MonthlyUsage(ctx, pool, date)
		if err != nil {
			return nil, "", fmt.Errorf("usage for %s: %w", pool, err)
		}

		ids := make([]int64, 0, len(usage))
		for id := range usage {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		names := map[int64]users.User{}
		if len(ids) > 0 {
			if names, err = b.users.ByIDs(ctx, ids); err != nil {
				return nil, "", fmt.Errorf("resolve users: %w", err)
			}
		}

		for _, id := range ids {
			excelRow := []interface{}{string(pool), id, names[id].Name, usage[id]}
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return nil, "", err
			}
			if err := f.SetSheetRow(sheet, cell, &excelRow); err != nil {
				return nil, "", fmt.Errorf("report row: %w", err)
			}
			row++
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, "", fmt.Errorf("write report: %w", err)
	}
	name := fmt.Sprintf("uso_parking_%s.xlsx", date.Format("2006_01"))
	return buf.Bytes(), name, nil
}
