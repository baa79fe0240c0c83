package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/smy-billing/backend-go/pkg/logger"
)

// masterSeed loads one CSV file into a master table. Columns are read by
// header name and passed to query in order.
type masterSeed struct {
	table   string
	file    string
	columns []string
	query   string
}

var masterSeeds = []masterSeed{
	{
		table:   "companies",
		file:    "companies.csv",
		columns: []string{"code", "name", "billing_method"},
		query: `
			INSERT INTO companies (code, name, billing_method)
			VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'company'))
			ON CONFLICT (code) DO UPDATE SET
				name = EXCLUDED.name,
				billing_method = EXCLUDED.billing_method,
				updated_at = NOW()`,
	},
	{
		table:   "departments",
		file:    "departments.csv",
		columns: []string{"company_code", "code", "name"},
		query: `
			INSERT INTO departments (company_id, code, name)
			SELECT c.id, $2, $3 FROM companies c WHERE c.code = $1
			ON CONFLICT (company_id, code) DO UPDATE SET
				name = EXCLUDED.name,
				updated_at = NOW()`,
	},
	{
		table:   "users",
		file:    "users.csv",
		columns: []string{"company_code", "department_code", "code", "name"},
		query: `
			INSERT INTO users (company_id, department_id, code, name)
			SELECT c.id, d.id, $3, $4
			FROM companies c
			LEFT JOIN departments d ON d.company_id = c.id AND d.code = $2
			WHERE c.code = $1
			ON CONFLICT (code) DO UPDATE SET
				company_id = EXCLUDED.company_id,
				department_id = EXCLUDED.department_id,
				name = EXCLUDED.name,
				updated_at = NOW()`,
	},
	{
		table:   "products",
		file:    "products.csv",
		columns: []string{"code", "name", "unit_price"},
		query: `
			INSERT INTO products (code, name, unit_price)
			VALUES ($1, $2, COALESCE(NULLIF($3, '')::BIGINT, 0))
			ON CONFLICT (code) DO UPDATE SET
				name = EXCLUDED.name,
				unit_price = EXCLUDED.unit_price,
				updated_at = NOW()`,
	},
	{
		table:   "suppliers",
		file:    "suppliers.csv",
		columns: []string{"code", "name"},
		query: `
			INSERT INTO suppliers (code, name)
			VALUES ($1, $2)
			ON CONFLICT (code) DO UPDATE SET
				name = EXCLUDED.name,
				updated_at = NOW()`,
	},
}

func seedMasterCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed-master",
		Usage: "Upsert companies, departments, users, products and suppliers from CSV files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory containing master seed data",
				Value:   "./data/seeds/master_data",
				EnvVars: []string{"SEED_DATA_DIR"},
			},
		},
		Before: initDB,
		After:  closeDB,
		Action: func(c *cli.Context) error {
			dataDir := c.String("data-dir")
			counts := map[string]int{}
			err := dbFrom(c).WithTx(c.Context, func(tx *sqlx.Tx) error {
				for _, s := range masterSeeds {
					n, err := seedTable(c.Context, tx, s, filepath.Join(dataDir, s.file))
					if err != nil {
						return fmt.Errorf("failed to seed %s: %w", s.table, err)
					}
					counts[s.table] = n
				}
				return nil
			})
			if err != nil {
				return err
			}
			return printJSON(c, counts)
		},
	}
}

// seedTable returns the number of rows written. A missing file is skipped.
func seedTable(ctx context.Context, tx *sqlx.Tx, s masterSeed, path string) (int, error) {
	log := logger.WithComponent("seed")

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("file", path).Msg("Seed file not found, skipping")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	idx, err := columnIndexes(header, s.columns)
	if err != nil {
		return 0, err
	}

	written := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("failed to read CSV record: %w", err)
		}

		args := make([]interface{}, len(s.columns))
		for i, col := range idx {
			if col < len(record) {
				args[i] = strings.TrimSpace(record[col])
			} else {
				args[i] = ""
			}
		}

		res, err := tx.ExecContext(ctx, s.query, args...)
		if err != nil {
			return written, fmt.Errorf("line %d: %w", line, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			log.Warn().Str("table", s.table).Int("line", line).Msg("Row skipped, parent code not found")
			continue
		}
		written++
	}

	log.Info().Str("table", s.table).Int("rows", written).Msg("Seeded")
	return written, nil
}

// columnIndexes maps wanted columns to header positions. The first header
// cell may carry a UTF-8 BOM.
func columnIndexes(header, columns []string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		pos[strings.ToLower(h)] = i
	}
	out := make([]int, len(columns))
	for i, col := range columns {
		p, ok := pos[col]
		if !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
		out[i] = p
	}
	return out, nil
}
