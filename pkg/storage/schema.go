package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fieldgate/fieldgate/pkg/model"
)

// CreateSchema creates the tables for every registered model, plus the
// through tables of many-to-many fields. It is idempotent and intended
// for development databases and tests; production schemas are managed
// by migrations.
func CreateSchema(ctx context.Context, db *sql.DB, dialect Dialect, registry *model.Registry) error {
	var statements []string
	throughSeen := map[string]bool{}

	for _, d := range registry.All() {
		statements = append(statements, tableDDL(dialect, registry, d))
		for _, f := range d.Fields {
			if f.Kind != model.ManyToMany || throughSeen[f.Through] {
				continue
			}
			throughSeen[f.Through] = true
			statements = append(statements, throughDDL(f))
		}
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func pkDDL(dialect Dialect) string {
	if dialect == DialectPostgres {
		return "id BIGSERIAL PRIMARY KEY"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

func tableDDL(dialect Dialect, registry *model.Registry, d *model.Descriptor) string {
	cols := []string{pkDDL(dialect)}
	for _, f := range d.Fields {
		if f.IsToMany() {
			continue
		}
		null := " NOT NULL"
		if f.Nullable {
			null = ""
		}
		switch f.Kind {
		case model.Attribute:
			cols = append(cols, fmt.Sprintf("%s %s%s", f.ColumnName(), f.SQLType, null))
		case model.ForeignKey:
			table := f.Related
			if related, ok := registry.Get(f.Related); ok {
				table = related.Table
			}
			cols = append(cols, fmt.Sprintf("%s BIGINT%s REFERENCES %s (id)", f.ColumnName(), null, table))
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.Table, strings.Join(cols, ",\n\t"))
}

func throughDDL(f model.Field) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\t%s BIGINT NOT NULL,\n\t%s BIGINT NOT NULL,\n\tPRIMARY KEY (%s, %s)\n)",
		f.Through, f.ThroughLocal, f.ThroughRemote, f.ThroughLocal, f.ThroughRemote,
	)
}
