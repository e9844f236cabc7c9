package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

type Dialect struct {
	Name   string
	Driver string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
	// SkipLocked appends FOR UPDATE SKIP LOCKED to claim selects.
	SkipLocked bool
	KeyType    string
	TextType   string
}

var (
	SQLite = Dialect{
		Name:     "sqlite",
		Driver:   "sqlite",
		KeyType:  "TEXT",
		TextType: "TEXT",
	}
	Postgres = Dialect{
		Name:       "postgres",
		Driver:     "pgx",
		Numbered:   true,
		SkipLocked: true,
		KeyType:    "TEXT",
		TextType:   "TEXT",
	}
	MySQL = Dialect{
		Name:       "mysql",
		Driver:     "mysql",
		SkipLocked: true,
		KeyType:    "VARCHAR(191)",
		TextType:   "LONGTEXT",
	}
)

func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	}
	return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
}

// Rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) forUpdate() string {
	if d.SkipLocked {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

// lockRow is the row lock suffix for single-row read-modify-write selects.
func (d Dialect) lockRow() string {
	if d.Name == SQLite.Name {
		return ""
	}
	return " FOR UPDATE"
}

func (d Dialect) schema() []string {
	ifNotExists := "IF NOT EXISTS "
	if d.Name == MySQL.Name {
		ifNotExists = ""
	}
	r := strings.NewReplacer("{{key}}", d.KeyType, "{{text}}", d.TextType, "{{index}}", "CREATE INDEX "+ifNotExists)
	out := make([]string, 0, len(schema))
	for _, stmt := range schema {
		out = append(out, r.Replace(stmt))
	}
	return out
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflow_definitions (
		id {{key}} NOT NULL,
		version INTEGER NOT NULL,
		name {{text}},
		is_active INTEGER NOT NULL,
		engine_version VARCHAR(16),
		nodes {{text}} NOT NULL,
		edges {{text}} NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id {{key}} PRIMARY KEY,
		workflow_id {{key}} NOT NULL,
		workflow_version INTEGER NOT NULL,
		status VARCHAR(16) NOT NULL,
		current_node_id {{key}},
		started_by {{text}},
		started_at BIGINT NOT NULL,
		completed_at BIGINT,
		error_message {{text}}
	)`,
	`CREATE TABLE IF NOT EXISTS step_executions (
		id {{key}} PRIMARY KEY,
		execution_id {{key}} NOT NULL,
		node_id {{key}} NOT NULL,
		node_kind VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		input_data {{text}},
		output_data {{text}},
		error_message {{text}},
		started_at BIGINT NOT NULL,
		completed_at BIGINT
	)`,
	`{{index}}idx_step_executions_execution ON step_executions (execution_id, started_at)`,
	`{{index}}idx_step_executions_status ON step_executions (status, started_at)`,
	`CREATE TABLE IF NOT EXISTS queue_items (
		id {{key}} PRIMARY KEY,
		workflow_id {{key}} NOT NULL,
		workflow_version INTEGER NOT NULL,
		kind VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		input_data {{text}},
		attempts INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		error_message {{text}},
		created_at BIGINT NOT NULL,
		available_at BIGINT NOT NULL,
		processing_started_at BIGINT,
		completed_at BIGINT
	)`,
	`{{index}}idx_queue_items_claim ON queue_items (status, available_at)`,
	`{{index}}idx_queue_items_workflow ON queue_items (workflow_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id {{key}} PRIMARY KEY,
		workflow_id {{key}} NOT NULL,
		cron_expression VARCHAR(128) NOT NULL,
		timezone VARCHAR(64),
		is_active INTEGER NOT NULL,
		input_data {{text}},
		last_run_at BIGINT,
		next_run_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_configs (
		id {{key}} PRIMARY KEY,
		workflow_id {{key}} NOT NULL,
		is_active INTEGER NOT NULL,
		auth_type VARCHAR(16) NOT NULL,
		credentials {{text}},
		payload_schema {{text}},
		rate_limit_per_minute INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id {{key}} PRIMARY KEY,
		webhook_config_id {{key}} NOT NULL,
		workflow_id {{key}} NOT NULL,
		queue_id {{key}},
		source_address {{text}},
		status VARCHAR(32) NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		collection {{key}} NOT NULL,
		id {{key}} NOT NULL,
		data {{text}},
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
}
