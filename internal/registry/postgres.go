package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the characters table. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS characters (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    number        TEXT NOT NULL UNIQUE,
    system_prompt TEXT NOT NULL DEFAULT '',
    greeting      TEXT NOT NULL DEFAULT '',
    voice         JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_characters_number ON characters(number);
`

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a Registry backed by a PostgreSQL database. The voice profile
// is serialised as JSONB.
type Postgres struct {
	db DB
}

// Compile-time assertion that Postgres satisfies the Registry interface.
var _ Registry = (*Postgres)(nil)

// NewPostgres creates a Postgres registry over the given connection or pool.
// The caller is responsible for calling [Postgres.Migrate] to ensure the
// schema exists before issuing queries.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate executes the [Schema] DDL, creating the characters table and index
// if they do not already exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// Upsert creates or replaces a character. Useful for importing the YAML
// catalogue into the database at startup.
func (p *Postgres) Upsert(ctx context.Context, c *Character) error {
	if c.ID == "" {
		return errors.New("registry: character ID must not be empty")
	}
	if c.Number == "" {
		return fmt.Errorf("registry: character %q has no dial number", c.ID)
	}

	voiceJSON, err := json.Marshal(c.Voice)
	if err != nil {
		return fmt.Errorf("registry: marshal voice: %w", err)
	}

	const query = `
		INSERT INTO characters (id, name, number, system_prompt, greeting, voice)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			number = EXCLUDED.number,
			system_prompt = EXCLUDED.system_prompt,
			greeting = EXCLUDED.greeting,
			voice = EXCLUDED.voice,
			updated_at = now()`

	if _, err := p.db.Exec(ctx, query, c.ID, c.Name, c.Number, c.SystemPrompt, c.Greeting, voiceJSON); err != nil {
		return fmt.Errorf("registry: upsert %q: %w", c.ID, err)
	}
	return nil
}

// ByNumber implements Registry.
func (p *Postgres) ByNumber(ctx context.Context, number string) (*Character, error) {
	const query = `
		SELECT id, name, number, system_prompt, greeting, voice
		FROM characters
		WHERE number = $1`

	c, err := scanCharacter(p.db.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: lookup %q: %w", number, err)
	}
	return c, nil
}

// List implements Registry.
func (p *Postgres) List(ctx context.Context) ([]Character, error) {
	const query = `
		SELECT id, name, number, system_prompt, greeting, voice
		FROM characters
		ORDER BY number`

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: list scan: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	return out, nil
}

// scanCharacter reads one character row, deserialising the voice JSONB.
func scanCharacter(row pgx.Row) (*Character, error) {
	var c Character
	var voiceJSON []byte
	if err := row.Scan(&c.ID, &c.Name, &c.Number, &c.SystemPrompt, &c.Greeting, &voiceJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(voiceJSON, &c.Voice); err != nil {
		return nil, fmt.Errorf("unmarshal voice: %w", err)
	}
	return &c, nil
}
