package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cardmint/scan-cli/internal/model"
)

// SQLiteChecker implements Checker over a local reference database.
type SQLiteChecker struct {
	db *sql.DB
	// MinSimilarity filters weak matches. Default 0.4.
	MinSimilarity float64
	// MaxMatches bounds the result size. Default 10.
	MaxMatches int
}

// NewSQLite opens (and migrates) the reference corpus at path.
func NewSQLite(path string) (*SQLiteChecker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "corpus: exec %s", pragma)
		}
	}

	const migration = `
CREATE TABLE IF NOT EXISTS cards (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	norm_name  TEXT NOT NULL,
	set_code   TEXT NOT NULL DEFAULT '',
	number     TEXT NOT NULL DEFAULT '',
	rarity     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_cards_norm_name ON cards(norm_name);
CREATE INDEX IF NOT EXISTS idx_cards_set_code ON cards(set_code);
`
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "corpus: migrate")
	}

	return &SQLiteChecker{db: db, MinSimilarity: 0.4, MaxMatches: 10}, nil
}

// Close releases the database handle.
func (c *SQLiteChecker) Close() error {
	return c.db.Close()
}

// Lookup finds reference cards whose names share words with title. Candidate
// rows are narrowed in SQL by the title's first word (and the set hint when
// given), then ranked by Jaccard similarity in memory.
func (c *SQLiteChecker) Lookup(ctx context.Context, title, setHint string) ([]model.CorpusMatch, error) {
	normTitle := strings.ToLower(strings.TrimSpace(title))
	if normTitle == "" {
		return nil, nil
	}

	firstWord := normTitle
	if idx := strings.IndexByte(firstWord, ' '); idx > 0 {
		firstWord = firstWord[:idx]
	}

	query := `SELECT id, name, set_code FROM cards WHERE norm_name LIKE ?`
	args := []any{"%" + firstWord + "%"}
	if setHint != "" {
		query += ` AND set_code = ?`
		args = append(args, setHint)
	}
	query += ` LIMIT 500`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: lookup")
	}
	defer rows.Close()

	var matches []model.CorpusMatch
	for rows.Next() {
		var m model.CorpusMatch
		if err := rows.Scan(&m.ID, &m.Name, &m.SetCode); err != nil {
			return nil, eris.Wrap(err, "corpus: scan match")
		}
		m.Similarity = jaccardSimilarity(normTitle, m.Name)
		if m.Similarity >= c.MinSimilarity {
			matches = append(matches, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "corpus: iterate matches")
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	limit := c.MaxMatches
	if limit <= 0 {
		limit = 10
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// ReferenceCard is one entry in a corpus dump.
type ReferenceCard struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	SetCode string `json:"set_code,omitempty"`
	Number  string `json:"number,omitempty"`
	Rarity  string `json:"rarity,omitempty"`
}

// Load ingests a JSON array of reference cards, replacing rows that share an
// id. Returns the number of cards loaded.
func (c *SQLiteChecker) Load(ctx context.Context, r io.Reader) (int, error) {
	var cards []ReferenceCard
	if err := json.NewDecoder(r).Decode(&cards); err != nil {
		return 0, eris.Wrap(err, "corpus: decode reference dump")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "corpus: begin load")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO cards (id, name, norm_name, set_code, number, rarity)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "corpus: prepare load")
	}
	defer stmt.Close()

	loaded := 0
	for _, card := range cards {
		if strings.TrimSpace(card.Name) == "" {
			continue
		}
		id := card.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, id, card.Name,
			strings.ToLower(card.Name), card.SetCode, card.Number, card.Rarity); err != nil {
			return 0, eris.Wrapf(err, "corpus: insert %s", card.Name)
		}
		loaded++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "corpus: commit load")
	}
	return loaded, nil
}
