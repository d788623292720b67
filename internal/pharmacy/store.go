// Package pharmacy provides the read-only catalog of users and
// medications backed by SQLite.
package pharmacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"
)

//go:embed dataset.yaml
var embeddedDataset []byte

// User is a registered pharmacy customer. Prescriptions is the ordered
// list of medication names the user holds a prescription for, stored
// with original casing and compared case-insensitively.
type User struct {
	ID            string   `yaml:"user_id" json:"user_id"`
	Name          string   `yaml:"name" json:"name"`
	Prescriptions []string `yaml:"prescriptions" json:"prescriptions"`
}

// Dosage is the structured label-style dosage instruction of a medication.
type Dosage struct {
	DoseAmount string `yaml:"dose_amount" json:"dose_amount"`
	Frequency  string `yaml:"frequency" json:"frequency"`
	MaxDaily   string `yaml:"max_daily" json:"max_daily"`
}

// Medication is a catalog entry. Name is the canonical, unique,
// case-insensitive key.
type Medication struct {
	Name                 string `yaml:"name" json:"name"`
	ActiveIngredient     string `yaml:"active_ingredient" json:"active_ingredient"`
	RequiresPrescription bool   `yaml:"requires_prescription" json:"requires_prescription"`
	Dosage               Dosage `yaml:"dosage_instruction" json:"dosage_instruction"`
	UsageInstructions    string `yaml:"usage_instructions" json:"usage_instructions"`
	SafetyInstructions   string `yaml:"safety_instructions" json:"safety_instructions"`
	Stock                int    `yaml:"stock" json:"stock"`
}

// dataset is the YAML seed file layout.
type dataset struct {
	Users       []User       `yaml:"users"`
	Medications []Medication `yaml:"medications"`
}

// Store is a SQLite-backed read-only catalog. It is safe for
// concurrent use; no writes occur after seeding.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the catalog database at path and seeds it.
// An empty path selects an in-memory database. datasetFile optionally
// overrides the embedded seed dataset with an external YAML file.
func NewStore(path, datasetFile string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	inMemory := path == "" || path == ":memory:"
	dsn := path + "?_busy_timeout=5000"
	if inMemory {
		// A plain :memory: DSN gives every pooled connection its own
		// empty database. Shared cache plus a single connection keeps
		// the seeded data visible to all queries.
		dsn = "file:rxdesk-catalog?mode=memory&cache=shared&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	data := embeddedDataset
	if datasetFile != "" {
		data, err = os.ReadFile(datasetFile)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("read dataset %s: %w", datasetFile, err)
		}
	}

	if err := store.seed(data); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed: %w", err)
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the catalog schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prescriptions (
		user_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		medication TEXT NOT NULL,
		PRIMARY KEY (user_id, position),
		FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS medications (
		name TEXT PRIMARY KEY,
		active_ingredient TEXT NOT NULL,
		requires_prescription INTEGER NOT NULL DEFAULT 0,
		dose_amount TEXT NOT NULL DEFAULT '',
		frequency TEXT NOT NULL DEFAULT '',
		max_daily TEXT NOT NULL DEFAULT '',
		usage_instructions TEXT NOT NULL DEFAULT '',
		safety_instructions TEXT NOT NULL DEFAULT '',
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0)
	);
	CREATE INDEX IF NOT EXISTS idx_medications_name_ci ON medications(LOWER(name));
	`

	_, err := s.db.Exec(schema)
	return err
}

// seed replaces catalog contents with the given YAML dataset. Runs in
// one transaction so a malformed dataset never leaves a partial catalog.
func (s *Store) seed(data []byte) error {
	var ds dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return fmt.Errorf("parse dataset: %w", err)
	}
	if len(ds.Users) == 0 && len(ds.Medications) == 0 {
		return errors.New("dataset is empty")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM prescriptions",
		"DELETE FROM users",
		"DELETE FROM medications",
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	for _, u := range ds.Users {
		if _, err := tx.Exec("INSERT INTO users (user_id, name) VALUES (?, ?)", u.ID, u.Name); err != nil {
			return fmt.Errorf("insert user %s: %w", u.ID, err)
		}
		for i, med := range u.Prescriptions {
			if _, err := tx.Exec(
				"INSERT INTO prescriptions (user_id, position, medication) VALUES (?, ?, ?)",
				u.ID, i, med,
			); err != nil {
				return fmt.Errorf("insert prescription %s/%s: %w", u.ID, med, err)
			}
		}
	}

	for _, m := range ds.Medications {
		if _, err := tx.Exec(
			`INSERT INTO medications
			 (name, active_ingredient, requires_prescription, dose_amount, frequency, max_daily, usage_instructions, safety_instructions, stock)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.Name, m.ActiveIngredient, m.RequiresPrescription,
			m.Dosage.DoseAmount, m.Dosage.Frequency, m.Dosage.MaxDaily,
			m.UsageInstructions, m.SafetyInstructions, m.Stock,
		); err != nil {
			return fmt.Errorf("insert medication %s: %w", m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Info("catalog seeded", "users", len(ds.Users), "medications", len(ds.Medications))
	return nil
}

// FindUser looks up a user by id. The id is trimmed before matching.
// Returns (nil, false, nil) when no such user exists.
func (s *Store) FindUser(ctx context.Context, userID string) (*User, bool, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil, false, nil
	}

	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, name FROM users WHERE user_id = ?", id,
	).Scan(&u.ID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find user: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT medication FROM prescriptions WHERE user_id = ? ORDER BY position", id,
	)
	if err != nil {
		return nil, false, fmt.Errorf("load prescriptions: %w", err)
	}
	defer rows.Close()

	u.Prescriptions = []string{}
	for rows.Next() {
		var med string
		if err := rows.Scan(&med); err != nil {
			return nil, false, fmt.Errorf("scan prescription: %w", err)
		}
		u.Prescriptions = append(u.Prescriptions, med)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("load prescriptions: %w", err)
	}

	return &u, true, nil
}

// FindMedicationByName looks up a medication by name, case-insensitively
// and with surrounding whitespace ignored. Returns (nil, false, nil)
// when no such medication exists.
func (s *Store) FindMedicationByName(ctx context.Context, name string) (*Medication, bool, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, false, nil
	}

	var m Medication
	err := s.db.QueryRowContext(ctx,
		`SELECT name, active_ingredient, requires_prescription, dose_amount, frequency, max_daily, usage_instructions, safety_instructions, stock
		 FROM medications WHERE LOWER(name) = LOWER(?)`, trimmed,
	).Scan(
		&m.Name, &m.ActiveIngredient, &m.RequiresPrescription,
		&m.Dosage.DoseAmount, &m.Dosage.Frequency, &m.Dosage.MaxDaily,
		&m.UsageInstructions, &m.SafetyInstructions, &m.Stock,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find medication: %w", err)
	}

	return &m, true, nil
}
