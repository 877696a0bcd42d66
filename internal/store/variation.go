package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openassess/openassess/internal/model"
)

// AddVariation stores a variation data bag for (template, variation number)
// tagged with the given version. Rows are append-only; redefining a
// variation for a later version leaves the old definition in place for
// instances bound to earlier versions.
func (s *Store) AddVariation(qtID int64, variation int, data model.Variation, version int) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode variation: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO qtvariations (qtemplate, variation, version, data) VALUES (?, ?, ?, ?)`,
		qtID, variation, version, string(raw),
	)
	return err
}

// Variation returns the variation's latest definition with version <= the
// requested version (<= 0 means the template's current version). Absence is
// not an error: the result is nil and the caller decides what "template not
// instantiable" means for it.
func (s *Store) Variation(qtID int64, variation, version int) (model.Variation, error) {
	version, err := s.resolveVersion(qtID, version)
	if err != nil {
		return nil, err
	}
	var raw string
	err = s.db.QueryRow(
		`SELECT data FROM qtvariations
		 WHERE qtemplate = ? AND variation = ?
		   AND version = (SELECT MAX(version) FROM qtvariations
		                  WHERE qtemplate = ? AND variation = ? AND version <= ?)`,
		qtID, variation, qtID, variation, version,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		slog.Warn("request for unknown variation",
			"qtid", qtID, "variation", variation, "version", version)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var data model.Variation
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Warn("undecodable variation data",
			"qtid", qtID, "variation", variation, "version", version, "error", err)
		return nil, nil
	}
	return data, nil
}

// VariationCount returns the highest variation number the template has at
// the given version (0 when it has none and cannot be instantiated). A
// variation exists at a version as soon as any definition at or below that
// version exists; redefining one variation later must not hide the others.
func (s *Store) VariationCount(qtID int64, version int) (int, error) {
	version, err := s.resolveVersion(qtID, version)
	if err != nil {
		return 0, err
	}
	var count sql.NullInt64
	err = s.db.QueryRow(
		`SELECT MAX(variation) FROM qtvariations WHERE qtemplate = ? AND version <= ?`,
		qtID, version,
	).Scan(&count)
	if err != nil || !count.Valid {
		return 0, err
	}
	return int(count.Int64), nil
}

// Variations returns all variations of a template at the given version,
// keyed by variation number. Each variation resolves independently to its
// latest definition at or below the version, the same rule Variation uses
// for a single one.
func (s *Store) Variations(qtID int64, version int) (map[int]model.Variation, error) {
	version, err := s.resolveVersion(qtID, version)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT v.variation, v.data FROM qtvariations v
		 JOIN (SELECT variation, MAX(version) AS version FROM qtvariations
		       WHERE qtemplate = ? AND version <= ? GROUP BY variation) latest
		   ON v.variation = latest.variation AND v.version = latest.version
		 WHERE v.qtemplate = ?`,
		qtID, version, qtID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int]model.Variation{}
	for rows.Next() {
		var num int
		var raw string
		if err := rows.Scan(&num, &raw); err != nil {
			return nil, err
		}
		var data model.Variation
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			slog.Warn("undecodable variation data", "qtid", qtID, "variation", num, "error", err)
			continue
		}
		out[num] = data
	}
	return out, rows.Err()
}
