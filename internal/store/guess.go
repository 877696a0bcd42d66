package store

import (
	"time"
)

// SaveGuess appends a submitted value for one part of a question. Guesses
// are never updated or deleted; "" is a legitimate value.
func (s *Store) SaveGuess(questionID int64, part int, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO guesses (question, part, guess, created) VALUES (?, ?, ?, ?)`,
		questionID, part, value, time.Now(),
	)
	return err
}

// Guesses returns the most recent guess per part for a question.
func (s *Store) Guesses(questionID int64) (map[int]string, error) {
	return s.latestGuesses(
		`SELECT part, guess FROM guesses
		 WHERE question = ? ORDER BY created DESC, id DESC`,
		questionID)
}

// GuessesBefore returns the most recent guess per part recorded strictly
// before the cutoff. Re-marking uses this so submissions made after the
// original submit time cannot change the result.
func (s *Store) GuessesBefore(questionID int64, cutoff time.Time) (map[int]string, error) {
	return s.latestGuesses(
		`SELECT part, guess FROM guesses
		 WHERE question = ? AND created < ? ORDER BY created DESC, id DESC`,
		questionID, cutoff)
}

func (s *Store) latestGuesses(query string, args ...any) (map[int]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	guesses := map[int]string{}
	for rows.Next() {
		var part int
		var guess string
		if err := rows.Scan(&part, &guess); err != nil {
			return nil, err
		}
		if _, seen := guesses[part]; !seen {
			guesses[part] = guess
		}
	}
	return guesses, rows.Err()
}
