package store

import (
	"fmt"

	"github.com/openassess/openassess/internal/model"
)

// CreateTemplate inserts a new question template at version 1.
func (s *Store) CreateTemplate(t model.QTemplate) (int64, error) {
	if t.Marker == 0 {
		t.Marker = model.MarkerStandard
	}
	res, err := s.db.Exec(
		`INSERT INTO qtemplates (owner, title, description, marker, scoremax, version, status, embed_id)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		t.Owner, t.Title, t.Description, t.Marker, t.ScoreMax, t.Status, t.EmbedID,
	)
	if err != nil {
		return 0, fmt.Errorf("create qtemplate: %w", err)
	}
	return res.LastInsertId()
}

// Template returns the template row, or sql.ErrNoRows.
func (s *Store) Template(id int64) (model.QTemplate, error) {
	var t model.QTemplate
	err := s.db.QueryRow(
		`SELECT qtemplate, owner, title, description, marker, scoremax, version, status, embed_id
		 FROM qtemplates WHERE qtemplate = ?`, id,
	).Scan(&t.ID, &t.Owner, &t.Title, &t.Description, &t.Marker, &t.ScoreMax,
		&t.Version, &t.Status, &t.EmbedID)
	return t, err
}

// TemplateByEmbedID finds the template with the given external embedding key.
func (s *Store) TemplateByEmbedID(embedID string) (model.QTemplate, error) {
	var t model.QTemplate
	err := s.db.QueryRow(
		`SELECT qtemplate, owner, title, description, marker, scoremax, version, status, embed_id
		 FROM qtemplates WHERE embed_id = ?`, embedID,
	).Scan(&t.ID, &t.Owner, &t.Title, &t.Description, &t.Marker, &t.ScoreMax,
		&t.Version, &t.Status, &t.EmbedID)
	return t, err
}

// UpdateTemplate rewrites the mutable template fields (not the version).
func (s *Store) UpdateTemplate(t model.QTemplate) error {
	_, err := s.db.Exec(
		`UPDATE qtemplates SET title = ?, description = ?, marker = ?, scoremax = ?, status = ?, embed_id = ?
		 WHERE qtemplate = ?`,
		t.Title, t.Description, t.Marker, t.ScoreMax, t.Status, t.EmbedID, t.ID,
	)
	return err
}

// TemplateVersion returns the current version of a template.
func (s *Store) TemplateVersion(id int64) (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT version FROM qtemplates WHERE qtemplate = ?`, id).Scan(&v)
	return v, err
}

// BumpTemplateVersion increments the template version and returns the new
// value. This is a read-modify-write; two authors editing the same template
// at once race on the counter and the last writer wins. That race is
// accepted: old versions stay intact either way.
func (s *Store) BumpTemplateVersion(id int64) (int, error) {
	if _, err := s.db.Exec(
		`UPDATE qtemplates SET version = version + 1 WHERE qtemplate = ?`, id); err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	return s.TemplateVersion(id)
}

// EditorType reports which editor UI a template should use, from its
// attachment names.
func (s *Store) EditorType(id int64) (string, error) {
	names, err := s.AttachmentNames(id, 0)
	if err != nil {
		return "", err
	}
	return model.EditorType(names), nil
}

// CopyTemplate makes a full copy of a template including its attachments
// and variations, all tagged with the new template's version 1.
func (s *Store) CopyTemplate(id int64) (int64, error) {
	orig, err := s.Template(id)
	if err != nil {
		return 0, fmt.Errorf("copy qtemplate %d: %w", id, err)
	}
	orig.ID = 0
	newID, err := s.CreateTemplate(orig)
	if err != nil {
		return 0, err
	}
	names, err := s.AttachmentNames(id, 0)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		att, err := s.TemplateAttachment(id, name, 0)
		if err != nil {
			return 0, err
		}
		if att == nil {
			continue
		}
		if err := s.PutTemplateAttachment(newID, name, att.MimeType, att.Data, 1); err != nil {
			return 0, err
		}
	}
	variations, err := s.Variations(id, 0)
	if err != nil {
		return 0, err
	}
	for num, data := range variations {
		if err := s.AddVariation(newID, num, data, 1); err != nil {
			return 0, err
		}
	}
	return newID, nil
}

// resolveVersion maps "version not specified" (<= 0) to the template's
// current version.
func (s *Store) resolveVersion(qtID int64, version int) (int, error) {
	if version > 0 {
		return version, nil
	}
	return s.TemplateVersion(qtID)
}
