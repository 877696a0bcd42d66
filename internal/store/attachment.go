package store

import (
	"database/sql"

	"github.com/openassess/openassess/internal/model"
)

// PutTemplateAttachment stores a template-level attachment tagged with the
// given version. Rows are never overwritten; saving under a new version is
// what makes old question instances reproducible.
func (s *Store) PutTemplateAttachment(qtID int64, name, mimetype string, data []byte, version int) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec(
		`INSERT INTO qtattach (qtemplate, name, mimetype, data, version) VALUES (?, ?, ?, ?, ?)`,
		qtID, name, mimetype, data, version,
	)
	return err
}

// TemplateAttachment fetches a template-level attachment, resolving to the
// newest row with version <= the requested version (<= 0 means the current
// template version). Returns nil when there is no such attachment.
func (s *Store) TemplateAttachment(qtID int64, name string, version int) (*model.Attachment, error) {
	version, err := s.resolveVersion(qtID, version)
	if err != nil {
		return nil, err
	}
	att := model.Attachment{QTemplate: qtID, Name: name}
	err = s.db.QueryRow(
		`SELECT mimetype, data, version FROM qtattach
		 WHERE qtemplate = ? AND name = ?
		   AND version = (SELECT MAX(version) FROM qtattach
		                  WHERE qtemplate = ? AND name = ? AND version <= ?)`,
		qtID, name, qtID, name, version,
	).Scan(&att.MimeType, &att.Data, &att.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &att, nil
}

// PutQuestionAttachment stores a per-variation (instance-level) attachment,
// typically the baked image.gif or qtemplate.html for one variation.
func (s *Store) PutQuestionAttachment(qtID int64, variation int, name, mimetype string, data []byte, version int) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec(
		`INSERT INTO qattach (qtemplate, variation, name, mimetype, data, version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		qtID, variation, name, mimetype, data, version,
	)
	return err
}

// QuestionAttachment fetches an instance-level attachment for the exact
// (template, variation, version) triple, or nil if absent.
func (s *Store) QuestionAttachment(qtID int64, variation int, name string, version int) (*model.Attachment, error) {
	version, err := s.resolveVersion(qtID, version)
	if err != nil {
		return nil, err
	}
	att := model.Attachment{QTemplate: qtID, Variation: variation, Name: name, Version: version}
	err = s.db.QueryRow(
		`SELECT mimetype, data FROM qattach
		 WHERE qtemplate = ? AND variation = ? AND name = ? AND version = ?`,
		qtID, variation, name, version,
	).Scan(&att.MimeType, &att.Data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &att, nil
}

// ResolveAttachment looks an attachment up the way question rendering needs
// it. image.gif and qtemplate.html check the instance level first because
// those two usually carry baked-in per-variation data; everything else
// checks the template level first.
func (s *Store) ResolveAttachment(qtID int64, variation, version int, name string) (*model.Attachment, error) {
	if name == model.AttImage || name == model.AttQTemplateHTML {
		att, err := s.QuestionAttachment(qtID, variation, name, version)
		if err != nil || att != nil {
			return att, err
		}
		return s.TemplateAttachment(qtID, name, version)
	}
	att, err := s.TemplateAttachment(qtID, name, version)
	if err != nil || att != nil {
		return att, err
	}
	return s.QuestionAttachment(qtID, variation, name, version)
}

// AttachmentNames lists the distinct template-level attachment names saved
// at or below the given version.
func (s *Store) AttachmentNames(qtID int64, version int) ([]string, error) {
	version, err := s.resolveVersion(qtID, version)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT name FROM qtattach WHERE qtemplate = ? AND version <= ?
		 GROUP BY name ORDER BY name`,
		qtID, version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
