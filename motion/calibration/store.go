// Package calibration persists observer calibration produced by the offline
// model-fitting tool. Records are written once per motor type and read back
// at hub startup; the tick path never touches the store.
package calibration

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/asdine/storm"

	"github.com/openhubs/gomotorstate/motion/observer"
)

// ERR_NOT_FOUND is returned by Load when no record exists for the name.
// Callers with a fallback calibration check for it explicitly.
var ERR_NOT_FOUND = errors.New("unable to find calibration")

// FORMAT_VERSION constrains which calibration records this build accepts.
// The offline tool stamps each record with the format it was generated for;
// anything outside the constraint is refused rather than misread.
const FORMAT_VERSION = "~1.0.0"

type Record struct {
	ID            int    `storm:"id,increment"`
	Name          string `storm:"unique"`
	FormatVersion string

	Model    observer.Model
	Settings observer.Settings
}

type Store struct {
	db *storm.DB
}

// Open opens (or creates) a calibration database at the given path.
func Open(path string) (s *Store, err error) {
	db, err := storm.Open(path)
	if err != nil {
		return
	}

	if err = db.Init(&Record{}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save validates and stores a calibration record. An empty format version is
// stamped with the current one; records for an existing name are rejected by
// the unique index, matching the write-once contract of the offline tool.
func (s *Store) Save(rec *Record) error {
	if rec.FormatVersion == "" {
		rec.FormatVersion = "1.0.0"
	}
	if _, err := semver.NewVersion(rec.FormatVersion); err != nil {
		return fmt.Errorf("record '%s': bad format version '%s': %v", rec.Name, rec.FormatVersion, err)
	}
	if err := rec.Model.Validate(); err != nil {
		return fmt.Errorf("record '%s': %v", rec.Name, err)
	}
	if err := rec.Settings.Validate(); err != nil {
		return fmt.Errorf("record '%s': %v", rec.Name, err)
	}

	return s.db.Save(rec)
}

// Load returns the calibration pair for a motor type, gating the record's
// format version against FORMAT_VERSION.
func (s *Store) Load(name string) (*observer.Model, *observer.Settings, error) {
	var rec Record
	if err := s.db.One("Name", name, &rec); err != nil {
		if err == storm.ErrNotFound {
			return nil, nil, ERR_NOT_FOUND
		}
		return nil, nil, err
	}

	ver, err := semver.NewVersion(rec.FormatVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("calibration '%s': bad format version '%s'", name, rec.FormatVersion)
	}

	constraint, err := semver.NewConstraint(FORMAT_VERSION)
	if err != nil {
		return nil, nil, err
	}

	if !constraint.Check(ver) {
		return nil, nil, fmt.Errorf("unable to use calibration '%s': format %s - require %s",
			name, rec.FormatVersion, FORMAT_VERSION)
	}

	// Stored records were validated on save, but the database can be edited
	// by other tools; re-check before handing tables to the tick path.
	if err := rec.Model.Validate(); err != nil {
		return nil, nil, fmt.Errorf("calibration '%s': %v", name, err)
	}
	if err := rec.Settings.Validate(); err != nil {
		return nil, nil, fmt.Errorf("calibration '%s': %v", name, err)
	}

	return &rec.Model, &rec.Settings, nil
}

// Names lists the stored motor types.
func (s *Store) Names() (names []string, err error) {
	var records []Record
	if err = s.db.All(&records); err != nil {
		return
	}
	for _, rec := range records {
		names = append(names, rec.Name)
	}
	return
}
