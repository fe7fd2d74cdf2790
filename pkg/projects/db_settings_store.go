package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/util"
)

//ErrNoSettings is returned by LoadSettings before the first save
var ErrNoSettings = errors.New("no saved settings")

//NewDBSettingsStore opens (or creates) the settings database under baseDir
func NewDBSettingsStore(baseDir string, log *logrus.Entry) (SettingsStore, error) {
	location := path.Join(baseDir, "settings_db")

	//attempt to create the location if it doesn't exist
	if err := os.MkdirAll(location, 0755); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(location).WithNumMemtables(1).WithNumLevelZeroTables(1).WithNumLevelZeroTablesStall(5)

	//clean up lock on the DB if previous crash
	_ = os.Remove(path.Join(opts.Dir, "LOCK"))

	return openStore(opts, log)
}

//NewInMemorySettingsStore is a store that forgets everything once closed
func NewInMemorySettingsStore(log *logrus.Entry) (SettingsStore, error) {
	return openStore(badger.DefaultOptions("").WithInMemory(true), log)
}

func openStore(opts badger.Options, log *logrus.Entry) (SettingsStore, error) {
	if log != nil {
		opts = opts.WithLogger(badgerLogger{log.WithField("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening settings store: %w", err)
	}
	return &dbSettingsStore{
		db:            db,
		settingsTable: "settings_",
		commandTable:  "cmd_",
	}, nil
}

type dbSettingsStore struct {
	db                          *badger.DB
	settingsTable, commandTable string
}

//badgerLogger quietens badger's info chatter to debug level
type badgerLogger struct {
	*logrus.Entry
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}

// LoadSettings implements SettingsStore
func (s *dbSettingsStore) LoadSettings() (*Config, error) {
	var cfg Config
	err := s.db.View(func(txn *badger.Txn) error {
		item, e := txn.Get(toKey(s.settingsTable, "config"))
		if e != nil {
			return e
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cfg)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoSettings
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveSettings implements SettingsStore. Projects are rebuilt from the backends
// and are not saved.
func (s *dbSettingsStore) SaveSettings(cfg Config) error {
	cfg.Projects = nil
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(toKey(s.settingsTable, "config"), data)
	})
}

// SaveCommand implements SettingsStore
func (s *dbSettingsStore) SaveCommand(rec CommandRecord) error {
	if rec.ID == "" {
		rec.ID = util.NewRandomUUID().String()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := toKey(s.commandTable, fmt.Sprintf("%020d_", rec.Started.UnixNano()), rec.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// ListCommands implements SettingsStore
func (s *dbSettingsStore) ListCommands(limit int) ([]CommandRecord, error) {
	recs := []CommandRecord{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.commandTable)
		for it.Seek(append(toKey(s.commandTable), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(recs) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var rec CommandRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				recs = append(recs, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return recs, err
}

func (s *dbSettingsStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return errors.New("Attempting to close uninitialised DB")
}

func toKey(keys ...string) []byte {
	return []byte(strings.Join(keys, ""))
}
