package storage

import (
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

// Snapshot layout:
//
//	{"records":[{"table":"players","pk":1,"value":"<base64>"}, ...]}
//
// Records are written in ascending key order so snapshots of equal stores are
// byte-identical.

func encodeSnapshot(s *MemStore) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]common.RecordKey, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	keys = common.SortKeys(keys)

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("records")
	e.ArrStart()
	for _, k := range keys {
		e.ObjStart()
		e.FieldStart("table")
		e.Str(k.Table)
		e.FieldStart("pk")
		e.UInt64(k.PK)
		e.FieldStart("value")
		e.Base64(s.records[k])
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	return e.Bytes()
}

func decodeSnapshot(data []byte) (*MemStore, error) {
	s := NewMemStore()

	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, field string) error {
		if field != "records" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var (
				key   common.RecordKey
				value common.Value
			)
			err := d.Obj(func(d *jx.Decoder, field string) error {
				var err error
				switch field {
				case "table":
					key.Table, err = d.Str()
				case "pk":
					key.PK, err = d.UInt64()
				case "value":
					value, err = d.Base64()
				default:
					err = d.Skip()
				}
				return err
			})
			if err != nil {
				return err
			}
			if value == nil {
				value = common.Value{}
			}
			s.records[key] = value
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}

	return s, nil
}

// WriteSnapshot persists the current contents of s to path on fs.
func WriteSnapshot(fs afero.Fs, path string, s *MemStore) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}

	if err := afero.WriteFile(fs, filepath.Clean(path), encodeSnapshot(s), 0o600); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	return nil
}

// ReadSnapshot loads a store previously written by WriteSnapshot.
func ReadSnapshot(fs afero.Fs, path string) (*MemStore, error) {
	data, err := afero.ReadFile(fs, filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	return decodeSnapshot(data)
}
