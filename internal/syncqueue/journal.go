package syncqueue

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const itemPrefix = "item:"

// Journal persists queued mutations to disk so a gateway restart while
// offline does not lose them. A nil *Journal is a valid no-op journal.
type Journal struct {
	db *leveldb.DB
}

func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, nil
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open sync journal %q: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Load() ([]*Item, error) {
	if j == nil {
		return nil, nil
	}
	var items []*Item
	iter := j.db.NewIterator(util.BytesPrefix([]byte(itemPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var it Item
		if err := json.Unmarshal(iter.Value(), &it); err != nil {
			// skip the corrupt row rather than refusing to start
			continue
		}
		// anything mid-sync at crash time goes back to pending
		if it.Status == StatusSyncing {
			it.Status = StatusPending
		}
		items = append(items, &it)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan sync journal: %w", err)
	}
	return items, nil
}

func (j *Journal) Put(it *Item) error {
	if j == nil {
		return nil
	}
	raw, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("journal encode %s: %w", it.ID, err)
	}
	if err := j.db.Put([]byte(itemPrefix+it.ID), raw, nil); err != nil {
		return fmt.Errorf("journal put %s: %w", it.ID, err)
	}
	return nil
}

func (j *Journal) Delete(id string) error {
	if j == nil {
		return nil
	}
	if err := j.db.Delete([]byte(itemPrefix+id), nil); err != nil {
		return fmt.Errorf("journal delete %s: %w", id, err)
	}
	return nil
}

func (j *Journal) Clear() error {
	if j == nil {
		return nil
	}
	batch := new(leveldb.Batch)
	iter := j.db.NewIterator(util.BytesPrefix([]byte(itemPrefix)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan sync journal: %w", err)
	}
	if err := j.db.Write(batch, nil); err != nil {
		return fmt.Errorf("clear sync journal: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close sync journal: %w", err)
	}
	return nil
}
