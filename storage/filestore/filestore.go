package filestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/storage"
	"github.com/rs/zerolog/log"
)

// rename is swapped in tests to simulate a crash before the file is replaced.
var rename = os.Rename

// FileStore keeps the rate snapshot and the history log as JSON files.
type FileStore struct {
	lock        sync.Mutex // serializes writers of this process
	ratesPath   string     // current snapshot
	historyPath string     // append-only history
}

func New(ratesPath, historyPath string) storage.RateStore {
	return &FileStore{
		ratesPath:   ratesPath,
		historyPath: historyPath,
	}
}

// Load implements storage.RateStore.
func (f *FileStore) Load() model.RateSnapshot {
	data, err := os.ReadFile(f.ratesPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("path", f.ratesPath).Msg("unable to read rates file")
		}
		return model.EmptySnapshot()
	}

	snap := model.RateSnapshot{}
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(fmt.Errorf("%w: %v", model.ErrStoreCorrupt, err)).Str("path", f.ratesPath).Msg("rates file is corrupt, using empty snapshot")
		return model.EmptySnapshot()
	}

	pairs := make(map[string]model.RatePair, len(snap.Pairs))
	for key, p := range snap.Pairs {
		if !validRate(p.Rate) {
			log.Warn().Str("pair", key).Float64("rate", p.Rate).Msg("ignoring non-positive rate")
			continue
		}
		p.Pair = key
		pairs[key] = p
	}
	snap.Pairs = pairs

	return snap
}

// Save implements storage.RateStore.
func (f *FileStore) Save(snapshot model.RateSnapshot) error {
	out := model.RateSnapshot{
		Pairs:       make(map[string]model.RatePair, len(snapshot.Pairs)),
		LastRefresh: snapshot.LastRefresh,
	}
	for key, p := range snapshot.Pairs {
		if !validRate(p.Rate) {
			log.Warn().Str("pair", key).Float64("rate", p.Rate).Msg("refusing to store non-positive rate")
			continue
		}
		out.Pairs[key] = p
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	if err := writeFileAtomically(f.ratesPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save rates: %w", err)
	}

	log.Debug().Int("pairs", len(out.Pairs)).Str("path", f.ratesPath).Msg("saved rates snapshot")
	return nil
}

// AppendHistory implements storage.RateStore.
func (f *FileStore) AppendHistory(records []model.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	var history []model.HistoryRecord

	data, err := os.ReadFile(f.historyPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read history: %w", err)
	case len(bytes.TrimSpace(data)) > 0:
		if err := json.Unmarshal(data, &history); err != nil {
			return fmt.Errorf("read history: %w: %v", model.ErrStoreCorrupt, err)
		}
	}

	history = append(history, records...)

	data, err = json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}

	if err := writeFileAtomically(f.historyPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write history: %w", err)
	}

	log.Debug().Int("records", len(records)).Int("total", len(history)).Msg("appended rate history")
	return nil
}

func validRate(r float64) bool {
	return r > 0 && !math.IsInf(r, 0) && !math.IsNaN(r)
}

func writeFileAtomically(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return rename(tmp.Name(), path)
}
