// Package snapshot persists the store to disk so a restarted daemon does not
// greet clients with an empty departure board.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/model"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/store"
)

// Snapshot file names inside the snapshot directory.
const (
	StationsFile = "stations.json"
	TrainsFile   = "trains.json"
)

// Index is one serialized store index: outer key → trip/station → train.
type Index = map[string]map[string]*model.Train

// Persister saves and restores both store indices as JSON files.
type Persister struct {
	dir    string
	logger *zap.Logger
}

// New constructs a Persister writing into dir.
func New(dir string, logger *zap.Logger) *Persister {
	return &Persister{dir: dir, logger: logger}
}

// Save writes both indices. Each file is written to a temp name first and
// renamed into place, so a crash mid-write never corrupts the previous
// snapshot.
func (p *Persister) Save(st *store.Store) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create %s: %w", p.dir, err)
	}
	if err := p.write(StationsFile, st.DumpStations()); err != nil {
		return err
	}
	if err := p.write(TrainsFile, st.DumpTrains()); err != nil {
		return err
	}
	p.logger.Info("snapshot saved",
		zap.String("directory", p.dir),
		zap.Int("stations", st.CountStations()),
		zap.Int("trains", st.CountTrains()))
	return nil
}

// Restore primes both store indices from the snapshot directory. A missing
// file is not an error; the daemon simply starts cold on that index.
func (p *Persister) Restore(st *store.Store) error {
	stations, err := p.read(StationsFile)
	if err != nil {
		return err
	}
	if stations != nil {
		st.RestoreStations(stations)
	}

	trains, err := p.read(TrainsFile)
	if err != nil {
		return err
	}
	if trains != nil {
		st.RestoreTrains(trains)
	}

	p.logger.Info("snapshot restored",
		zap.String("directory", p.dir),
		zap.Int("stations", st.CountStations()),
		zap.Int("trains", st.CountTrains()))
	return nil
}

func (p *Persister) write(name string, index Index) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("snapshot: marshal %s: %w", name, err)
	}

	path := filepath.Join(p.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename %s: %w", path, err)
	}
	return nil
}

func (p *Persister) read(name string) (Index, error) {
	path := filepath.Join(p.dir, name)
	index, err := LoadIndex(path)
	if os.IsNotExist(err) {
		p.logger.Info("no snapshot file", zap.String("path", path))
		return nil, nil
	}
	return index, err
}

// LoadIndex reads one serialized index from an arbitrary path. Used both by
// Restore and by the -load-stations / -load-trains startup flags.
func LoadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	return index, nil
}
