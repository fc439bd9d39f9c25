package buildsys

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
)

// ErrCacheMiss is returned by ReadCache if the cache is missing or belongs to a different
// script, script revision or set of options
var ErrCacheMiss = eris.New("task cache miss")

func init() {
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
}

// CacheKey identifies the script revision and options a cached project was evaluated with
type CacheKey struct {
	Version string
	Script  string
	ModTime time.Time
	Options map[string]string
}

// NewCacheKey builds the key for the current revision of script
func NewCacheKey(script string, options map[string]string) (CacheKey, error) {
	script, err := filepath.Abs(script)
	if err != nil {
		return CacheKey{}, err
	}

	info, err := os.Stat(script)
	if err != nil {
		return CacheKey{}, eris.Wrapf(err, "failed to check %s", script)
	}

	if options == nil {
		options = map[string]string{}
	}

	return CacheKey{
		Version: Version,
		Script:  script,
		ModTime: info.ModTime().UTC(),
		Options: options,
	}, nil
}

func (k CacheKey) matches(other CacheKey) bool {
	if k.Version != other.Version || k.Script != other.Script || !k.ModTime.Equal(other.ModTime) {
		return false
	}

	// gob drops empty maps so nil and {} have to compare equal
	if len(k.Options) != len(other.Options) {
		return false
	}

	for name, value := range k.Options {
		if otherValue, ok := other.Options[name]; !ok || otherValue != value {
			return false
		}
	}
	return true
}

// WriteCache stores the evaluated project as a brotli compressed gob stream
func WriteCache(file string, key CacheKey, project *Project) error {
	err := os.MkdirAll(filepath.Dir(file), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create cache directory for %s", file)
	}

	tmpFile := file + ".tmp"
	handle, err := os.Create(tmpFile)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", tmpFile)
	}
	defer os.Remove(tmpFile)
	defer handle.Close()

	compressor := brotli.NewWriterLevel(handle, brotli.DefaultCompression)
	encoder := gob.NewEncoder(compressor)
	err = encoder.Encode(key)
	if err != nil {
		return eris.Wrap(err, "failed to encode cache key")
	}

	err = encoder.Encode(project)
	if err != nil {
		return eris.Wrap(err, "failed to encode tasks")
	}

	err = compressor.Close()
	if err != nil {
		return eris.Wrap(err, "failed to compress task cache")
	}

	err = handle.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", tmpFile)
	}

	return os.Rename(tmpFile, file)
}

// ReadCache returns the project stored by WriteCache if it was written for the given key
func ReadCache(file string, key CacheKey) (*Project, error) {
	handle, err := os.Open(file)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, eris.Wrapf(err, "failed to open %s", file)
	}
	defer handle.Close()

	decoder := gob.NewDecoder(brotli.NewReader(bufio.NewReader(handle)))

	var stored CacheKey
	err = decoder.Decode(&stored)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to decode %s", file)
	}

	if !key.matches(stored) {
		return nil, ErrCacheMiss
	}

	var project Project
	err = decoder.Decode(&project)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to decode %s", file)
	}

	if project.Tasks == nil {
		project.Tasks = TaskList{}
	}

	return &project, nil
}
