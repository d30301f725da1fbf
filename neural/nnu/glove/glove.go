// Package glove loads whitespace delimited pretrained word vectors
// ("word v1 ... vD") and builds embedding tables from them.
package glove

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/panjf2000/ants/v2"
)

const (
	defaultChunkLines = 2048
	// fastcache never allocates less than 512 buckets of 64 KiB.
	minMaxBytes = 32 << 20
)

// Metadata stored next to the vectors. Words may not start with NUL, so the
// keys cannot collide with a vector.
var (
	dimKey    = []byte("\x00glove:dim")
	countKey  = []byte("\x00glove:count")
	sourceKey = []byte("\x00glove:source")
)

// ErrEmptyFile is returned when a vector file holds no vectors.
var ErrEmptyFile = errors.New("pretrained vector file is empty")

// DimensionError reports a line whose vector width differs from the first line.
type DimensionError struct {
	Path string
	Line int
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s:%d: expected %d vector components, got %d", e.Path, e.Line, e.Want, e.Got)
}

// CapacityError reports vectors that were evicted while loading because the
// store was smaller than the file.
type CapacityError struct {
	Path     string
	Missing  int
	Vectors  int
	MaxBytes int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %d of %d pretrained vectors do not fit in a %d byte store", e.Path, e.Missing, e.Vectors, e.MaxBytes)
}

// Options controls loading.
type Options struct {
	// CachePath, when set, is where the parsed vectors are saved. A later
	// Load of the same, unchanged source file reads the cache instead of
	// parsing the text.
	CachePath string
	// MaxBytes bounds the in-memory store. Zero sizes it from the file.
	MaxBytes int
	// Workers is the size of the parsing pool. Zero uses GOMAXPROCS.
	Workers    int
	ChunkLines int
}

// Store holds pretrained vectors keyed by word.
type Store struct {
	cache *fastcache.Cache
	dim   int
	n     int
}

// Load reads the vectors at path, or the cache at opts.CachePath when it was
// built from the same file.
func Load(path string, opts Options) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pretrained vectors %s: %w", path, err)
	}
	source := fingerprint(path, info)

	if opts.CachePath != "" {
		if s, ok := loadCache(opts.CachePath, source); ok {
			return s, nil
		}
	}

	if opts.ChunkLines <= 0 {
		opts.ChunkLines = defaultChunkLines
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = estimateMaxBytes(info.Size())
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pretrained vectors %s: %w", path, err)
	}
	defer file.Close()

	s, err := parse(path, file, source, opts)
	if err != nil {
		return nil, err
	}

	if opts.CachePath != "" {
		if err := s.cache.SaveToFile(opts.CachePath); err != nil {
			return nil, fmt.Errorf("failed to save pretrained vector cache %s: %w", opts.CachePath, err)
		}
		slog.Info("Saved pretrained vector cache", "path", opts.CachePath)
	}
	return s, nil
}

// estimateMaxBytes bounds the binary size of a text file's vectors. Every
// component takes at least two bytes of text and four bytes once stored.
func estimateMaxBytes(fileSize int64) int {
	return int(2*fileSize+fileSize/8) + minMaxBytes
}

func fingerprint(path string, info os.FileInfo) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fmt.Sprintf("%s\x00%d\x00%d", path, info.Size(), info.ModTime().UnixNano())
}

func loadCache(cachePath, source string) (*Store, bool) {
	if _, err := os.Stat(cachePath); err != nil {
		return nil, false
	}
	cache := fastcache.LoadFromFileOrNew(cachePath, minMaxBytes)
	dim, okDim := readUint(cache, dimKey)
	n, okCount := readUint(cache, countKey)
	if !okDim || !okCount {
		slog.Warn("Ignoring pretrained vector cache without metadata", "path", cachePath)
		cache.Reset()
		return nil, false
	}
	if !bytes.Equal(cache.Get(nil, sourceKey), []byte(source)) {
		slog.Info("Pretrained vector cache was built from another file, reparsing", "path", cachePath)
		cache.Reset()
		return nil, false
	}
	slog.Info("Loaded pretrained vectors from cache", "path", cachePath, "words", n, "dim", dim)
	return &Store{cache: cache, dim: dim, n: n}, true
}

type entry struct {
	word string
	vec  []byte
}

// chunk is a run of consecutive lines parsed by one pool task.
type chunk struct {
	first   int
	lines   []string
	entries []entry
	err     error
	done    chan struct{}
}

func parse(path string, r io.Reader, source string, opts Options) (*Store, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lineNo := 0
	dim := 0
	for dim == 0 && scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		dim = len(fields) - 1
		if dim == 0 {
			return nil, &DimensionError{Path: path, Line: lineNo, Want: 1, Got: 0}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pretrained vectors %s: %w", path, err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}

	s := &Store{cache: fastcache.New(opts.MaxBytes), dim: dim}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create parsing pool: %w", err)
	}
	defer pool.Release()

	// Chunks are parsed in any order but committed in line order, so the
	// last line of a repeated word wins.
	pending := make(chan *chunk, 2*workers)
	committed := make(chan struct{})
	words := make(map[string]struct{})
	duplicates := 0
	var parseErr error
	go func() {
		defer close(committed)
		for c := range pending {
			<-c.done
			if parseErr != nil {
				continue
			}
			if c.err != nil {
				parseErr = c.err
				continue
			}
			for _, e := range c.entries {
				if _, dup := words[e.word]; dup {
					duplicates++
				}
				words[e.word] = struct{}{}
				s.cache.Set([]byte(e.word), e.vec)
			}
		}
	}()

	submit := func(c *chunk) error {
		c.done = make(chan struct{})
		if err := pool.Submit(func() { s.parseChunk(path, c) }); err != nil {
			return fmt.Errorf("failed to schedule parsing: %w", err)
		}
		pending <- c
		return nil
	}
	finish := func() {
		close(pending)
		<-committed
	}

	cur := &chunk{first: lineNo, lines: []string{scanner.Text()}}
	for scanner.Scan() {
		lineNo++
		cur.lines = append(cur.lines, scanner.Text())
		if len(cur.lines) >= opts.ChunkLines {
			if err := submit(cur); err != nil {
				finish()
				return nil, err
			}
			cur = &chunk{first: lineNo + 1}
		}
	}
	if len(cur.lines) > 0 {
		if err := submit(cur); err != nil {
			finish()
			return nil, err
		}
	}
	finish()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pretrained vectors %s: %w", path, err)
	}
	if parseErr != nil {
		return nil, parseErr
	}

	s.n = len(words)
	s.cache.Set(dimKey, encodeUint(dim))
	s.cache.Set(countKey, encodeUint(s.n))
	s.cache.Set(sourceKey, []byte(source))

	// fastcache silently evicts old entries once a bucket is full.
	missing := 0
	for word := range words {
		if !s.cache.Has([]byte(word)) {
			missing++
		}
	}
	for _, key := range [][]byte{dimKey, countKey, sourceKey} {
		if !s.cache.Has(key) {
			missing++
		}
	}
	if missing > 0 {
		s.cache.Reset()
		return nil, &CapacityError{Path: path, Missing: missing, Vectors: len(words), MaxBytes: opts.MaxBytes}
	}

	if duplicates > 0 {
		slog.Warn("Repeated words in pretrained vectors, keeping the last", "path", path, "count", duplicates)
	}
	slog.Info("Loaded pretrained vectors", "path", path, "words", s.n, "dim", dim)
	return s, nil
}

func (s *Store) parseChunk(path string, c *chunk) {
	defer close(c.done)
	for i, line := range c.lines {
		word, vec, err := s.parseLine(path, c.first+i, line)
		if err != nil {
			c.err = err
			return
		}
		if word != "" {
			c.entries = append(c.entries, entry{word: word, vec: vec})
		}
	}
	c.lines = nil
}

// parseLine parses one "word v1 ... vD" line. Blank lines yield an empty word.
func (s *Store) parseLine(path string, lineNo int, line string) (string, []byte, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, nil
	}
	if strings.HasPrefix(fields[0], "\x00") {
		return "", nil, fmt.Errorf("%s:%d: word starts with a NUL byte", path, lineNo)
	}
	if len(fields)-1 != s.dim {
		return "", nil, &DimensionError{Path: path, Line: lineNo, Want: s.dim, Got: len(fields) - 1}
	}
	buf := make([]byte, 4*s.dim)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return "", nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	}
	return fields[0], buf, nil
}

// Dim returns the vector width.
func (s *Store) Dim() int {
	return s.dim
}

// Len returns the number of stored vectors.
func (s *Store) Len() int {
	return s.n
}

// Vector returns the vector for word.
func (s *Store) Vector(word string) ([]float64, bool) {
	buf, ok := s.cache.HasGet(nil, []byte(word))
	if !ok || len(buf) != 4*s.dim {
		return nil, false
	}
	out := make([]float64, s.dim)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
	}
	return out, true
}

// Reset drops every stored vector.
func (s *Store) Reset() {
	s.cache.Reset()
	s.n = 0
}

func encodeUint(v int) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}

func readUint(cache *fastcache.Cache, key []byte) (int, bool) {
	buf, ok := cache.HasGet(nil, key)
	if !ok || len(buf) != 8 {
		return 0, false
	}
	return int(binary.LittleEndian.Uint64(buf)), true
}
