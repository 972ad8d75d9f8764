package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/kiku/internal/models"
	bolt "go.etcd.io/bbolt"
)

var (
	rootBucket    = []byte("namespaces")
	metaBucket    = []byte("meta")
	vectorsBucket = []byte("vectors")
	chunksBucket  = []byte("chunks")
	filesBucket   = []byte("files")

	dimensionsKey = []byte("dimensions")
	createdAtKey  = []byte("created_at")
)

// BoltStorage implements Storage on a bbolt file. Each namespace is a bucket
// under "namespaces" holding meta, vectors, chunks and files sub-buckets;
// vectors and chunks are keyed by big-endian ordinal.
type BoltStorage struct {
	db   *bolt.DB
	path string
}

// NewBoltStorage opens or creates the bolt file at path.
func NewBoltStorage(path string) (*BoltStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return &BoltStorage{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *BoltStorage) Path() string {
	return s.path
}

func readMeta(ns *bolt.Bucket, namespace string) (dims int, createdAt time.Time, err error) {
	meta := ns.Bucket(metaBucket)
	if meta == nil {
		return 0, time.Time{}, corruptf(namespace, "missing meta bucket")
	}
	d := meta.Get(dimensionsKey)
	if len(d) != 8 {
		return 0, time.Time{}, corruptf(namespace, "invalid dimension record")
	}
	dims = int(binary.BigEndian.Uint64(d))
	if dims <= 0 {
		return 0, time.Time{}, corruptf(namespace, "recorded dimension %d", dims)
	}
	if ts := meta.Get(createdAtKey); ts != nil {
		if createdAt, err = time.Parse(time.RFC3339Nano, string(ts)); err != nil {
			return 0, time.Time{}, corruptf(namespace, "invalid creation time")
		}
	}
	return dims, createdAt, nil
}

func nextOrdinal(b *bolt.Bucket) int {
	k, _ := b.Cursor().Last()
	if i, ok := parseOrdinalKey(k); ok {
		return i + 1
	}
	return 0
}

// LoadNamespace implements Storage.
func (s *BoltStorage) LoadNamespace(ctx context.Context, namespace string) (*NamespaceData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data *NamespaceData
	err := s.db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(rootBucket).Bucket([]byte(namespace))
		if ns == nil {
			return fmt.Errorf("%w: %s", models.ErrNamespaceNotFound, namespace)
		}
		dims, createdAt, err := readMeta(ns, namespace)
		if err != nil {
			return err
		}
		vectors, chunks := ns.Bucket(vectorsBucket), ns.Bucket(chunksBucket)
		if vectors == nil || chunks == nil {
			return corruptf(namespace, "missing entry buckets")
		}

		d := &NamespaceData{Namespace: namespace, Dimensions: dims, CreatedAt: createdAt}
		vc, cc := vectors.Cursor(), chunks.Cursor()
		vk, vv := vc.First()
		ck, cv := cc.First()
		for vk != nil || ck != nil {
			want := len(d.Chunks)
			vi, vok := parseOrdinalKey(vk)
			ci, cok := parseOrdinalKey(ck)
			if !vok || !cok {
				return corruptf(namespace, "%d vectors stored for %d chunks", vectors.Stats().KeyN, chunks.Stats().KeyN)
			}
			if vi != want || ci != want {
				return corruptf(namespace, "ordinal %d found where %d expected", max(vi, ci), want)
			}
			vec, err := DecodeVector(vv, dims)
			if err != nil {
				return corruptf(namespace, "ordinal %d: %v", want, err)
			}
			d.Vectors = append(d.Vectors, vec)
			d.Chunks = append(d.Chunks, string(cv))
			vk, vv = vc.Next()
			ck, cv = cc.Next()
		}
		data = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// AppendEntries implements Storage.
func (s *BoltStorage) AppendEntries(ctx context.Context, namespace string, batch *Batch) error {
	if err := batch.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rootBucket)
		ns := root.Bucket([]byte(namespace))
		if ns == nil {
			if batch.StartOrdinal != 0 {
				return corruptf(namespace, "store holds 0 entries, writer expected %d", batch.StartOrdinal)
			}
			var err error
			if ns, err = createNamespaceBucket(root, namespace, batch.Dimensions); err != nil {
				return err
			}
		}
		dims, _, err := readMeta(ns, namespace)
		if err != nil {
			return err
		}
		if dims != batch.Dimensions {
			return fmt.Errorf("%w: namespace %s has dimension %d, batch has %d", models.ErrDimensionMismatch, namespace, dims, batch.Dimensions)
		}

		vectors, chunks := ns.Bucket(vectorsBucket), ns.Bucket(chunksBucket)
		if vectors == nil || chunks == nil {
			return corruptf(namespace, "missing entry buckets")
		}
		if n := nextOrdinal(vectors); n != batch.StartOrdinal || nextOrdinal(chunks) != n {
			return corruptf(namespace, "store holds %d entries, writer expected %d", n, batch.StartOrdinal)
		}
		for i, chunk := range batch.Chunks {
			key := ordinalKey(batch.StartOrdinal + i)
			if err := vectors.Put(key, EncodeVector(batch.Vectors[i])); err != nil {
				return fmt.Errorf("failed to store vector: %w", err)
			}
			if err := chunks.Put(key, []byte(chunk)); err != nil {
				return fmt.Errorf("failed to store chunk: %w", err)
			}
		}

		if f := batch.File; f != nil {
			v, err := json.Marshal(boltFileRecord{Path: f.Path, ModTime: f.ModTime.UnixNano(), Size: f.Size, IngestID: batch.IngestID})
			if err != nil {
				return fmt.Errorf("failed to encode file record: %w", err)
			}
			files, err := ns.CreateBucketIfNotExists(filesBucket)
			if err != nil {
				return err
			}
			if err := files.Put([]byte(f.FileID), v); err != nil {
				return fmt.Errorf("failed to record ingested file: %w", err)
			}
		}
		return nil
	})
}

func createNamespaceBucket(root *bolt.Bucket, namespace string, dims int) (*bolt.Bucket, error) {
	ns, err := root.CreateBucket([]byte(namespace))
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace bucket: %w", err)
	}
	meta, err := ns.CreateBucket(metaBucket)
	if err != nil {
		return nil, err
	}
	d := make([]byte, 8)
	binary.BigEndian.PutUint64(d, uint64(dims))
	if err := meta.Put(dimensionsKey, d); err != nil {
		return nil, err
	}
	if err := meta.Put(createdAtKey, []byte(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
		return nil, err
	}
	for _, name := range [][]byte{vectorsBucket, chunksBucket, filesBucket} {
		if _, err := ns.CreateBucket(name); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

type boltFileRecord struct {
	Path     string `json:"path"`
	ModTime  int64  `json:"mtime"`
	Size     int64  `json:"size"`
	IngestID string `json:"ingest_id,omitempty"`
}

// ListNamespaces implements Storage.
func (s *BoltStorage) ListNamespaces(ctx context.Context) ([]models.NamespaceInfo, error) {
	var out []models.NamespaceInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			name := string(k)
			ns := tx.Bucket(rootBucket).Bucket(k)
			dims, createdAt, err := readMeta(ns, name)
			if err != nil {
				return err
			}
			count := 0
			if vectors := ns.Bucket(vectorsBucket); vectors != nil {
				count = nextOrdinal(vectors)
			}
			out = append(out, models.NamespaceInfo{Name: name, Dimensions: dims, Chunks: count, CreatedAt: createdAt})
			return nil
		})
	})
	return out, err
}

// GetFileRecord implements Storage.
func (s *BoltStorage) GetFileRecord(ctx context.Context, namespace, fileID string) (*FileRecord, error) {
	var rec *FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(rootBucket).Bucket([]byte(namespace))
		if ns == nil {
			return nil
		}
		files := ns.Bucket(filesBucket)
		if files == nil {
			return nil
		}
		v := files.Get([]byte(fileID))
		if v == nil {
			return nil
		}
		var r boltFileRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to decode file record: %w", err)
		}
		rec = &FileRecord{FileID: fileID, Path: r.Path, ModTime: time.Unix(0, r.ModTime), Size: r.Size, IngestID: r.IngestID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Close closes the bolt file.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}
