package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// archives above this size go through the multipart uploader
	multipartThreshold = 8 << 20
)

// record is one JSONL line of a pool archive: the pool first, then one line
// per position.
type record struct {
	Kind     string           `json:"kind"`
	Pool     *domain.Pool     `json:"pool,omitempty"`
	Position *domain.Position `json:"position,omitempty"`
}

// Archiver implements domain.Archiver by writing a settled pool and its
// positions as JSONL under {prefix}/pools/{YYYY-MM}/{pool}.jsonl, partitioned
// by the month the snapshot was taken.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewArchiver creates an Archiver; an empty prefix means "archive".
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{writer: writer, reader: reader, prefix: prefix}
}

// PoolPath returns the object key a pool is archived under.
func (a *Archiver) PoolPath(p domain.Pool) string {
	month := time.Unix(p.SnapshotAt, 0).UTC().Format("2006-01")
	return path.Join(a.prefix, "pools", month, p.ID.Hex()+".jsonl")
}

// ArchivePool uploads pool and positions and returns the object key.
// Re-archiving a pool overwrites the earlier object.
func (a *Archiver) ArchivePool(ctx context.Context, pool domain.Pool, positions []domain.Position) (string, error) {
	buf, err := encodeArchive(pool, positions)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive pool %s: %w", pool.ID.Hex(), err)
	}

	key := a.PoolPath(pool)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive pool %s: %w", pool.ID.Hex(), err)
	}
	return key, nil
}

// LoadPool reads an archive written by ArchivePool.
func (a *Archiver) LoadPool(ctx context.Context, key string) (domain.Pool, []domain.Position, error) {
	body, err := a.reader.Get(ctx, key)
	if err != nil {
		return domain.Pool{}, nil, err
	}
	defer body.Close()

	var (
		pool      *domain.Pool
		positions []domain.Position
	)
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for line := 1; sc.Scan(); line++ {
		var rec record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return domain.Pool{}, nil, fmt.Errorf("s3blob: load %s line %d: %w", key, line, err)
		}
		switch {
		case rec.Kind == "pool" && rec.Pool != nil:
			pool = rec.Pool
		case rec.Kind == "position" && rec.Position != nil:
			positions = append(positions, *rec.Position)
		default:
			return domain.Pool{}, nil, fmt.Errorf("s3blob: load %s line %d: unexpected %q record", key, line, rec.Kind)
		}
	}
	if err := sc.Err(); err != nil {
		return domain.Pool{}, nil, fmt.Errorf("s3blob: load %s: %w", key, err)
	}
	if pool == nil {
		return domain.Pool{}, nil, fmt.Errorf("s3blob: load %s: no pool record", key)
	}
	return pool.Clone(), positions, nil
}

func encodeArchive(pool domain.Pool, positions []domain.Position) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(record{Kind: "pool", Pool: &pool}); err != nil {
		return nil, err
	}
	for i := range positions {
		if err := enc.Encode(record{Kind: "position", Position: &positions[i]}); err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
