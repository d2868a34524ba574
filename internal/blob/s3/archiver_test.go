package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path], m.types[path] = b, contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "multipart")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, "")

	pool := domain.Pool{
		ID:            common.HexToAddress("0x1001"),
		TokenPair:     "ETH/USD",
		TargetPrice:   300_000_000_000,
		Creator:       common.HexToAddress("0xc1"),
		SnapshotTaken: true,
		SnapshotAt:    1_700_086_400, // 2023-11-15
		Winner:        domain.SideBull,
		BullReserve:   uint256.NewInt(2_487_500),
	}.Clone()
	pos := domain.NewPosition(pool.ID, common.HexToAddress("0xa1"))
	pos.BullShares.SetUint64(1_000_000)
	pos.Claimed = true
	pos.ClaimedAmount.SetUint64(1_990_000)

	key, err := a.ArchivePool(ctx, pool, []domain.Position{pos})
	require.NoError(t, err)
	require.Equal(t, "archive/pools/2023-11/"+pool.ID.Hex()+".jsonl", key)
	require.Equal(t, jsonlContentType, blobs.types[key])
	require.Equal(t, 2, bytes.Count(blobs.objects[key], []byte("\n")))

	gotPool, gotPositions, err := a.LoadPool(ctx, key)
	require.NoError(t, err)
	require.Equal(t, pool, gotPool)
	require.Len(t, gotPositions, 1)
	require.Equal(t, pos.ClaimedAmount, gotPositions[0].ClaimedAmount)
	require.Equal(t, pos.User, gotPositions[0].User)

	_, _, err = a.LoadPool(ctx, "archive/pools/none.jsonl")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEndpointURL(t *testing.T) {
	require.Equal(t, "https://s3.example.com", endpointURL("s3.example.com", true))
	require.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	require.Equal(t, "https://r2.example.com", endpointURL("https://r2.example.com", false))
}
