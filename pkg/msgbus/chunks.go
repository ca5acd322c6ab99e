package msgbus

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/Ratio1/ratio1_records_go/internal/httpx"
)

const (
	// DefaultChunkSize is the size of every uploaded chunk but the last.
	DefaultChunkSize int64 = 64 * 1024
	// DefaultUploadConcurrency bounds concurrent chunk requests.
	DefaultUploadConcurrency = 8
	// ChunkFilename is the filename carried by every chunk part.
	ChunkFilename = "blob"
	// OffsetField is the form field holding a chunk's byte offset.
	OffsetField = "offset"
)

// HashAlgorithm names the content fingerprint computed by Chunks.
type HashAlgorithm string

const (
	HashSHA1   HashAlgorithm = "sha1"
	HashSHA256 HashAlgorithm = "sha256"
	HashBLAKE3 HashAlgorithm = "blake3"
)

func newHasher(alg HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case HashSHA1, "":
		return sha1.New(), nil
	case HashSHA256:
		return sha256.New(), nil
	case HashBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("msgbus: unsupported hash %q", alg)
	}
}

// Chunk is one slice of a prepared upload.
type Chunk struct {
	Offset int64
	Size   int64
}

type chunkPlan struct {
	field  string
	src    io.ReaderAt
	size   int64
	values map[string]string
	chunks []Chunk
}

// SplitChunks partitions size bytes into chunks of at most chunkSize. The
// final chunk holds the remainder; a size that is an exact multiple yields no
// empty trailing chunk, and an empty input yields a single empty chunk.
func SplitChunks(size, chunkSize int64) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if size <= 0 {
		return []Chunk{{Offset: 0, Size: 0}}
	}
	n := (size + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, n)
	for off := int64(0); off < size; off += chunkSize {
		chunks = append(chunks, Chunk{Offset: off, Size: min(chunkSize, size-off)})
	}
	return chunks
}

// Chunks prepares a chunked upload of size bytes read from src and returns
// the hex content hash of the whole input. The file is streamed through the
// hash; it is never held in memory. Each chunk is later sent under field,
// together with values as extra form fields.
func (b *Bus) Chunks(ctx context.Context, field string, src io.ReaderAt, size int64, values map[string]string) (string, error) {
	if src == nil {
		return "", fmt.Errorf("msgbus: chunk source is required")
	}
	if field == "" {
		return "", fmt.Errorf("msgbus: chunk field name is required")
	}
	if size < 0 {
		return "", fmt.Errorf("msgbus: negative size %d", size)
	}
	h, err := newHasher(b.hash)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: io.NewSectionReader(src, 0, size)}); err != nil {
		return "", fmt.Errorf("msgbus: hash content: %w", err)
	}

	extra := make(map[string]string, len(values))
	for k, v := range values {
		extra[k] = v
	}
	b.plan = &chunkPlan{
		field:  field,
		src:    src,
		size:   size,
		values: extra,
		chunks: SplitChunks(size, b.chunkSize),
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Planned lists the chunks of the prepared upload.
func (b *Bus) Planned() []Chunk {
	if b.plan == nil {
		return nil
	}
	return append([]Chunk(nil), b.plan.chunks...)
}

// Upload sends every prepared chunk as a multipart POST, at most
// WithUploadConcurrency at a time, and returns once all of them have
// completed. Each chunk gets the client's retry policy; a chunk whose
// attempts all fail in transport fails the upload. Responses are returned in
// chunk order with their bodies buffered, whatever their status.
func (b *Bus) Upload(ctx context.Context) ([]*http.Response, error) {
	if b.err != nil {
		return nil, b.err
	}
	plan := b.plan
	if plan == nil {
		return nil, ErrNotChunked
	}

	var mu sync.Mutex
	responses := make([]*http.Response, len(plan.chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.uploadConcurrency)
	for i, chunk := range plan.chunks {
		g.Go(func() error {
			resp, err := b.sendChunk(gctx, plan, chunk)
			if err != nil {
				return err
			}
			responses[i] = resp
			if b.progress != nil {
				mu.Lock()
				defer mu.Unlock()
				b.progress(chunk.Size)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

func (b *Bus) sendChunk(ctx context.Context, plan *chunkPlan, chunk Chunk) (*http.Response, error) {
	body, contentType, err := encodeChunk(plan, chunk)
	if err != nil {
		return nil, err
	}
	header := b.header.Clone()
	header.Set("Content-Type", contentType)

	resp, err := b.client.Do(ctx, b.build(http.MethodPost, header, body, true))
	if err != nil {
		return nil, fmt.Errorf("msgbus: chunk at offset %d: %w", chunk.Offset, err)
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("msgbus: chunk at offset %d: read response: %w", chunk.Offset, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	b.logger.DebugContext(ctx, "msgbus: chunk uploaded",
		"path", b.path,
		"offset", chunk.Offset,
		"size", chunk.Size,
		"status", resp.StatusCode,
	)
	return resp, nil
}

// encodeChunk writes the multipart form of one chunk: the offset field, the
// payload under the plan's field name, then the extra values in key order.
func encodeChunk(plan *chunkPlan, chunk Chunk) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField(OffsetField, strconv.FormatInt(chunk.Offset, 10)); err != nil {
		return nil, "", fmt.Errorf("msgbus: encode chunk: %w", err)
	}
	part, err := w.CreateFormFile(plan.field, ChunkFilename)
	if err != nil {
		return nil, "", fmt.Errorf("msgbus: encode chunk: %w", err)
	}
	if _, err := io.Copy(part, io.NewSectionReader(plan.src, chunk.Offset, chunk.Size)); err != nil {
		return nil, "", fmt.Errorf("msgbus: read chunk at offset %d: %w", chunk.Offset, err)
	}
	keys := make([]string, 0, len(plan.values))
	for k := range plan.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, plan.values[k]); err != nil {
			return nil, "", fmt.Errorf("msgbus: encode chunk: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("msgbus: encode chunk: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// ctxReader stops a long hash pass when ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
