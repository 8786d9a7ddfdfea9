// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package packer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/crypto"
	"github.com/vaultpack/vaultpack/index"
	"github.com/vaultpack/vaultpack/internal/vlog"
	"github.com/vaultpack/vaultpack/pack"
)

// Finalization thresholds (spec §4.5): a pack is finalized when any of
// these are met.
const (
	maxBlobsPerPack = 10000
	maxPackAge      = 5 * time.Minute
)

// IndexChecker reports whether a blob Id is already known — to the
// index, or already buffered in the currently-open pack — so the
// dedup stage can drop it at-most-once.
type IndexChecker interface {
	Has(kind pack.BlobType, id vaultpack.ID) bool
}

// Stats summarizes one finalize() call.
type Stats struct {
	BlobsWritten int
	BlobsSkipped int
	PacksWritten int
	BytesWritten int64
}

type job struct {
	plaintext      []byte
	id             vaultpack.ID
	sizeLimitOverr int64 // 0 means "use the packer's configured sizer"
}

type compressedJob struct {
	job
	ciphertext         []byte
	uncompressedLength int
	compressed         bool
}

// Packer builds packs for a single BlobKind, running the four-stage
// pipeline described in spec §4.5 across a bounded set of worker
// goroutines, with a single writer goroutine owning the active pack
// buffer.
type Packer struct {
	kind    pack.BlobType
	be      backend.Backend
	key     crypto.Key
	indexer *index.Indexer
	checker IndexChecker
	sizer   PackSizer
	compress bool

	log *vlog.Logger
	// opID correlates every log line this pipeline instance emits
	// across its lifetime, the way the teacher's types.Provenance
	// tags a process with a uuid.New() instance id.
	opID uuid.UUID

	// workers is the number of concurrent compress/encrypt goroutines
	// (see WithWorkers); filtering and writing remain single-goroutine
	// stages since both own serial state (the dedup set and the active
	// pack buffer respectively).
	workers int

	in chan job

	mu      sync.Mutex
	stats   Stats
	wg      sync.WaitGroup
	eg      *errgroup.Group
	egCtx   context.Context
	started bool
}

// Option configures a Packer at construction time.
type Option func(*Packer)

// WithCompression enables zstd compression of blobs before encryption.
func WithCompression(enabled bool) Option {
	return func(p *Packer) { p.compress = enabled }
}

// WithWorkers sets the number of concurrent compress/encrypt
// goroutines the pipeline runs between the single filter stage and
// the single writer stage. n <= 0 is treated as 1.
func WithWorkers(n int) Option {
	return func(p *Packer) { p.workers = n }
}

// New returns a Packer for kind, writing finished packs to be and
// handing their IndexPack entries to indexer. checker is consulted to
// drop blobs already known to the repository.
func New(kind pack.BlobType, be backend.Backend, key crypto.Key, indexer *index.Indexer, checker IndexChecker, sizer PackSizer, opts ...Option) *Packer {
	p := &Packer{
		kind:    kind,
		be:      be,
		key:     key,
		indexer: indexer,
		checker: checker,
		sizer:   sizer,
		log:     vlog.Named("packer"),
		opID:    uuid.New(),
		workers: 1,
		in:      make(chan job, 64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the pipeline's background goroutines. It must be called
// once before Add.
func (p *Packer) Run(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true

	eg, egCtx := errgroup.WithContext(ctx)
	p.eg = eg
	p.egCtx = egCtx

	filtered := make(chan job, 64)
	compressed := make(chan compressedJob, 64)

	eg.Go(func() error { return p.filterStage(egCtx, filtered) })

	workers := p.workers
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			defer wg.Done()
			return p.compressEncryptStage(egCtx, filtered, compressed)
		})
	}
	eg.Go(func() error {
		wg.Wait()
		close(compressed)
		return nil
	})

	eg.Go(func() error { return p.writerStage(egCtx, compressed) })
}

// Add buffers a blob for packing. It returns once the blob has been
// queued, not once it is durably written; errors surface only from
// Finalize, matching spec §4.5's contract.
func (p *Packer) Add(ctx context.Context, plaintext []byte, id vaultpack.ID) error {
	j := job{plaintext: plaintext, id: id}
	select {
	case p.in <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.egCtx.Done():
		return p.egCtx.Err()
	}
}

// filterStage drops blobs already present in the index or already
// buffered in the active pack (at-most-once policy).
func (p *Packer) filterStage(ctx context.Context, out chan<- job) error {
	defer close(out)
	seen := vaultpack.NewIDSet()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-p.in:
			if !ok {
				return nil
			}
			if p.checker.Has(p.kind, j.id) || seen.Has(j.id) {
				p.mu.Lock()
				p.stats.BlobsSkipped++
				p.mu.Unlock()
				continue
			}
			seen.Insert(j.id)
			select {
			case out <- j:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// compressEncryptStage compresses (if enabled) and encrypts each blob.
// Multiple instances of this stage may run concurrently against the
// same in/out channels (see WithWorkers); out is closed by the caller
// once every instance has returned.
func (p *Packer) compressEncryptStage(ctx context.Context, in <-chan job, out chan<- compressedJob) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-in:
			if !ok {
				return nil
			}
			cj, err := p.compressAndEncrypt(j)
			if err != nil {
				return fmt.Errorf("packer: compress/encrypt %s: %w", j.id.Short(), err)
			}
			select {
			case out <- cj:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *Packer) compressAndEncrypt(j job) (compressedJob, error) {
	payload := j.plaintext
	compressed := false
	uncompressedLen := 0

	if p.compress && len(j.plaintext) > 0 {
		if out, ok := pack.Compress(j.plaintext); ok {
			uncompressedLen = len(j.plaintext)
			payload = out
			compressed = true
		}
	}

	ct, err := crypto.Encrypt(p.key, payload)
	if err != nil {
		return compressedJob{}, err
	}

	return compressedJob{job: j, ciphertext: ct, uncompressedLength: uncompressedLen, compressed: compressed}, nil
}

// activePack tracks the pack currently being assembled by the writer
// stage.
type activePack struct {
	blobs     []pack.BlobContent
	entries   []index.Blob
	started   time.Time
	byteTotal int64
}

// writerStage appends ciphertexts to the active pack buffer, finalizing
// and writing a pack out whenever a threshold is crossed.
func (p *Packer) writerStage(ctx context.Context, in <-chan compressedJob) error {
	active := &activePack{started: time.Now()}

	flushIfDue := func(force bool) error {
		if len(active.blobs) == 0 {
			return nil
		}
		target := p.sizer.Target(active.byteTotal)
		due := force ||
			len(active.blobs) >= maxBlobsPerPack ||
			active.byteTotal >= target ||
			time.Since(active.started) >= maxPackAge
		if !due {
			return nil
		}
		if err := p.finalizePack(ctx, active); err != nil {
			return err
		}
		*active = activePack{started: time.Now()}
		return nil
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := flushIfDue(false); err != nil {
				return err
			}
		case cj, ok := <-in:
			if !ok {
				return flushIfDue(true)
			}
			entry := pack.Entry{
				Type:               p.kind,
				ID:                 cj.id,
				Length:             uint32(len(cj.ciphertext)),
				Compressed:         cj.compressed,
				UncompressedLength: uint32(cj.uncompressedLength),
			}
			active.blobs = append(active.blobs, pack.BlobContent{Entry: entry, Ciphertext: cj.ciphertext})
			active.entries = append(active.entries, index.Blob{
				ID:                 cj.id,
				Type:               p.kind,
				Offset:             uint32(active.byteTotal),
				Length:             uint32(len(cj.ciphertext)),
				UncompressedLength: uint32(cj.uncompressedLength),
			})
			active.byteTotal += int64(len(cj.ciphertext))

			if err := flushIfDue(false); err != nil {
				return err
			}
		}
	}
}

func (p *Packer) finalizePack(ctx context.Context, active *activePack) error {
	data, err := pack.Build(p.key, active.blobs)
	if err != nil {
		return fmt.Errorf("packer: build pack: %w", err)
	}
	id := vaultpack.Hash(data)

	if err := p.be.Write(ctx, backend.KindPack, id, false, data); err != nil {
		return fmt.Errorf("packer: write pack: %w", err)
	}

	ip := index.Pack{ID: id, Blobs: active.entries, Time: time.Now(), Size: int64(len(data))}
	if err := p.indexer.AddPack(ctx, ip); err != nil {
		return fmt.Errorf("packer: index pack: %w", err)
	}

	p.mu.Lock()
	p.stats.BlobsWritten += len(active.blobs)
	p.stats.PacksWritten++
	p.stats.BytesWritten += int64(len(data))
	p.mu.Unlock()

	p.log.Debug("finalized pack", "op", p.opID.String(), "kind", p.kind.String(), "id", id.Short(), "blobs", len(active.blobs), "bytes", len(data))
	return nil
}

// Finalize closes the input channel, waits for the pipeline to drain
// and flush its last pack, and returns accumulated Stats. A failed
// finalize leaves the repository unchanged beyond whatever packs were
// already durably written before the failure, since partial packs are
// never handed to the indexer.
func (p *Packer) Finalize() (Stats, error) {
	close(p.in)
	err := p.eg.Wait()
	p.mu.Lock()
	stats := p.stats
	p.mu.Unlock()
	if err != nil && err != context.Canceled {
		return stats, err
	}
	return stats, nil
}
