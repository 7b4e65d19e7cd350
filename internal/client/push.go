package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pushed describes one uploaded file.
type Pushed struct {
	LocalPath string
	File      *File
	// Blake3 is the hex digest of the bytes sent.
	Blake3 string
}

type PushResult struct {
	Folders []*Folder
	Files   []*Pushed
}

// Pusher mirrors local trees into the drive: each directory becomes a
// folder and each file runs init, PUT and complete.
type Pusher struct {
	client      *Client
	concurrency int
	logger      *zap.Logger

	mu     sync.Mutex
	result PushResult
}

func NewPusher(c *Client, concurrency int, logger *zap.Logger) *Pusher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{client: c, concurrency: concurrency, logger: logger}
}

// Push uploads roots under folderID (nil for the top level). Folders are
// created before their contents; files within one folder upload in parallel.
func (p *Pusher) Push(ctx context.Context, roots []*Node, folderID *string) (*PushResult, error) {
	if err := p.pushLevel(ctx, roots, folderID); err != nil {
		return &p.result, err
	}
	return &p.result, nil
}

func (p *Pusher) pushLevel(ctx context.Context, nodes []*Node, folderID *string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	var dirs []*Node
	for _, n := range nodes {
		if n.Dir {
			dirs = append(dirs, n)
			continue
		}
		g.Go(func() error {
			return p.pushFile(gctx, n, folderID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, d := range dirs {
		folder, err := p.client.CreateFolder(ctx, d.Name, folderID)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.result.Folders = append(p.result.Folders, folder)
		p.mu.Unlock()
		p.logger.Info("folder created", zap.String("path", d.Path), zap.String("folder_id", folder.ID))

		if err := p.pushLevel(ctx, d.Children, &folder.ID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pusher) pushFile(ctx context.Context, n *Node, folderID *string) error {
	ticket, err := p.client.InitUpload(ctx, n.Name, folderID)
	if err != nil {
		return err
	}

	var (
		hasher  *blake3.Hasher
		counter *countingReader
	)
	err = p.client.PutBlob(ctx, ticket.UploadURL, n.Size, func() (io.ReadCloser, error) {
		f, err := os.Open(n.Path)
		if err != nil {
			return nil, err
		}
		hasher = blake3.New()
		counter = &countingReader{r: io.TeeReader(f, hasher)}
		return readCloser{Reader: counter, Closer: f}, nil
	})
	if err != nil {
		return errors.Wrapf(err, "upload %s", n.Path)
	}
	sent, digest := counter.n, hex.EncodeToString(hasher.Sum(nil))
	if sent != n.Size {
		// A retry refused as already written may stop reading early.
		if digest, sent, err = digestFile(n.Path); err != nil {
			return err
		}
	}
	if sent != n.Size {
		return fmt.Errorf("%s changed during upload: expected %d bytes, sent %d", n.Path, n.Size, sent)
	}

	file, err := p.client.CompleteUpload(ctx, CompleteUpload{
		FileID:     ticket.FileID,
		Name:       n.Name,
		MimeType:   mime.TypeByExtension(filepath.Ext(n.Name)),
		SizeBytes:  sent,
		FolderID:   folderID,
		StorageKey: ticket.StorageKey,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.result.Files = append(p.result.Files, &Pushed{LocalPath: n.Path, File: file, Blake3: digest})
	p.mu.Unlock()
	p.logger.Info("file uploaded",
		zap.String("path", n.Path),
		zap.String("file_id", file.ID),
		zap.Int64("size", file.SizeBytes),
		zap.String("blake3", digest),
	)
	return nil
}

func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, errors.Wrapf(err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type readCloser struct {
	io.Reader
	io.Closer
}
