// Package blob uploads message attachments and hands back the opaque
// descriptor the message carries. Upload failures surface before any
// optimistic state exists.
package blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/hirelane/discuss/internal/types"
)

// Store uploads files and returns their descriptors.
type Store interface {
	Upload(ctx context.Context, path string) (*types.Attachment, error)
}

// Dir is a Store over a local directory: files are copied under a unique
// name and addressed by file URL. Size and MIME limits are enforced before
// any bytes move.
type Dir struct {
	root     string
	maxBytes int64
	allowed  []glob.Glob
}

// DefaultMaxBytes caps attachments at 25 MiB.
const DefaultMaxBytes = 25 << 20

// NewDir creates a directory store. allowedTypes are MIME glob patterns
// like "image/*" or "application/pdf"; an empty list allows everything.
func NewDir(root string, maxBytes int64, allowedTypes []string) (*Dir, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	patterns := make([]glob.Glob, 0, len(allowedTypes))
	for _, raw := range allowedTypes {
		g, err := glob.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("bad mime pattern %q: %w", raw, err)
		}
		patterns = append(patterns, g)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Dir{root: root, maxBytes: maxBytes, allowed: patterns}, nil
}

// Upload validates and copies one file into the store.
func (d *Dir) Upload(ctx context.Context, path string) (*types.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAttachmentRejected, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", types.ErrAttachmentRejected, path)
	}
	if info.Size() > d.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", types.ErrAttachmentRejected, filepath.Base(path), d.maxBytes)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !d.allowedType(mimeType) {
		return nil, fmt.Errorf("%w: type %s not allowed", types.ErrAttachmentRejected, mimeType)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	stored := filepath.Join(d.root, uuid.NewString()+"-"+name)
	if err := copyFile(path, stored); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAttachmentRejected, err)
	}

	return &types.Attachment{
		URL:      "file://" + stored,
		Name:     name,
		ByteSize: info.Size(),
		MimeType: mimeType,
	}, nil
}

func (d *Dir) allowedType(mimeType string) bool {
	if len(d.allowed) == 0 {
		return true
	}
	for _, g := range d.allowed {
		if g.Match(mimeType) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
