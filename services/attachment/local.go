package attachsvc

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
)

// localStore keeps uploaded files on the local disk under MediaRoot.
// The stored ref is an opaque generated name; the original filename only
// contributes its extension.
type localStore struct {
	root string
}

var _ core.AttachmentStore = (*localStore)(nil)

func NewLocalStore(conf *core.Config) (*localStore, error) {
	root := conf.MediaRoot
	if !filepath.IsAbs(root) {
		root = filepath.Join(conf.WorkDir, root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating media root")
	}
	return &localStore{root: root}, nil
}

func (s localStore) Save(ctx context.Context, filename, contentType string, r io.Reader) (core.AttachmentRef, error) {
	ref := uuid.New().String() + strings.ToLower(filepath.Ext(filename))

	f, err := os.Create(filepath.Join(s.root, ref))
	if err != nil {
		return core.AttachmentRef{}, errors.Wrap(err, "creating attachment file")
	}
	defer f.Close()

	if _, err = io.Copy(f, r); err != nil {
		_ = os.Remove(f.Name())
		return core.AttachmentRef{}, errors.Wrap(err, "writing attachment file")
	}
	return core.AttachmentRef{Ref: ref, ContentType: contentType}, nil
}

func (s localStore) Open(ctx context.Context, ref core.AttachmentRef) (io.ReadCloser, error) {
	// refs are generated names; anything path-like is hostile
	if ref.Ref != filepath.Base(ref.Ref) {
		return nil, errors.New("invalid attachment ref")
	}
	f, err := os.Open(filepath.Join(s.root, ref.Ref))
	if err != nil {
		return nil, errors.Wrap(err, "opening attachment file")
	}
	return f, nil
}
