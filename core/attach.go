package core

import (
	"context"
	"io"
)

type (
	// AttachmentRef is an opaque reference to a stored blob. The messaging
	// core carries it around but never inspects the underlying bytes.
	AttachmentRef struct {
		Ref         string `json:"ref"`
		ContentType string `json:"content_type"`
	}

	// AttachmentStore accepts uploaded blobs and resolves references.
	AttachmentStore interface {
		Save(ctx context.Context, filename, contentType string, r io.Reader) (AttachmentRef, error)
		Open(ctx context.Context, ref AttachmentRef) (io.ReadCloser, error)
	}
)

func (ref AttachmentRef) IsZero() bool { return ref.Ref == "" }
