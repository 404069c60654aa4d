package echoapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
)

// maxAttachmentSize caps uploads at 25 MiB.
const maxAttachmentSize = 25 << 20

type attachmentApi struct {
	store core.AttachmentStore
}

func registerAttachmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, store core.AttachmentStore) {
	api := attachmentApi{store: store}

	ag := g.Group("/attachments", jwt)
	ag.POST("", api.upload)
	ag.GET("/:ref", api.download)
}

// upload stores a file ahead of sending it in a message; the returned ref is
// passed back in NewMessage.Attachment.
func (api *attachmentApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "a \"file\" form field is required")
	}
	if fh.Size > maxAttachmentSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}

	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ref, err := api.store.Save(ctx.Request().Context(), fh.Filename, contentType, io.LimitReader(f, maxAttachmentSize))
	if err != nil {
		return errors.Wrap(err, "storing attachment")
	}
	return ctx.JSON(http.StatusCreated, ref)
}

func (api *attachmentApi) download(ctx echo.Context) error {
	ref := core.AttachmentRef{Ref: ctx.Param("ref")}

	r, err := api.store.Open(ctx.Request().Context(), ref)
	if err != nil {
		return errHttpNotFound
	}
	defer r.Close()

	return ctx.Stream(http.StatusOK, "application/octet-stream", r)
}
