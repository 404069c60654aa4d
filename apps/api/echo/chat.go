package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core/chat"
)

type chatApi struct {
	svc      chat.ServiceInterface
	validate *validator.Validate
}

func registerChatAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc chat.ServiceInterface,
	validate *validator.Validate,
) {
	api := chatApi{svc: svc, validate: validate}

	cg := g.Group("/conversations", jwt)

	cg.POST("", api.start)
	cg.GET("", api.list)

	dg := cg.Group("/:id")
	dg.GET("/messages", api.listMessages)
	dg.POST("/messages", api.send)
	dg.POST("/read", api.markRead)
	dg.GET("/unread-count", api.unreadCount)
	dg.GET("/messages/:msgID/receipts", api.receipts)
	dg.DELETE("/messages/:msgID", api.destroyMessage)
}

// Handlers

// start resolves or creates a conversation. Direct conversations are
// deduplicated per pair: posting the same pair twice returns the existing
// conversation with 200 instead of creating a duplicate.
func (api *chatApi) start(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data chat.NewConversation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewConversation")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	conv, existed, err := api.svc.ResolveOrCreate(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return err
	}

	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	return ctx.JSON(code, StartConversationResponse{Conversation: conv, AlreadyExists: existed})
}

func (api *chatApi) list(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	summaries, err := api.svc.ListConversations(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "listing conversations")
	}
	return ctx.JSON(http.StatusOK, summaries)
}

func (api *chatApi) listMessages(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	msgs, err := api.svc.ListMessages(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *chatApi) send(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data chat.NewMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	msg, err := api.svc.Send(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *chatApi) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	if err := api.svc.MarkRead(ctx.Request().Context(), ctx.Param("id"), claims.Subject); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *chatApi) unreadCount(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	count, err := api.svc.UnreadCount(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, UnreadCountResponse{Count: count})
}

func (api *chatApi) receipts(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	msgID, err := messageIDParam(ctx)
	if err != nil {
		return err
	}

	receipt, err := api.svc.Receipts(ctx.Request().Context(), ctx.Param("id"), msgID, claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, receipt)
}

func (api *chatApi) destroyMessage(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	msgID, err := messageIDParam(ctx)
	if err != nil {
		return err
	}

	if err := api.svc.DeleteMessage(ctx.Request().Context(), ctx.Param("id"), msgID, claims.Subject); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func messageIDParam(ctx echo.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("msgID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

type (
	StartConversationResponse struct {
		Conversation  chat.Conversation `json:"conversation"`
		AlreadyExists bool              `json:"already_exists"`
	}

	UnreadCountResponse struct {
		Count int `json:"count"`
	}
)
