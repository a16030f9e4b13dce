package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"

	"email-mirror-gateway/internal/chat"
	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MirrorRequest is the body of POST /api/v1/email_mirror_message.
type MirrorRequest struct {
	Recipient string `json:"recipient"`
	MsgText   string `json:"msg_text"`
}

// ReplyAddressRequest is the body of POST /api/v1/reply-addresses.
type ReplyAddressRequest struct {
	UserID  int64          `json:"user_id"`
	Message models.Message `json:"message"`
}

// ReplyAddressResponse is the body of a created reply address.
type ReplyAddressResponse struct {
	Address string `json:"address"`
}

// ErrorResponse is the body of a failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReplyAddresses mints reply addresses for chat messages.
type ReplyAddresses interface {
	Create(ctx context.Context, user *models.User, message *models.Message) (string, error)
}

// MessageDirectory records message metadata and looks up users.
// RegisterMessage must refuse to change the metadata of a known message.
type MessageDirectory interface {
	RegisterMessage(m models.Message) error
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

// HTTPServer serves the ingestion and reply address API.
type HTTPServer struct {
	app  *fiber.App
	addr string
}

// NewHTTPServer builds the HTTP API. The reply address endpoint is only
// served when replies and directory are set and cfg.APIKey is not empty.
func NewHTTPServer(cfg models.HTTPConfig, gateway *Gateway, replies ReplyAddresses, directory MessageDirectory) *HTTPServer {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
		},
	})

	h := &handler{gateway: gateway, replies: replies, directory: directory, apiKey: cfg.APIKey}
	h.RegisterRoutes(app)

	return &HTTPServer{app: app, addr: cfg.Addr}
}

// App exposes the fiber app for tests.
func (s *HTTPServer) App() *fiber.App {
	return s.app
}

// Start listens on the configured address until Stop is called.
func (s *HTTPServer) Start() error {
	logging.Log.Infof("Starting HTTP server on %s", s.addr)
	return s.app.Listen(s.addr)
}

// Stop shuts the server down.
func (s *HTTPServer) Stop() error {
	logging.Log.Info("Stopping HTTP server")
	return s.app.Shutdown()
}

type handler struct {
	gateway   *Gateway
	replies   ReplyAddresses
	directory MessageDirectory
	apiKey    string
}

// RegisterRoutes mounts the API on app.
func (h *handler) RegisterRoutes(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	group := app.Group("/api/v1")
	group.Post("/email_mirror_message", h.mirrorMessage)
	if h.replies != nil && h.directory != nil && h.apiKey != "" {
		group.Post("/reply-addresses", keyauth.New(keyauth.Config{
			KeyLookup:  "header:" + fiber.HeaderAuthorization,
			AuthScheme: "Bearer",
			Validator:  h.validateKey,
		}), h.createReplyAddress)
	}
}

func (h *handler) validateKey(c *fiber.Ctx, key string) (bool, error) {
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) == 1 {
		return true, nil
	}
	return false, keyauth.ErrMissingOrMalformedAPIKey
}

func (h *handler) mirrorMessage(c *fiber.Ctx) error {
	var req MirrorRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "Invalid request: " + err.Error(),
		})
	}
	if req.Recipient == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "Missing recipient",
		})
	}

	resp, err := h.gateway.Mirror(c.UserContext(), "http", req.Recipient, req.MsgText)
	if errors.Is(err, models.ErrThrottled) {
		return c.Status(fiber.StatusTooManyRequests).JSON(Response{
			Status: "error",
			Msg:    models.ErrThrottled.Error(),
		})
	}
	if err != nil {
		logging.Log.Errorf("Error mirroring email: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
	return c.JSON(resp)
}

func (h *handler) createReplyAddress(c *fiber.Ctx) error {
	var req ReplyAddressRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "Invalid request: " + err.Error(),
		})
	}
	if req.Message.ID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "Missing message id",
		})
	}

	ctx := c.UserContext()
	user, err := h.directory.UserByID(ctx, req.UserID)
	if errors.Is(err, chat.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error: "Unknown user",
		})
	}
	if err != nil {
		return err
	}

	if !canReply(user, &req.Message) {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Error: "User cannot reply to this message",
		})
	}
	if err := h.directory.RegisterMessage(req.Message); err != nil {
		if errors.Is(err, chat.ErrConflict) {
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
				Error: "Message already registered with different metadata",
			})
		}
		return err
	}
	addr, err := h.replies.Create(ctx, user, &req.Message)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(ReplyAddressResponse{Address: addr})
}

// canReply reports whether user took part in message. Channel membership is
// not tracked here, so any user of the channel's realm may reply there.
func canReply(user *models.User, message *models.Message) bool {
	if user.Realm != message.Realm {
		return false
	}
	if message.Recipient.Type == models.RecipientChannel {
		return true
	}
	return user.ID == message.SenderID || slices.Contains(message.Recipient.UserIDs, user.ID)
}
