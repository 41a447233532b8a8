package stub

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v2"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/address"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/auth"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/cart"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/order"
)

// Server is the in-memory reference backend implementing the contract
// the SDK consumes. Local development and integration tests only.
type Server struct {
	app    *fiber.App
	state  *State
	hub    *Hub
	secret []byte
	log    *zap.Logger
}

func NewServer(secret string, state *State, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		app:    fiber.New(),
		state:  state,
		hub:    hub,
		secret: []byte(secret),
		log:    log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) registerRoutes() {
	// public routes first, then the JWT gate, then everything else
	s.app.Post("/api/auth/sign-up", s.signUp)
	s.app.Post("/api/auth/sign-in", s.signIn)
	s.app.Post("/api/auth/reset-password", s.resetPassword)

	s.app.Use(jwtware.New(jwtware.Config{
		SigningKey: s.secret,
		ErrorHandler: func(c *fiber.Ctx, _ error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
		},
	}))

	s.app.Post("/api/auth/sign-out", s.signOut)
	s.app.Get("/api/auth/profile", s.getProfile)
	s.app.Put("/api/auth/profile", s.updateProfile)
	s.app.Put("/api/auth/password", s.updatePassword)
	s.app.Post("/api/auth/avatar", s.uploadAvatar)

	s.app.Get("/api/cart", s.getCart)
	s.app.Post("/api/cart/items", s.addCartItem)
	s.app.Put("/api/cart/items/:id", s.updateCartItem)
	s.app.Delete("/api/cart/items/:id", s.removeCartItem)
	s.app.Delete("/api/cart", s.clearCart)
	s.app.Post("/api/cart/sync", s.syncCart)

	s.app.Get("/api/favorites", s.getFavorites)
	s.app.Post("/api/favorites", s.addFavorite)
	s.app.Delete("/api/favorites/:productId", s.removeFavorite)

	s.app.Get("/api/addresses", s.getAddresses)
	s.app.Get("/api/addresses/default", s.getDefaultAddress)
	s.app.Post("/api/addresses", s.createAddress)
	s.app.Put("/api/addresses/:id/default", s.setDefaultAddress)
	s.app.Put("/api/addresses/:id", s.updateAddress)
	s.app.Delete("/api/addresses/:id", s.deleteAddress)

	s.app.Get("/api/orders", s.listOrders)
	s.app.Get("/api/orders/latest", s.latestOrder)
	s.app.Get("/api/orders/:id", s.getOrder)
	s.app.Post("/api/orders", s.createOrder)
	s.app.Post("/api/orders/:id/cancel", s.cancelOrder)

	s.registerChatRoutes()
}

// identityFromCtx reads the JWT claims the middleware stored.
func identityFromCtx(c *fiber.Ctx) (id, role string, err error) {
	u := c.Locals("user")
	if u == nil {
		return "", "", fiber.ErrUnauthorized
	}
	tok, ok := u.(*jwt.Token)
	if !ok {
		return "", "", fiber.ErrUnauthorized
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fiber.ErrUnauthorized
	}
	id, _ = claims["user_id"].(string)
	role, _ = claims["role"].(string)
	if id == "" {
		return "", "", fiber.ErrUnauthorized
	}
	return id, role, nil
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Role     string `json:"role,omitempty"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) issueSession(a *Account) (*api.Session, error) {
	exp := time.Now().Add(72 * time.Hour)
	claims := jwt.MapClaims{
		"user_id": a.ID,
		"email":   a.Email,
		"role":    a.Role,
		"exp":     exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &api.Session{AccessToken: signed, ExpiresAt: exp.Unix(), UserID: a.ID}, nil
}

func (s *Server) credentials(c *fiber.Ctx, a *Account, status int) error {
	sess, err := s.issueSession(a)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to generate token"})
	}
	return c.Status(status).JSON(fiber.Map{
		"user":    auth.User{ID: a.ID, Email: a.Email},
		"session": sess,
	})
}

func (s *Server) signUp(c *fiber.Ctx) error {
	payload := new(signUpRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.Email == "" || payload.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "email and password required"})
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	role := payload.Role
	if role != auth.RoleAdmin {
		role = auth.RoleUser
	}
	a, err := s.state.CreateAccount(payload.Email, string(hashed), payload.FullName, role)
	if err != nil {
		if err == ErrEmailExists {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": "email already exists"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return s.credentials(c, a, fiber.StatusCreated)
}

func (s *Server) signIn(c *fiber.Ctx) error {
	payload := new(signInRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	a, err := s.state.AccountByEmail(payload.Email)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid email or password"})
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(payload.Password)) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid email or password"})
	}
	return s.credentials(c, a, fiber.StatusOK)
}

func (s *Server) resetPassword(c *fiber.Ctx) error {
	// the stub accepts any email and pretends a mail was sent
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) signOut(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getProfile(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	p, err := s.state.Profile(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "profile not found"})
	}
	return c.JSON(p)
}

func (s *Server) updateProfile(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(auth.Profile)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	a, err := s.state.Account(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "user not found"})
	}
	if payload.FullName != "" {
		a.FullName = payload.FullName
	}
	p, _ := s.state.Profile(id)
	return c.JSON(p)
}

// uploadAvatar accepts a multipart form with an "avatar" file. The stub
// does not keep the bytes; it only records a URL derived from the
// upload so the profile round-trips like the real backend.
func (s *Server) uploadAvatar(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	file, err := c.FormFile("avatar")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "avatar file required"})
	}
	a, err := s.state.Account(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "user not found"})
	}
	a.AvatarURL = "/uploads/avatars/" + id + "/" + file.Filename
	p, _ := s.state.Profile(id)
	return c.JSON(p)
}

func (s *Server) updatePassword(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(struct {
		Password string `json:"password"`
	})
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	a, err := s.state.Account(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "user not found"})
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	a.PasswordHash = string(hashed)
	return c.SendStatus(fiber.StatusNoContent)
}

type cartItemRequest struct {
	ProductID string  `json:"productId"`
	VariantID string  `json:"variantId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

func (s *Server) getCart(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	return c.JSON(fiber.Map{"items": s.state.Cart(id)})
}

func (s *Server) addCartItem(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(cartItemRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.VariantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "variantId required"})
	}
	s.state.AddCartItem(id, payload.ProductID, payload.VariantID, payload.Quantity, payload.UnitPrice)
	return c.JSON(fiber.Map{"items": s.state.Cart(id)})
}

func (s *Server) updateCartItem(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(struct {
		Quantity int `json:"quantity"`
	})
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if err := s.state.UpdateCartItem(id, c.Params("id"), payload.Quantity); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "cart item not found"})
	}
	return c.JSON(fiber.Map{"items": s.state.Cart(id)})
}

func (s *Server) removeCartItem(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	if err := s.state.RemoveCartItem(id, c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "cart item not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) clearCart(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	s.state.ClearCart(id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) syncCart(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(struct {
		Items []cart.Item `json:"items"`
	})
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	for _, it := range payload.Items {
		s.state.AddCartItem(id, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice)
	}
	return c.JSON(fiber.Map{"items": s.state.Cart(id)})
}

func (s *Server) getFavorites(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	return c.JSON(fiber.Map{"items": s.state.Favorites(id)})
}

func (s *Server) addFavorite(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(struct {
		ProductID string `json:"productId"`
	})
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.ProductID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "productId required"})
	}
	s.state.AddFavorite(id, payload.ProductID)
	return c.JSON(fiber.Map{"items": s.state.Favorites(id)})
}

func (s *Server) removeFavorite(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	if err := s.state.RemoveFavorite(id, c.Params("productId")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "not in favorites"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getAddresses(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	return c.JSON(fiber.Map{"addresses": s.state.Addresses(id)})
}

func (s *Server) getDefaultAddress(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	for _, a := range s.state.Addresses(id) {
		if a.IsDefault {
			return c.JSON(a)
		}
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "no default address"})
}

func (s *Server) createAddress(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(address.Address)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	created := s.state.CreateAddress(id, *payload)
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) updateAddress(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(address.Address)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	updated, err := s.state.UpdateAddress(id, c.Params("id"), *payload)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "address not found"})
	}
	return c.JSON(updated)
}

func (s *Server) deleteAddress(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	if err := s.state.DeleteAddress(id, c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "address not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) setDefaultAddress(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	if err := s.state.SetDefaultAddress(id, c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "address not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listOrders(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	orders, total := s.state.Orders(id, page, limit)
	totalPages := (total + limit - 1) / limit
	return c.JSON(fiber.Map{
		"orders": orders,
		"pagination": order.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

func (s *Server) getOrder(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	ord, err := s.state.Order(id, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "order not found"})
	}
	return c.JSON(ord)
}

func (s *Server) latestOrder(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	ord, err := s.state.LatestOrder(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "no orders"})
	}
	return c.JSON(ord)
}

func (s *Server) createOrder(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(order.CreateRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	var addr address.Address
	for _, a := range s.state.Addresses(id) {
		if a.ID == payload.AddressID {
			addr = a
		}
	}
	if addr.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "address not found"})
	}
	ord, err := s.state.CreateOrder(id, addr, payload.PaymentMethod, payload.Note)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(ord)
}

func (s *Server) cancelOrder(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	ord, err := s.state.CancelOrder(id, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "order not found"})
	}
	return c.JSON(ord)
}
