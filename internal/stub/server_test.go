package stub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/address"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/chat"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/order"
)

func newTestServer() *Server {
	return NewServer("test-secret", NewState(), NewHub(nil), nil)
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil {
		raw, _ := io.ReadAll(res.Body)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
			}
		}
	}
	return res.StatusCode
}

func signUpUser(t *testing.T, app *fiber.App, email, role string) (token, userID string) {
	t.Helper()
	var res struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Session api.Session `json:"session"`
	}
	code := doJSON(t, app, "POST", "/api/auth/sign-up", "", map[string]string{
		"email": email, "password": "pw123456", "fullName": "Tester", "role": role,
	}, &res)
	if code != fiber.StatusCreated {
		t.Fatalf("sign-up status %d", code)
	}
	if res.Session.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	return res.Session.AccessToken, res.User.ID
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer()
	app := s.App()

	token, _ := signUpUser(t, app, "a@b.c", "")

	// duplicate email rejected
	code := doJSON(t, app, "POST", "/api/auth/sign-up", "", map[string]string{
		"email": "a@b.c", "password": "pw123456",
	}, nil)
	if code != fiber.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", code)
	}

	// wrong password rejected
	code = doJSON(t, app, "POST", "/api/auth/sign-in", "", map[string]string{
		"email": "a@b.c", "password": "wrong",
	}, nil)
	if code != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", code)
	}

	// valid sign-in
	var signin struct {
		Session api.Session `json:"session"`
	}
	code = doJSON(t, app, "POST", "/api/auth/sign-in", "", map[string]string{
		"email": "a@b.c", "password": "pw123456",
	}, &signin)
	if code != fiber.StatusOK || signin.Session.AccessToken == "" {
		t.Fatalf("sign-in failed: status %d", code)
	}

	// protected route without token
	code = doJSON(t, app, "GET", "/api/auth/profile", "", nil, nil)
	if code != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	// with token
	var profile struct {
		FullName string `json:"fullName"`
		Role     string `json:"role"`
	}
	code = doJSON(t, app, "GET", "/api/auth/profile", token, nil, &profile)
	if code != fiber.StatusOK || profile.FullName != "Tester" {
		t.Fatalf("profile fetch failed: status %d profile %+v", code, profile)
	}
	if profile.Role != "user" {
		t.Fatalf("expected default role user, got %q", profile.Role)
	}
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer()
	app := s.App()
	token, _ := signUpUser(t, app, "cart@b.c", "")

	add := func(variant string, qty int) {
		code := doJSON(t, app, "POST", "/api/cart/items", token, map[string]any{
			"productId": "p1", "variantId": variant, "quantity": qty, "unitPrice": 9.5,
		}, nil)
		if code != fiber.StatusOK {
			t.Fatalf("add item status %d", code)
		}
	}
	add("v1", 1)
	add("v1", 2)

	var cartRes struct {
		Items []struct {
			ID       string `json:"id"`
			Quantity int    `json:"quantity"`
		} `json:"items"`
	}
	code := doJSON(t, app, "GET", "/api/cart", token, nil, &cartRes)
	if code != fiber.StatusOK || len(cartRes.Items) != 1 {
		t.Fatalf("expected one merged row, got %+v", cartRes.Items)
	}
	if cartRes.Items[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", cartRes.Items[0].Quantity)
	}

	itemID := cartRes.Items[0].ID
	code = doJSON(t, app, "PUT", "/api/cart/items/"+itemID, token, map[string]int{"quantity": 5}, nil)
	if code != fiber.StatusOK {
		t.Fatalf("update status %d", code)
	}
	code = doJSON(t, app, "DELETE", "/api/cart/items/"+itemID, token, nil, nil)
	if code != fiber.StatusNoContent {
		t.Fatalf("remove status %d", code)
	}
	code = doJSON(t, app, "GET", "/api/cart", token, nil, &cartRes)
	if code != fiber.StatusOK || len(cartRes.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", cartRes.Items)
	}
}

func TestOrderLifecycle(t *testing.T) {
	s := newTestServer()
	app := s.App()
	token, _ := signUpUser(t, app, "order@b.c", "")

	// an order needs an address and a non-empty cart
	var addr address.Address
	code := doJSON(t, app, "POST", "/api/addresses", token, address.Address{
		FullName: "Tester", Phone: "0900000000", AddressLine: "1 Main St", City: "Hanoi",
	}, &addr)
	if code != fiber.StatusCreated {
		t.Fatalf("create address status %d", code)
	}
	if !addr.IsDefault {
		t.Fatalf("expected first address default")
	}

	code = doJSON(t, app, "POST", "/api/orders", token, order.CreateRequest{AddressID: addr.ID, PaymentMethod: "cod"}, nil)
	if code != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d", code)
	}

	doJSON(t, app, "POST", "/api/cart/items", token, map[string]any{
		"productId": "p1", "variantId": "v1", "quantity": 2, "unitPrice": 10,
	}, nil)

	var placed order.Order
	code = doJSON(t, app, "POST", "/api/orders", token, order.CreateRequest{AddressID: addr.ID, PaymentMethod: "cod"}, &placed)
	if code != fiber.StatusCreated {
		t.Fatalf("create order status %d", code)
	}
	if placed.OrderNumber == "" || placed.Status != order.StatusPending {
		t.Fatalf("unexpected order %+v", placed)
	}
	if placed.Total != 20 {
		t.Fatalf("expected total 20, got %v", placed.Total)
	}

	var latest order.Order
	code = doJSON(t, app, "GET", "/api/orders/latest", token, nil, &latest)
	if code != fiber.StatusOK || latest.ID != placed.ID {
		t.Fatalf("latest order mismatch: status %d id %q", code, latest.ID)
	}

	var cancelled order.Order
	code = doJSON(t, app, "POST", fmt.Sprintf("/api/orders/%s/cancel", placed.ID), token, map[string]string{"reason": "test"}, &cancelled)
	if code != fiber.StatusOK {
		t.Fatalf("cancel status %d", code)
	}
	if cancelled.Status != order.StatusCancelled || !cancelled.CancellationApproved {
		t.Fatalf("expected pending order cancelled immediately, got %+v", cancelled)
	}
}

func TestChatFlow(t *testing.T) {
	s := newTestServer()
	app := s.App()
	userToken, userID := signUpUser(t, app, "cust@b.c", "")
	adminToken, _ := signUpUser(t, app, "admin@b.c", "admin")

	// no conversation before the first message
	var convRes struct {
		Conversation *chat.Conversation `json:"conversation"`
	}
	code := doJSON(t, app, "GET", "/api/chat/conversation", userToken, nil, &convRes)
	if code != fiber.StatusOK || convRes.Conversation != nil {
		t.Fatalf("expected no conversation yet, got %+v", convRes.Conversation)
	}

	// first message creates it and echoes the tempId
	var sendRes struct {
		Message      chat.Message      `json:"message"`
		Conversation chat.Conversation `json:"conversation"`
	}
	code = doJSON(t, app, "POST", "/api/chat/messages", userToken, map[string]string{
		"message": "hello", "tempId": "tmp-1",
	}, &sendRes)
	if code != fiber.StatusCreated {
		t.Fatalf("send status %d", code)
	}
	if sendRes.Message.TempID != "tmp-1" {
		t.Fatalf("expected tempId echoed, got %q", sendRes.Message.TempID)
	}
	if sendRes.Conversation.CustomerID != userID {
		t.Fatalf("expected conversation owned by sender, got %+v", sendRes.Conversation)
	}
	convID := sendRes.Conversation.ID

	// a second message reuses the same conversation
	code = doJSON(t, app, "POST", "/api/chat/messages", userToken, map[string]string{"message": "anyone?"}, &sendRes)
	if code != fiber.StatusCreated || sendRes.Conversation.ID != convID {
		t.Fatalf("expected one conversation per customer, got %q vs %q", sendRes.Conversation.ID, convID)
	}

	// customer routes are blocked for admin chat and vice versa
	code = doJSON(t, app, "GET", "/api/admin/chat/conversations", userToken, nil, nil)
	if code != fiber.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", code)
	}

	var list struct {
		Conversations []chat.Conversation `json:"conversations"`
	}
	code = doJSON(t, app, "GET", "/api/admin/chat/conversations", adminToken, nil, &list)
	if code != fiber.StatusOK || len(list.Conversations) != 1 {
		t.Fatalf("expected one conversation for admin, got %+v", list.Conversations)
	}
	if list.Conversations[0].UnreadCount != 2 {
		t.Fatalf("expected 2 unread customer messages, got %d", list.Conversations[0].UnreadCount)
	}

	// admin reply
	var adminSend struct {
		Message chat.Message `json:"message"`
	}
	code = doJSON(t, app, "POST", "/api/admin/chat/messages", adminToken, map[string]string{
		"conversationId": convID, "message": "on it", "tempId": "tmp-a1",
	}, &adminSend)
	if code != fiber.StatusCreated || adminSend.Message.SenderRole != chat.RoleAdmin {
		t.Fatalf("admin send failed: status %d message %+v", code, adminSend.Message)
	}

	// customer sees one unread admin message
	var unread struct {
		UnreadCount int `json:"unreadCount"`
	}
	code = doJSON(t, app, "GET", "/api/chat/unread-count", userToken, nil, &unread)
	if code != fiber.StatusOK || unread.UnreadCount != 1 {
		t.Fatalf("expected unread 1, got %d (status %d)", unread.UnreadCount, code)
	}

	// customer marks read
	code = doJSON(t, app, "PUT", "/api/chat/messages/mark-read", userToken, nil, nil)
	if code != fiber.StatusNoContent {
		t.Fatalf("mark read status %d", code)
	}
	code = doJSON(t, app, "GET", "/api/chat/unread-count", userToken, nil, &unread)
	if code != fiber.StatusOK || unread.UnreadCount != 0 {
		t.Fatalf("expected unread 0 after mark-read, got %d", unread.UnreadCount)
	}

	// admin closes the conversation
	var closed chat.Conversation
	code = doJSON(t, app, "PUT", "/api/admin/chat/conversations/"+convID+"/status", adminToken, map[string]string{"status": "closed"}, &closed)
	if code != fiber.StatusOK || closed.Status != chat.StatusClosed {
		t.Fatalf("close failed: status %d conversation %+v", code, closed)
	}

	code = doJSON(t, app, "PUT", "/api/admin/chat/conversations/"+convID+"/status", adminToken, map[string]string{"status": "bogus"}, nil)
	if code != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", code)
	}
}

func TestFavoritesEndpoints(t *testing.T) {
	s := newTestServer()
	app := s.App()
	token, _ := signUpUser(t, app, "fav@b.c", "")

	code := doJSON(t, app, "POST", "/api/favorites", token, map[string]string{"productId": "p1"}, nil)
	if code != fiber.StatusOK {
		t.Fatalf("add favorite status %d", code)
	}

	var favRes struct {
		Items []struct {
			ProductID string `json:"productId"`
		} `json:"items"`
	}
	code = doJSON(t, app, "GET", "/api/favorites", token, nil, &favRes)
	if code != fiber.StatusOK || len(favRes.Items) != 1 {
		t.Fatalf("expected one favorite, got %+v", favRes.Items)
	}

	code = doJSON(t, app, "DELETE", "/api/favorites/p1", token, nil, nil)
	if code != fiber.StatusNoContent {
		t.Fatalf("remove favorite status %d", code)
	}
	code = doJSON(t, app, "DELETE", "/api/favorites/p1", token, nil, nil)
	if code != fiber.StatusNotFound {
		t.Fatalf("expected 404 for absent favorite, got %d", code)
	}
}

func TestAddressDefaultInvariant(t *testing.T) {
	s := newTestServer()
	app := s.App()
	token, _ := signUpUser(t, app, "addr@b.c", "")

	var first, second address.Address
	doJSON(t, app, "POST", "/api/addresses", token, address.Address{FullName: "A", City: "Hanoi"}, &first)
	doJSON(t, app, "POST", "/api/addresses", token, address.Address{FullName: "B", City: "Hue", IsDefault: true}, &second)

	var listRes struct {
		Addresses []address.Address `json:"addresses"`
	}
	doJSON(t, app, "GET", "/api/addresses", token, nil, &listRes)
	defaults := 0
	for _, a := range listRes.Addresses {
		if a.IsDefault {
			defaults++
			if a.ID != second.ID {
				t.Fatalf("expected %q default, got %q", second.ID, a.ID)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default, got %d", defaults)
	}

	// deleting the default promotes the remaining address
	code := doJSON(t, app, "DELETE", "/api/addresses/"+second.ID, token, nil, nil)
	if code != fiber.StatusNoContent {
		t.Fatalf("delete status %d", code)
	}
	var def address.Address
	code = doJSON(t, app, "GET", "/api/addresses/default", token, nil, &def)
	if code != fiber.StatusOK || def.ID != first.ID {
		t.Fatalf("expected promoted default %q, got %+v (status %d)", first.ID, def, code)
	}
}

func TestAvatarUpload(t *testing.T) {
	s := newTestServer()
	app := s.App()
	token, id := signUpUser(t, app, "ava@b.c", "")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("avatar", "me.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("png-bytes"))
	w.Close()

	req := httptest.NewRequest("POST", "/api/auth/avatar", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != fiber.StatusOK {
		t.Fatalf("upload status %d", res.StatusCode)
	}
	var profile struct {
		AvatarURL string `json:"avatarUrl"`
	}
	if err := json.NewDecoder(res.Body).Decode(&profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	want := "/uploads/avatars/" + id + "/me.png"
	if profile.AvatarURL != want {
		t.Fatalf("avatar url = %q, want %q", profile.AvatarURL, want)
	}

	// the url sticks on subsequent profile fetches
	profile.AvatarURL = ""
	code := doJSON(t, app, "GET", "/api/auth/profile", token, nil, &profile)
	if code != fiber.StatusOK || profile.AvatarURL != want {
		t.Fatalf("profile after upload: status %d url %q", code, profile.AvatarURL)
	}

	// missing file is a bad request
	code = doJSON(t, app, "POST", "/api/auth/avatar", token, map[string]string{"avatar": "nope"}, nil)
	if code != fiber.StatusBadRequest {
		t.Fatalf("expected 400 without a file, got %d", code)
	}
}
