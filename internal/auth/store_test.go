package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v4"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
)

func signToken(t *testing.T, userID, email, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"user_id": userID, "email": email, "role": role}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestSignInSuccess(t *testing.T) {
	token := signToken(t, "u1", "a@b.c", RoleUser)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/sign-in":
			writeJSON(w, http.StatusOK, map[string]any{
				"user":    User{ID: "u1", Email: "a@b.c"},
				"session": api.Session{AccessToken: token, UserID: "u1"},
			})
		case "/auth/profile":
			writeJSON(w, http.StatusOK, Profile{ID: "u1", FullName: "Alice", Role: RoleUser})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	store := NewStore(client, nil, nil)

	if err := store.SignIn(context.Background(), "a@b.c", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !store.IsAuthenticated() {
		t.Fatalf("expected authenticated after sign-in")
	}
	if store.UserID() != "u1" {
		t.Fatalf("expected user id u1, got %q", store.UserID())
	}
	if p := store.Profile(); p == nil || p.FullName != "Alice" {
		t.Fatalf("expected profile loaded, got %+v", p)
	}
	if !client.IsAuthenticated() {
		t.Fatalf("expected session installed on the shared client")
	}
}

func TestSignInFailurePreservesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid email or password"})
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	store := NewStore(client, nil, nil)

	if err := store.SignIn(context.Background(), "a@b.c", "wrong"); err == nil {
		t.Fatalf("expected sign-in error")
	}
	if store.IsAuthenticated() {
		t.Fatalf("expected unauthenticated after failed sign-in")
	}
	if store.Err() == "" {
		t.Fatalf("expected error to be surfaced")
	}
}

func TestSignOutFailureKeepsCredentials(t *testing.T) {
	token := signToken(t, "u1", "a@b.c", RoleUser)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/sign-in":
			writeJSON(w, http.StatusOK, map[string]any{
				"user":    User{ID: "u1", Email: "a@b.c"},
				"session": api.Session{AccessToken: token, UserID: "u1"},
			})
		case "/auth/profile":
			writeJSON(w, http.StatusOK, Profile{ID: "u1", Role: RoleUser})
		case "/auth/sign-out":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	store := NewStore(client, nil, nil)
	if err := store.SignIn(context.Background(), "a@b.c", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	if err := store.SignOut(context.Background()); err == nil {
		t.Fatalf("expected sign-out error")
	}
	// rejected sign-out must not clear local credentials
	if !store.IsAuthenticated() {
		t.Fatalf("expected credentials preserved after rejected sign-out")
	}
	if !client.IsAuthenticated() {
		t.Fatalf("expected client session preserved after rejected sign-out")
	}
}

func TestSignUpRetriesProfileFetch(t *testing.T) {
	token := signToken(t, "u2", "new@b.c", RoleUser)
	var profileCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/sign-up":
			writeJSON(w, http.StatusCreated, map[string]any{
				"user":    User{ID: "u2", Email: "new@b.c"},
				"session": api.Session{AccessToken: token, UserID: "u2"},
			})
		case "/auth/profile":
			// the profile row appears on the third attempt
			if atomic.AddInt32(&profileCalls, 1) < 3 {
				writeJSON(w, http.StatusNotFound, map[string]string{"message": "profile not found"})
				return
			}
			writeJSON(w, http.StatusOK, Profile{ID: "u2", FullName: "Newbie", Role: RoleUser})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	store := NewStore(client, nil, nil)

	if err := store.SignUp(context.Background(), "new@b.c", "pw", "Newbie"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if got := atomic.LoadInt32(&profileCalls); got != 3 {
		t.Fatalf("expected 3 profile attempts, got %d", got)
	}
	if p := store.Profile(); p == nil || p.FullName != "Newbie" {
		t.Fatalf("expected profile from the retried fetch, got %+v", p)
	}
}

func TestRoleFallsBackToTokenClaim(t *testing.T) {
	token := signToken(t, "u3", "admin@b.c", RoleAdmin)
	client := api.NewClient("http://localhost", nil)
	client.SetSession(&api.Session{AccessToken: token, UserID: "u3"})

	store := NewStore(client, nil, nil)
	store.sessionChanged(client.Session())

	// no profile loaded yet; the token claim decides
	if got := store.Role(); got != RoleAdmin {
		t.Fatalf("expected role from token claim, got %q", got)
	}
}

func TestInitializeWithoutSessionIsAnonymous(t *testing.T) {
	client := api.NewClient("http://localhost", nil)
	store := NewStore(client, nil, nil)
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if store.Status() != StatusAnonymous {
		t.Fatalf("expected anonymous status, got %q", store.Status())
	}
	if store.IsAuthenticated() {
		t.Fatalf("expected unauthenticated")
	}
}

func TestUploadAvatarReplacesProfile(t *testing.T) {
	token := signToken(t, "u1", "a@b.c", RoleUser)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/avatar" || r.Method != http.MethodPost {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		file, header, err := r.FormFile("avatar")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "avatar file required"})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "png-bytes" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unexpected body"})
			return
		}
		writeJSON(w, http.StatusOK, Profile{
			ID: "u1", FullName: "Alice", Role: RoleUser,
			AvatarURL: "/uploads/avatars/u1/" + header.Filename,
		})
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	client.SetSession(&api.Session{AccessToken: token, UserID: "u1"})
	store := NewStore(client, nil, nil)
	store.sessionChanged(client.Session())

	if err := store.UploadAvatar(context.Background(), "me.png", []byte("png-bytes")); err != nil {
		t.Fatalf("upload avatar: %v", err)
	}
	p := store.Profile()
	if p == nil || p.AvatarURL != "/uploads/avatars/u1/me.png" {
		t.Fatalf("expected avatar url on profile, got %+v", p)
	}
}

func TestUploadAvatarRequiresAuthentication(t *testing.T) {
	client := api.NewClient("http://localhost", nil)
	store := NewStore(client, nil, nil)
	if err := store.UploadAvatar(context.Background(), "me.png", []byte("x")); err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}
