package auth

// Status is the container's top-level state machine:
// loading -> {authenticated, anonymous}.
type Status string

const (
	StatusLoading       Status = "loading"
	StatusAuthenticated Status = "authenticated"
	StatusAnonymous     Status = "anonymous"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the opaque authenticated identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Profile holds the displayable part of an account. The profile row may
// be created asynchronously after sign-up, so it can lag the session by
// one fetch.
type Profile struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Role      string `json:"role"`
}
