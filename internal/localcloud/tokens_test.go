package localcloud

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	user := &User{
		BaseModel: BaseModel{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV"},
		Email:     "dev@example.com",
		Name:      "Dev User",
	}
	user.SetGroups([]string{"admin", "staff"})

	token, err := issueAccessToken(secret, user, time.Hour)
	if err != nil {
		t.Fatalf("issueAccessToken() error = %v", err)
	}

	claims, err := parseAccessToken(secret, token)
	if err != nil {
		t.Fatalf("parseAccessToken() error = %v", err)
	}

	if claims.Subject != user.ID {
		t.Errorf("Subject = %q, want %q", claims.Subject, user.ID)
	}
	if claims.Email != user.Email {
		t.Errorf("Email = %q, want %q", claims.Email, user.Email)
	}
	if len(claims.Groups) != 2 || claims.Groups[0] != "admin" || claims.Groups[1] != "staff" {
		t.Errorf("Groups = %v, want [admin staff]", claims.Groups)
	}
	if claims.ExpiresAt == nil {
		t.Fatal("expected expiry claim")
	}
	until := time.Until(claims.ExpiresAt.Time)
	if until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("expiry %v from now, want about 1h", until)
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	user := &User{BaseModel: BaseModel{ID: "u1"}, Email: "dev@example.com"}

	token, err := issueAccessToken(secret, user, -time.Minute)
	if err != nil {
		t.Fatalf("issueAccessToken() error = %v", err)
	}

	_, err = parseAccessToken(secret, token)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("error = %v, want jwt.ErrTokenExpired", err)
	}
}

func TestParseAccessTokenWrongSecret(t *testing.T) {
	user := &User{BaseModel: BaseModel{ID: "u1"}, Email: "dev@example.com"}

	token, err := issueAccessToken([]byte("secret-a-secret-a-secret-a-secr"), user, time.Hour)
	if err != nil {
		t.Fatalf("issueAccessToken() error = %v", err)
	}

	if _, err := parseAccessToken([]byte("secret-b-secret-b-secret-b-secr"), token); err == nil {
		t.Error("expected error for token signed with different secret")
	}
}

func TestNewRefreshTokenUnique(t *testing.T) {
	a, err := newRefreshToken()
	if err != nil {
		t.Fatalf("newRefreshToken() error = %v", err)
	}
	b, err := newRefreshToken()
	if err != nil {
		t.Fatalf("newRefreshToken() error = %v", err)
	}

	if len(a) != 64 {
		t.Errorf("token length = %d, want 64", len(a))
	}
	if a == b {
		t.Error("two refresh tokens should not collide")
	}
}

func TestHashTokenStable(t *testing.T) {
	if hashToken("abc") != hashToken("abc") {
		t.Error("same input should hash identically")
	}
	if hashToken("abc") == hashToken("abd") {
		t.Error("different inputs should hash differently")
	}
	if len(hashToken("abc")) != 64 {
		t.Errorf("hash length = %d, want 64", len(hashToken("abc")))
	}
}

func TestNewVerificationCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 20; i++ {
		code, err := newVerificationCode()
		if err != nil {
			t.Fatalf("newVerificationCode() error = %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("code %q is not 6 digits", code)
		}
	}
}

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal the plaintext")
	}

	if err := VerifyPassword("correct horse battery staple", hash); err != nil {
		t.Errorf("VerifyPassword() with right password: %v", err)
	}
	if err := VerifyPassword("wrong password", hash); err == nil {
		t.Error("VerifyPassword() with wrong password should fail")
	}
}

func TestUserGroupList(t *testing.T) {
	tests := []struct {
		name   string
		groups string
		want   []string
	}{
		{name: "empty", groups: "", want: nil},
		{name: "single", groups: "admin", want: []string{"admin"}},
		{name: "multiple", groups: "admin,staff", want: []string{"admin", "staff"}},
		{name: "spaces and blanks", groups: " admin , ,staff ", want: []string{"admin", "staff"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{Groups: tt.groups}
			got := u.GroupList()
			if len(got) != len(tt.want) {
				t.Fatalf("GroupList() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("GroupList() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
