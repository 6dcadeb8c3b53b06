package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthJWT(t *testing.T) {
	const secret = "test-secret"

	validToken, err := SignToken(secret, "u1", "en", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expiredToken, err := SignToken(secret, "u1", "en", -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	wrongKeyToken, err := SignToken("other-secret", "u1", "en", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"valid", "Bearer " + validToken, http.StatusOK, "u1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expiredToken, http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + wrongKeyToken, http.StatusUnauthorized, ""},
		{"garbage", "Bearer not.a.token", http.StatusUnauthorized, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser string
			h := AuthJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = UserIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/generations", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if gotUser != tc.wantUser {
				t.Fatalf("user = %q, want %q", gotUser, tc.wantUser)
			}
		})
	}
}
