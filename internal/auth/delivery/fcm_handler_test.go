package delivery

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authdomain "mailhub-backend/internal/auth/domain"

	"github.com/gin-gonic/gin"
)

type fakeTokenRepo struct {
	saved          []string
	deletedTokens  []string
	deletedUserIDs []string
}

func (r *fakeTokenRepo) SaveToken(userID, token, deviceInfo string) error {
	r.saved = append(r.saved, userID+":"+token)
	return nil
}

func (r *fakeTokenRepo) GetTokensByUserID(userID string) ([]authdomain.FCMToken, error) {
	return nil, nil
}

func (r *fakeTokenRepo) DeleteToken(token string) error {
	r.deletedTokens = append(r.deletedTokens, token)
	return nil
}

func (r *fakeTokenRepo) DeleteTokensByUserID(userID string) error {
	r.deletedUserIDs = append(r.deletedUserIDs, userID)
	return nil
}

func newFCMTestRouter(repo *fakeTokenRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewFCMHandler(repo)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "user-1") })
	r.POST("/api/fcm/register", h.RegisterToken)
	r.DELETE("/api/fcm", h.UnregisterAll)
	r.DELETE("/api/fcm/:token", h.UnregisterToken)
	return r
}

func TestRegisterTokenRequiresToken(t *testing.T) {
	repo := &fakeTokenRepo{}
	router := newFCMTestRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/api/fcm/register", strings.NewReader(`{"device_info":"pixel"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("saved tokens = %v, want none", repo.saved)
	}
}

func TestUnregisterAllDropsEveryTokenForUser(t *testing.T) {
	repo := &fakeTokenRepo{}
	router := newFCMTestRouter(repo)

	req := httptest.NewRequest(http.MethodDelete, "/api/fcm", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(repo.deletedUserIDs) != 1 || repo.deletedUserIDs[0] != "user-1" {
		t.Fatalf("deleted user ids = %v, want [user-1]", repo.deletedUserIDs)
	}
	if len(repo.deletedTokens) != 0 {
		t.Fatalf("per-token deletes = %v, want none", repo.deletedTokens)
	}
}

func TestUnregisterSingleToken(t *testing.T) {
	repo := &fakeTokenRepo{}
	router := newFCMTestRouter(repo)

	req := httptest.NewRequest(http.MethodDelete, "/api/fcm/tok-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(repo.deletedTokens) != 1 || repo.deletedTokens[0] != "tok-123" {
		t.Fatalf("deleted tokens = %v, want [tok-123]", repo.deletedTokens)
	}
}
