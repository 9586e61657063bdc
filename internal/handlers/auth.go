package handlers

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/models"
)

type AuthHandler struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewAuthHandler(db *gorm.DB, log *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, log: log}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and sets the session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		httpx.JSONError(w, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}
	if !user.CheckPassword(req.Password) {
		h.log.Warn("failed login attempt", zap.String("email", req.Email))
		httpx.JSONError(w, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}

	auth.CreateSession(w, user.ID)
	httpx.JSON(w, http.StatusOK, user)
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w)
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// currentUser loads the authenticated user for the request, or writes 401.
func currentUser(db *gorm.DB, w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return nil, false
	}
	var user models.User
	if err := db.First(&user, uid).Error; err != nil {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return nil, false
	}
	return &user, true
}

// RequireAdmin wraps a handler so only administrator accounts reach it.
func RequireAdmin(db *gorm.DB, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(db, w, r)
		if !ok {
			return
		}
		if !user.IsAdmin() {
			httpx.JSONError(w, http.StatusForbidden, "admin_required", nil)
			return
		}
		next(w, r)
	}
}
