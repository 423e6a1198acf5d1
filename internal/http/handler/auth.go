package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"tms/internal/auth"

	"gorm.io/gorm"
)

type AuthHandler struct {
	DB  *gorm.DB
	JWT *auth.JWT

	SignupTokenTTL time.Duration
	LoginTokenTTL  time.Duration
}

type signupReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userDTO struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	var errs []fieldError
	if req.Name == "" {
		errs = append(errs, fieldError{Path: "name", Message: "Name is required"})
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		errs = append(errs, fieldError{Path: "email", Message: "Invalid email address"})
	}
	if len(req.Password) < 6 {
		errs = append(errs, fieldError{Path: "password", Message: "Password must be at least 6 characters"})
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	var existing auth.User
	if err := h.DB.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		writeMessage(w, http.StatusConflict, "User already exists")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		writeServerError(w)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeServerError(w)
		return
	}

	u := auth.User{Email: req.Email, Name: req.Name, PasswordHash: hash}
	if err := h.DB.Create(&u).Error; err != nil {
		// unique index closes the check-then-create race
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			writeMessage(w, http.StatusConflict, "User already exists")
			return
		}
		writeServerError(w)
		return
	}

	token, err := h.JWT.Sign(u.ID, h.SignupTokenTTL)
	if err != nil {
		writeServerError(w)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"token":   token,
		"user":    userDTO{ID: u.ID, Email: u.Email, Name: u.Name},
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	var errs []fieldError
	if _, err := mail.ParseAddress(req.Email); err != nil {
		errs = append(errs, fieldError{Path: "email", Message: "Invalid email address"})
	}
	if req.Password == "" {
		errs = append(errs, fieldError{Path: "password", Message: "Password is required"})
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	// a missing user and a wrong password produce the identical response
	var u auth.User
	if err := h.DB.Where("email = ?", req.Email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeMessage(w, http.StatusBadRequest, "Invalid credentials")
			return
		}
		writeServerError(w)
		return
	}
	if !auth.ComparePassword(u.PasswordHash, req.Password) {
		writeMessage(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	token, err := h.JWT.Sign(u.ID, h.LoginTokenTTL)
	if err != nil {
		writeServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"token":   token,
		"user":    userDTO{ID: u.ID, Email: u.Email, Name: u.Name},
	})
}
