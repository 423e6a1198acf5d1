package handler

import (
	"errors"
	"net/http"

	"tms/internal/auth"

	"gorm.io/gorm"
)

type MeHandler struct {
	DB *gorm.DB
}

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var u auth.User
	if err := h.DB.First(&u, uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeMessage(w, http.StatusNotFound, "User not found")
			return
		}
		writeServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, userDTO{ID: u.ID, Email: u.Email, Name: u.Name})
}
