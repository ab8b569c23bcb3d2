package handler

import (
	"net/http"

	"github.com/hitoshi/mathviz/internal/middleware"
	"github.com/hitoshi/mathviz/internal/model"
)

// AdminHandler は管理者向けのHTTPハンドラー。
type AdminHandler struct{}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler() *AdminHandler {
	return &AdminHandler{}
}

// Identity は管理者として認可された呼び出し元を返す。
// NewAuthMiddleware → NewAdminMiddleware の後に配置する。
// GET /admin/identity
func (h *AdminHandler) Identity(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		handleServiceError(w, model.NewUnauthenticatedError())
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(identity))
}
