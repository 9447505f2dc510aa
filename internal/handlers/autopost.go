package handlers

import (
	"net/http"

	commonhttp "x-auto-post-tool/internal/common/http"
)

// AutoPostRequest is the body of POST /api/autopost.
type AutoPostRequest struct {
	Repository string `json:"repository"`
	Language   string `json:"language,omitempty"`
}

// HandleAutoPost posts about a repository's latest commit
// @Summary Auto post
// @Description Generates a post from the repository's latest commit and publishes it on the user's X account.
// @Tags autopost
// @Accept json
// @Produce json
// @Param request body AutoPostRequest true "Repository and language"
// @Success 201 {object} autopost.Result
// @Failure 400 {object} commonhttp.ErrorResponse
// @Failure 401 {object} commonhttp.ErrorResponse
// @Failure 409 {object} commonhttp.ErrorResponse
// @Failure 429 {object} commonhttp.ErrorResponse
// @Failure 502 {object} commonhttp.ErrorResponse
// @Failure 503 {object} commonhttp.ErrorResponse
// @Router /api/autopost [post]
func (h *Handlers) HandleAutoPost(w http.ResponseWriter, r *http.Request) {
	var req AutoPostRequest
	if err := decodeJSON(r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	result, err := h.service.AutoPost(r.Context(), userID(r), req.Repository, req.Language)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	commonhttp.WriteJSON(w, http.StatusCreated, result)
}
