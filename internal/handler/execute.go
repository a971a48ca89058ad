package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/code-judge/internal/apperror"
	"github.com/sakif/code-judge/internal/auth"
	"github.com/sakif/code-judge/internal/executor"
)

// maxBodyBytes bounds the request body; the judge applies its own, tighter
// limit to the code itself.
const maxBodyBytes = 1 << 20

// JudgeHandler serves the judge API.
type JudgeHandler struct {
	exec   executor.Executor
	logger *slog.Logger
}

// NewJudgeHandler creates a new JudgeHandler.
func NewJudgeHandler(exec executor.Executor, logger *slog.Logger) *JudgeHandler {
	return &JudgeHandler{
		exec:   exec,
		logger: logger,
	}
}

// HandleJudge compiles and runs the submitted program.
//
//	200  the program was judged, whatever its outcome (including an
//	     unsupported language, reported in the result's error field)
//	400  malformed JSON, or a validation failure such as empty code
//	500  the judge itself failed; the result body still carries the message
func (h *JudgeHandler) HandleJudge(w http.ResponseWriter, r *http.Request) {
	var req executor.ExecutionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("invalid judge request body", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "invalid JSON request body"))
		return
	}

	attrs := []any{slog.String("language", req.Language), slog.Int("code_bytes", len(req.Code))}
	if sub, ok := auth.SubjectFromContext(r.Context()); ok {
		attrs = append(attrs, slog.String("subject", sub))
	}
	h.logger.Info("judging submission", attrs...)

	result, err := h.exec.Execute(r.Context(), req)
	switch {
	case err == nil:
		h.logger.Debug("submission judged", slog.String("error", result.ErrorMessage()))
		writeJSON(w, http.StatusOK, result)
	case result == nil:
		h.logger.Error("judge failed", slog.String("error", err.Error()))
		writeError(w, err)
	case errors.Is(err, apperror.ErrValidation):
		writeJSON(w, http.StatusBadRequest, result)
	default:
		h.logger.Error("judge failed", slog.String("error", err.Error()))
		writeJSON(w, statusFor(err), result)
	}
}

// LanguagesResponse lists the accepted language identifiers.
type LanguagesResponse struct {
	Languages []executor.Language `json:"languages"`
}

// HandleLanguages returns the supported languages.
func (h *JudgeHandler) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LanguagesResponse{Languages: executor.Languages()})
}
