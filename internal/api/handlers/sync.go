package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/scheduler"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/go-chi/render"
)

const defaultRunsLimit = 20

// SyncHandler обработчик операторских запросов к движку синхронизации
type SyncHandler struct {
	sched  *scheduler.Scheduler
	runs   storage.RunStorageInterface
	logger interfaces.LoggerPort
}

// NewSyncHandler создает обработчик операторского API
func NewSyncHandler(sched *scheduler.Scheduler, runs storage.RunStorageInterface, logger interfaces.LoggerPort) *SyncHandler {
	return &SyncHandler{
		sched:  sched,
		runs:   runs,
		logger: logger,
	}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// GetStatus возвращает текущее состояние планировщика
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response{
		Success: true,
		Data:    h.sched.Status(),
	})
}

// ListRuns возвращает историю запусков синхронизации, свежие первыми
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Error:   "bad_request",
				Code:    http.StatusBadRequest,
				Message: "limit должен быть числом от 1 до 500",
			})
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка чтения истории запусков",
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "не удалось прочитать историю запусков",
		})
		return
	}

	render.JSON(w, r, response{
		Success: true,
		Data:    runs,
	})
}

// TriggerSync запускает внеплановую синхронизацию.
// Если запуск уже идет, возвращает 409 без постановки в очередь.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.TriggerNow(); err != nil {
		if errors.Is(err, utils.ErrAlreadyRunning) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, errorResponse{
				Error:   "conflict",
				Code:    http.StatusConflict,
				Message: "синхронизация уже выполняется",
			})
			return
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: err.Error(),
		})
		return
	}

	h.logger.InfoWithContext(r.Context(), "Запрошена внеплановая синхронизация")

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response{Success: true})
}
