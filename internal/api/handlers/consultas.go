package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zecu/internal/auth"
	"zecu/internal/core"
	"zecu/internal/quota"
	"zecu/internal/types"
)

// --- DTOs ---

// ValidarConsultaRequest is the request body for POST /consultas/validar.
// The bot names the user by ID when it has one; phone is the alternate for
// messages arriving before the bot resolved the account.
type ValidarConsultaRequest struct {
	UserID string `json:"user_id" validate:"omitempty,max=64"`
	Phone  string `json:"phone" validate:"omitempty,min=10,max=25"`
}

// RegistrarConsultaRequest is the request body for POST /consultas/registrar.
type RegistrarConsultaRequest struct {
	UserID  string `json:"user_id" validate:"omitempty,max=64"`
	Phone   string `json:"phone" validate:"omitempty,min=10,max=25"`
	Mensaje string `json:"mensaje" validate:"required,max=4000"`
	Tipo    string `json:"tipo" validate:"omitempty,consulta_tipo"`
}

// consultaSubject checks the user_id/phone pair and normalizes the phone
// when it is the identifier in play.
func consultaSubject(userID, rawPhone string) (string, string, error) {
	if userID != "" {
		return userID, "", nil
	}
	if rawPhone == "" {
		return "", "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationFailed,
			"user_id or phone is required",
			nil,
			map[string]any{"user_id": "provide user_id or phone"},
		)
	}
	phone, err := auth.NormalizePhone(rawPhone)
	if err != nil {
		return "", "", err
	}
	return "", phone, nil
}

// ActualizarConsultaRequest is the request body for
// PATCH /consultas/{consultaID}.
type ActualizarConsultaRequest struct {
	Respuesta       string  `json:"respuesta" validate:"required,max=8000"`
	RiesgoDetectado bool    `json:"riesgo_detectado"`
	NivelRiesgo     *string `json:"nivel_riesgo" validate:"omitempty,oneof=bajo medio alto"`
}

// quotaPayload shapes a quota status for responses.
func quotaPayload(status *quota.Status) map[string]any {
	return map[string]any{
		"puede_consultar":     status.Permitido,
		"plan":                status.Plan,
		"consultas_usadas":    status.Usadas,
		"limite":              status.Limite,
		"consultas_restantes": status.Restantes,
		"periodo":             status.Periodo,
	}
}

// --- Service Interfaces ---

// QuotaService answers quota questions and records consultas.
// Satisfied by quota.Service.
type QuotaService interface {
	Validate(ctx context.Context, userID, phone string) (*quota.Status, error)
	Register(ctx context.Context, userID, phone string, mensaje string, tipo types.ConsultaTipo) (*types.Consulta, *quota.Status, error)
	Update(ctx context.Context, consultaID string, respuesta string, riesgoDetectado bool, nivel *types.NivelRiesgo) error
}

// --- Handler ---

// ConsultasHandler serves the internal endpoints the WhatsApp bot calls
// around each analyzed message. These routes are guarded by the internal API
// key, not user sessions: the bot acts on behalf of users identified by
// user ID or phone number.
type ConsultasHandler struct {
	quotas        QuotaService
	limit         RateLimiter
	requireAPIKey Middleware
	logger        *slog.Logger
	validator     *core.Validator
}

// NewConsultasHandler creates a new ConsultasHandler with the provided
// dependencies.
func NewConsultasHandler(
	quotas QuotaService,
	limit RateLimiter,
	requireAPIKey Middleware,
	l *slog.Logger,
	v *core.Validator,
) *ConsultasHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ConsultasHandler{
		quotas:        quotas,
		limit:         limit,
		requireAPIKey: requireAPIKey,
		logger:        l,
		validator:     v,
	}
}

// RegisterRoutes mounts the consulta routes onto the provided router.
//
//   - POST  /consultas/validar       - May this phone ask another question?
//   - POST  /consultas/registrar     - Record a question against the quota
//   - PATCH /consultas/{consultaID}  - Attach the bot's answer
func (h *ConsultasHandler) RegisterRoutes(r chi.Router) {
	r.Route("/consultas", func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.Use(h.limit("consultas"))
		r.Post("/validar", h.HandleValidar)
		r.Post("/registrar", h.HandleRegistrar)
		r.Patch("/{consultaID}", h.HandleActualizar)
	})
}

// HandleValidar processes POST /consultas/validar. Read-only: it reports the
// current quota state without consuming anything.
func (h *ConsultasHandler) HandleValidar(w http.ResponseWriter, r *http.Request) {
	var req ValidarConsultaRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	userID, phone, err := consultaSubject(req.UserID, req.Phone)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	status, err := h.quotas.Validate(r.Context(), userID, phone)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Success(w, r, http.StatusOK, quotaPayload(status))
}

// HandleRegistrar processes POST /consultas/registrar: one consulta is
// recorded and the post-insert quota snapshot returned, so the bot can warn
// the user when they are about to run out.
func (h *ConsultasHandler) HandleRegistrar(w http.ResponseWriter, r *http.Request) {
	var req RegistrarConsultaRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	userID, phone, err := consultaSubject(req.UserID, req.Phone)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	consulta, status, err := h.quotas.Register(r.Context(), userID, phone, req.Mensaje, types.ConsultaTipo(req.Tipo))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	fields := quotaPayload(status)
	fields["consulta_id"] = consulta.ID
	core.Success(w, r, http.StatusOK, fields)
}

// HandleActualizar processes PATCH /consultas/{consultaID}, filling in the
// bot's answer and risk assessment.
func (h *ConsultasHandler) HandleActualizar(w http.ResponseWriter, r *http.Request) {
	consultaID := chi.URLParam(r, "consultaID")
	if consultaID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationFailed,
			"consulta id is required",
			nil,
		))
		return
	}

	var req ActualizarConsultaRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var nivel *types.NivelRiesgo
	if req.NivelRiesgo != nil {
		n := types.NivelRiesgo(*req.NivelRiesgo)
		nivel = &n
	}

	if err := h.quotas.Update(r.Context(), consultaID, req.Respuesta, req.RiesgoDetectado, nivel); err != nil {
		core.Error(w, r, err)
		return
	}

	core.Success(w, r, http.StatusOK, map[string]any{
		"message": "consulta updated",
	})
}
