package quota

import (
	"context"
	"time"

	"github.com/google/uuid"

	"zecu/internal/types"
)

// ConsultaStore is the persistence surface the quota service needs.
// Satisfied by db.ConsultaRepository.
type ConsultaStore interface {
	Create(ctx context.Context, c *types.Consulta) error
	UpdateRespuesta(ctx context.Context, id string, respuesta string, riesgoDetectado bool, nivel *types.NivelRiesgo) error
	CountForPeriod(ctx context.Context, userID string, mesPeriodo string) (int, error)
}

// UserStore is the user lookup surface the quota service needs. Satisfied by
// db.UserRepository.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByPhone(ctx context.Context, phone string) (*types.User, error)
}

// Service answers the WhatsApp bot's quota questions and records consultas
// against the user's monthly allowance.
type Service struct {
	consultas ConsultaStore
	users     UserStore
	clock     types.Clock
}

// NewService wires a quota Service with production collaborators.
func NewService(consultas ConsultaStore, users UserStore) *Service {
	return &Service{
		consultas: consultas,
		users:     users,
		clock:     types.RealClock{},
	}
}

// Status is the quota snapshot returned to the bot before and after a
// consulta is registered.
type Status struct {
	UserID    string
	Plan      types.PlanTier
	Limite    int
	Usadas    int
	Restantes int
	Permitido bool
	Periodo   string
}

// resolveUser looks up the quota subject. The bot addresses users by ID when
// it has one and by phone otherwise.
func (s *Service) resolveUser(ctx context.Context, userID, phone string) (*types.User, error) {
	if userID != "" {
		return s.users.GetByID(ctx, userID)
	}
	return s.users.GetByPhone(ctx, phone)
}

// Validate reports whether the user may register another consulta this
// month. Plan expiry is applied lazily here: a plus plan past its expiry
// counts against the free allowance.
func (s *Service) Validate(ctx context.Context, userID, phone string) (*Status, error) {
	user, err := s.resolveUser(ctx, userID, phone)
	if err != nil {
		return nil, err
	}
	return s.statusFor(ctx, user)
}

// Register records one consulta for the user and returns the post-insert
// quota snapshot. Callers are expected to Validate first; Register itself
// re-checks nothing, matching the bot's fire-and-forget usage.
func (s *Service) Register(ctx context.Context, userID, phone string, mensaje string, tipo types.ConsultaTipo) (*types.Consulta, *Status, error) {
	user, err := s.resolveUser(ctx, userID, phone)
	if err != nil {
		return nil, nil, err
	}

	if !tipo.IsValid() {
		tipo = types.ConsultaGeneral
	}

	now := s.clock.Now()
	consulta := &types.Consulta{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Mensaje:    mensaje,
		Tipo:       tipo,
		MesPeriodo: Period(now),
	}
	if err := s.consultas.Create(ctx, consulta); err != nil {
		return nil, nil, err
	}

	status, err := s.statusFor(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return consulta, status, nil
}

// Update fills in the bot's answer on a previously registered consulta.
func (s *Service) Update(ctx context.Context, consultaID string, respuesta string, riesgoDetectado bool, nivel *types.NivelRiesgo) error {
	if nivel != nil && !nivel.IsValid() {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationFailed, "invalid risk level", nil,
			map[string]any{"nivel_riesgo": string(*nivel)})
	}
	return s.consultas.UpdateRespuesta(ctx, consultaID, respuesta, riesgoDetectado, nivel)
}

func (s *Service) statusFor(ctx context.Context, user *types.User) (*Status, error) {
	now := s.clock.Now()
	plan := user.EffectivePlan(now)
	limits := LimitsFor(plan)
	period := Period(now)

	used, err := s.consultas.CountForPeriod(ctx, user.ID, period)
	if err != nil {
		return nil, err
	}

	remaining := limits.ConsultasPerMonth - used
	if remaining < 0 {
		remaining = 0
	}

	return &Status{
		UserID:    user.ID,
		Plan:      plan,
		Limite:    limits.ConsultasPerMonth,
		Usadas:    used,
		Restantes: remaining,
		Permitido: used < limits.ConsultasPerMonth,
		Periodo:   period,
	}, nil
}

// Period formats an instant as the "YYYY-MM" quota period, in UTC.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}
