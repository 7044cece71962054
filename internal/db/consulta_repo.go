package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"zecu/internal/types"
)

// ConsultaRepository provides data access for the consultas table.
type ConsultaRepository struct {
	db DBTX
}

// NewConsultaRepository creates a new ConsultaRepository backed by the given
// database connection (pool or transaction).
func NewConsultaRepository(db DBTX) *ConsultaRepository {
	return &ConsultaRepository{db: db}
}

// Create inserts a new consulta row with an empty respuesta. The row is
// filled in later by UpdateRespuesta once the bot has produced an answer.
func (r *ConsultaRepository) Create(ctx context.Context, c *types.Consulta) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO consultas (id, user_id, mensaje, tipo, riesgo_detectado, mes_periodo, created_at)
		 VALUES ($1, $2, $3, $4, false, $5, COALESCE($6, NOW()))`,
		c.ID,
		c.UserID,
		c.Mensaje,
		c.Tipo,
		c.MesPeriodo,
		nilIfZeroTime(c.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create consulta", err)
	}
	return nil
}

// UpdateRespuesta fills in the bot's answer and risk assessment.
// A second call silently overwrites the previous answer.
func (r *ConsultaRepository) UpdateRespuesta(ctx context.Context, id string, respuesta string, riesgoDetectado bool, nivel *types.NivelRiesgo) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE consultas SET respuesta = $1, riesgo_detectado = $2, nivel_riesgo = $3 WHERE id = $4`,
		respuesta,
		riesgoDetectado,
		nivel,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update consulta", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundConsulta, "consulta not found", nil)
	}
	return nil
}

// CountForPeriod returns the number of consultas registered by the user in
// the given "YYYY-MM" period. This backs the monthly quota check.
func (r *ConsultaRepository) CountForPeriod(ctx context.Context, userID string, mesPeriodo string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM consultas WHERE user_id = $1 AND mes_periodo = $2`,
		userID,
		mesPeriodo,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count consultas", err)
	}
	return count, nil
}

// GetByID retrieves a single consulta.
func (r *ConsultaRepository) GetByID(ctx context.Context, id string) (*types.Consulta, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, mensaje, respuesta, tipo, riesgo_detectado, nivel_riesgo, mes_periodo, created_at
		 FROM consultas WHERE id = $1`,
		id,
	)

	var c types.Consulta
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Mensaje,
		&c.Respuesta,
		&c.Tipo,
		&c.RiesgoDetectado,
		&c.NivelRiesgo,
		&c.MesPeriodo,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundConsulta, "consulta not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve consulta", err)
	}
	return &c, nil
}
