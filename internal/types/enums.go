package types

// PlanTier identifies a subscription tier.
type PlanTier string

const (
	PlanFree PlanTier = "free"
	PlanPlus PlanTier = "plus"
)

// IsValid reports whether the tier is one of the known plans.
func (p PlanTier) IsValid() bool {
	return p == PlanFree || p == PlanPlus
}

// ConsultaTipo categorizes a quota-tracked query from the WhatsApp bot.
type ConsultaTipo string

const (
	ConsultaAnalisisEstafa ConsultaTipo = "analisis_estafa"
	ConsultaGeneral        ConsultaTipo = "consulta_general"
	ConsultaReporteEstafa  ConsultaTipo = "reporte_estafa"
)

// IsValid reports whether the tipo is one of the known categories.
func (t ConsultaTipo) IsValid() bool {
	switch t {
	case ConsultaAnalisisEstafa, ConsultaGeneral, ConsultaReporteEstafa:
		return true
	}
	return false
}

// NivelRiesgo is the risk level assigned by the bot to an analyzed message.
type NivelRiesgo string

const (
	RiesgoBajo  NivelRiesgo = "bajo"
	RiesgoMedio NivelRiesgo = "medio"
	RiesgoAlto  NivelRiesgo = "alto"
)

// IsValid reports whether the risk level is one of the known values.
func (n NivelRiesgo) IsValid() bool {
	switch n {
	case RiesgoBajo, RiesgoMedio, RiesgoAlto:
		return true
	}
	return false
}

// PaymentProvider identifies the external payment processor that originated
// a purchase or webhook event.
type PaymentProvider string

const (
	ProviderMercadoPago PaymentProvider = "mercadopago"
	ProviderPolar       PaymentProvider = "polar"
)

// MercadoPago payment statuses dispatched by the webhook handler.
// Unrecognized statuses are logged and dropped.
const (
	MPStatusApproved  = "approved"
	MPStatusRejected  = "rejected"
	MPStatusPending   = "pending"
	MPStatusCancelled = "cancelled"
)
