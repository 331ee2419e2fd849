package dialog

type State string

const (
	StateIdle State = "idle"

	// Cesión (titular)
	StateCedeDate   State = "cede_date"
	StateCedePeriod State = "cede_period"

	// Recuperar un periodo cedido (titular)
	StateRetakeDate   State = "retake_date"
	StateRetakePeriod State = "retake_period"

	// Solicitud de plaza (suplente)
	StateReqDate   State = "req_date"
	StateReqPeriod State = "req_period"

	// Solicitud de punto de carga
	StateEVDate State = "ev_date"
	StateEVPref State = "ev_pref"

	// Anulaciones
	StateCancelPick State = "cancel_pick"

	// Admin
	StateAdmRunDate    State = "adm_run_date"
	StateAdmRevertDate State = "adm_revert_date"
	StateAdmReportYM   State = "adm_report_ym"
)

type Payload map[string]any

type Item struct {
	ChatID  int64
	State   State
	Payload Payload
}
