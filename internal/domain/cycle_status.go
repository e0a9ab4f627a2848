package domain

type CycleStatus string

const (
	CycleStatusRunning CycleStatus = "running"
	CycleStatusDone    CycleStatus = "done"
	CycleStatusPartial CycleStatus = "partial"
	CycleStatusFailed  CycleStatus = "failed"
)

// Completed reports whether the status advances the cadence watermark.
func (s CycleStatus) Completed() bool {
	return s == CycleStatusDone || s == CycleStatusPartial
}

func ParseCycleStatus(s string) CycleStatus {
	switch s {
	case "running":
		return CycleStatusRunning
	case "done":
		return CycleStatusDone
	case "partial":
		return CycleStatusPartial
	default:
		return CycleStatusFailed
	}
}
