package scheduling

// Code identifies a rejection kind.
type Code string

const (
	CodeInvalidDuration   Code = "InvalidDuration"
	CodeDoctorUnavailable Code = "DoctorUnavailable"
	CodeSlotTaken         Code = "SlotTaken"
	CodeNotFound          Code = "NotFound"
	CodeForbidden         Code = "Forbidden"
	CodeAlreadyTerminal   Code = "AlreadyTerminal"
)

// Rejection is a recoverable, user-facing refusal of an operation. Two
// rejections match under errors.Is when their codes are equal.
type Rejection struct {
	Code    Code
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == r.Code
}

var (
	ErrInvalidDuration   = &Rejection{Code: CodeInvalidDuration, Message: "booking must last exactly 30 minutes"}
	ErrDoctorUnavailable = &Rejection{Code: CodeDoctorUnavailable, Message: "Doctor not available"}
	ErrSlotTaken         = &Rejection{Code: CodeSlotTaken, Message: "Already booked"}
	ErrNotFound          = &Rejection{Code: CodeNotFound, Message: "not found"}
	ErrForbidden         = &Rejection{Code: CodeForbidden, Message: "forbidden"}
	ErrAlreadyTerminal   = &Rejection{Code: CodeAlreadyTerminal, Message: "booking is already cancelled or completed"}
)

// reject returns a rejection of the same kind as base with a specific message.
func reject(base *Rejection, msg string) error {
	return &Rejection{Code: base.Code, Message: msg}
}
