package hospital

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Response is the envelope every hbapi endpoint answers with.
type Response struct {
	ResultCode int             `json:"ResultCode"`
	ResultMsg  string          `json:"ResultMsg"`
	ResultData json.RawMessage `json:"ResultData"`
}

// OK reports whether the server accepted the request.
func (r *Response) OK() bool {
	return r.ResultCode == 1
}

type ScheduleResponse struct {
	ResultCode int              `json:"ResultCode"`
	ResultMsg  string           `json:"ResultMsg"`
	ResultData []*ScheduleGroup `json:"ResultData"`
}

type ScheduleGroup struct {
	ClinicDate   string         `json:"ClinicDate"`
	Appointments []*Appointment `json:"Appointments"`
}

type Appointment struct {
	SchmID   ID     `json:"SchmId"`
	NoonID   ID     `json:"NoonId"`
	NoonText string `json:"NoonText"`
}

type timesData struct {
	TimePartResponsesList []TimePart `json:"TimePartResponsesList"`
}

// TimePart is a bookable window of a schedule.
type TimePart struct {
	StartTime string `json:"StartTime"`
	EndTime   string `json:"EndTime"`
}

func (t TimePart) String() string {
	return t.StartTime + "-" + t.EndTime
}

// ID is a server identifier that arrives either as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("id is neither string nor number: %s", data)
		}
		*id = ID(n.String())
	}

	return nil
}

type LoginRequest struct {
	LoginName  string
	Password   string
	VerifyCode string
}

// Slot identifies the clinic schedule a patient books into.
type Slot struct {
	ClinicLabelID string
	ClinicDate    string
	NoonID        string
	NoonText      string
	SchmID        string
}

type ConfirmRequest struct {
	Slot
	HospitalGUID string
}

type PayRequest struct {
	Slot
	IDCode        string
	IDType        string
	PatientID     string
	OperateType   string
	AppointmentID string
	PayChannel    string
	PayType       string
	Time          TimePart
}
