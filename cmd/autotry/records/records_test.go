package records

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
	"HospitalGuid": "c6f7a1d0",
	"OperateType": 1,
	"AppointmentId": "0",
	"PayChannel": "3",
	"PayType": "5",
	"Doctors": {
		"Wang": {
			"ClinicLabelId": "1021",
			"ClinicDate": "2026-10-21",
			"Noon": 1,
			"NoonText": "morning",
			"DoctorId": "D0042"
		}
	},
	"Patients": {
		"Li": {
			"LoginName": "13800000000",
			"Password": "pw",
			"IdCode": "110101199001011234",
			"PatientId": 778899
		},
		"Zhao": {
			"LoginName": "13900000000",
			"Password": "pw2",
			"IdCode": "110101199001015678",
			"IdType": "2",
			"PatientId": "P2"
		}
	}
}`

func writeRecords(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doctors.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	s, err := Load(writeRecords(t, sample))
	require.NoError(t, err)

	d, err := s.Doctor("Wang")
	require.NoError(t, err)
	assert.Equal(t, Doctor{
		ClinicLabelID: "1021",
		ClinicDate:    "2026-10-21",
		Noon:          "1",
		NoonText:      "morning",
		DoctorID:      "D0042",
	}, d)

	p, err := s.Patient("Li")
	require.NoError(t, err)
	assert.Equal(t, Patient{
		LoginName: "13800000000",
		Password:  "pw",
		IDCode:    "110101199001011234",
		IDType:    "0",
		PatientID: "778899",
	}, p)

	p, err = s.Patient("Zhao")
	require.NoError(t, err)
	assert.Equal(t, "2", p.IDType)

	assert.Equal(t, Booking{
		HospitalGUID:  "c6f7a1d0",
		OperateType:   "1",
		AppointmentID: "0",
		PayChannel:    "3",
		PayType:       "5",
	}, s.Booking())
}

func TestStore_NamesAreCaseInsensitive(t *testing.T) {
	s, err := Load(writeRecords(t, sample))
	require.NoError(t, err)

	a, err := s.Doctor("WANG")
	require.NoError(t, err)
	b, err := s.Doctor("wang")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s, err := Load(writeRecords(t, sample))
	require.NoError(t, err)

	d, err := s.Doctor("Wang")
	require.NoError(t, err)
	d.SchmID = "S1"

	again, err := s.Doctor("Wang")
	require.NoError(t, err)
	assert.Empty(t, again.SchmID)
}

func TestStore_UnknownNames(t *testing.T) {
	s, err := Load(writeRecords(t, sample))
	require.NoError(t, err)

	_, err = s.Doctor("Nobody")
	assert.ErrorIs(t, err, ErrUnknownDoctor)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = s.Patient("Nobody")
	assert.ErrorIs(t, err, ErrUnknownPatient)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"missing file": filepath.Join(t.TempDir(), "absent.json"),
		"bad json":     writeRecords(t, `{"Doctors": `),
		"missing doctor id": writeRecords(t, `{
			"HospitalGuid": "h",
			"Doctors": {"Wang": {"ClinicLabelId": "1", "ClinicDate": "d", "Noon": "1"}}
		}`),
		"missing hospital": writeRecords(t, `{"Doctors": {}, "Patients": {}}`),
	}

	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(path)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, path, cfgErr.Path)
		})
	}
}

func TestLoad_NumericIDsKeepEveryDigit(t *testing.T) {
	s, err := Load(writeRecords(t, `{
		"HospitalGuid": "h",
		"Patients": {
			"Li": {
				"LoginName": 13800000000,
				"Password": "pw",
				"IdCode": 110101199003074518,
				"PatientId": 12345678901234567
			}
		}
	}`))
	require.NoError(t, err)

	p, err := s.Patient("Li")
	require.NoError(t, err)
	assert.Equal(t, "110101199003074518", p.IDCode)
	assert.Equal(t, "12345678901234567", p.PatientID)
	assert.Equal(t, "13800000000", p.LoginName)
}

func TestLoad_NamesWithDots(t *testing.T) {
	s, err := Load(writeRecords(t, `{
		"HospitalGuid": "h",
		"Doctors": {
			"Dr. Wang": {"ClinicLabelId": "1", "ClinicDate": "2026-10-21", "Noon": "1", "DoctorId": "D1"},
			"Wang": {"ClinicLabelId": "2", "ClinicDate": "2026-10-22", "Noon": "2", "DoctorId": "D2"}
		}
	}`))
	require.NoError(t, err)

	d, err := s.Doctor("dr. wang")
	require.NoError(t, err)
	assert.Equal(t, "D1", d.DoctorID)

	d, err = s.Doctor("Wang")
	require.NoError(t, err)
	assert.Equal(t, "D2", d.DoctorID)
}

func TestLoad_NamesDifferingOnlyInCase(t *testing.T) {
	cases := map[string]string{
		"doctors": `{
			"HospitalGuid": "h",
			"Doctors": {
				"Wang": {"ClinicLabelId": "1", "ClinicDate": "d", "Noon": "1", "DoctorId": "A"},
				"WANG": {"ClinicLabelId": "1", "ClinicDate": "d", "Noon": "1", "DoctorId": "B"}
			}
		}`,
		"patients": `{
			"HospitalGuid": "h",
			"Patients": {
				"li": {"LoginName": "a", "Password": "p", "IdCode": "1", "PatientId": "1"},
				"Li": {"LoginName": "b", "Password": "p", "IdCode": "2", "PatientId": "2"}
			}
		}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeRecords(t, body))

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.ErrorIs(t, err, ErrDuplicateName)
		})
	}
}
