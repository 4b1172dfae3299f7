// Package records loads the doctors and patients a booking can be made for.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var (
	ErrUnknownDoctor  = errors.New("unknown doctor")
	ErrUnknownPatient = errors.New("unknown patient")
	ErrDuplicateName  = errors.New("duplicate name")
)

// keyDelim splits viper keys. Record names are map keys and may contain dots.
const keyDelim = "\x00"

// ConfigError reports a record file that cannot be used.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("records %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type Doctor struct {
	ClinicLabelID string `mapstructure:"ClinicLabelId" validate:"required"`
	ClinicDate    string `mapstructure:"ClinicDate" validate:"required"`
	Noon          string `mapstructure:"Noon" validate:"required"`
	NoonText      string `mapstructure:"NoonText"`
	DoctorID      string `mapstructure:"DoctorId" validate:"required"`
	// SchmID is resolved from the server during a run.
	SchmID string `mapstructure:"SchmId"`
}

type Patient struct {
	LoginName string `mapstructure:"LoginName" validate:"required"`
	Password  string `mapstructure:"Password" validate:"required"`
	IDCode    string `mapstructure:"IdCode" validate:"required"`
	IDType    string `mapstructure:"IdType"`
	PatientID string `mapstructure:"PatientId" validate:"required"`
}

// Booking holds the parameters shared by every doctor and patient.
type Booking struct {
	HospitalGUID  string `mapstructure:"HospitalGuid" validate:"required"`
	OperateType   string `mapstructure:"OperateType"`
	AppointmentID string `mapstructure:"AppointmentId"`
	PayChannel    string `mapstructure:"PayChannel"`
	PayType       string `mapstructure:"PayType"`
}

type file struct {
	Doctors  map[string]Doctor  `mapstructure:"Doctors" validate:"dive"`
	Patients map[string]Patient `mapstructure:"Patients" validate:"dive"`
	Booking  `mapstructure:",squash"`
}

// Store is read-only after Load.
type Store struct {
	path     string
	doctors  map[string]Doctor
	patients map[string]Patient
	booking  Booking
}

var validate = validator.New()

// Load reads the JSON record file at path. Numbers are kept as written, so
// numeric ids longer than a float64 mantissa load intact.
func Load(path string) (*Store, error) {
	raw, err := readJSON(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if err := checkNames(raw); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelim))
	if err := v.MergeConfigMap(raw); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	f := &file{}
	if err := v.Unmarshal(f); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("error decoding: %w", err)}
	}
	if err := validate.Struct(f); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	s := &Store{
		path:     path,
		doctors:  make(map[string]Doctor, len(f.Doctors)),
		patients: make(map[string]Patient, len(f.Patients)),
		booking:  f.Booking,
	}
	for name, d := range f.Doctors {
		s.doctors[key(name)] = d
	}
	for name, p := range f.Patients {
		if p.IDType == "" {
			p.IDType = "0"
		}
		s.patients[key(name)] = p
	}

	return s, nil
}

// Doctor returns a copy of the named doctor. Names are case-insensitive.
func (s *Store) Doctor(name string) (Doctor, error) {
	d, ok := s.doctors[key(name)]
	if !ok {
		return Doctor{}, &ConfigError{Path: s.path, Err: fmt.Errorf("%w %q", ErrUnknownDoctor, name)}
	}
	return d, nil
}

func (s *Store) Patient(name string) (Patient, error) {
	p, ok := s.patients[key(name)]
	if !ok {
		return Patient{}, &ConfigError{Path: s.path, Err: fmt.Errorf("%w %q", ErrUnknownPatient, name)}
	}
	return p, nil
}

func (s *Store) Booking() Booking {
	return s.booking
}

func readJSON(path string) (map[string]interface{}, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	dec := json.NewDecoder(fh)
	dec.UseNumber()
	raw := map[string]interface{}{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("error decoding: %w", err)
	}

	return raw, nil
}

// checkNames rejects doctors or patients whose names only differ in case.
// Lookups fold case, so one of them would be unreachable.
func checkNames(raw map[string]interface{}) error {
	if err := uniqueNames("records", raw); err != nil {
		return err
	}
	for section, val := range raw {
		m, ok := val.(map[string]interface{})
		if !ok {
			continue
		}
		if err := uniqueNames(section, m); err != nil {
			return err
		}
	}

	return nil
}

func uniqueNames(section string, m map[string]interface{}) error {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	for _, name := range names {
		if strings.Contains(name, keyDelim) {
			return fmt.Errorf("%s: name %q contains a NUL byte", section, name)
		}
		k := key(name)
		if prev, ok := seen[k]; ok {
			return fmt.Errorf("%w in %s: %q and %q", ErrDuplicateName, section, prev, name)
		}
		seen[k] = name
	}

	return nil
}

func key(name string) string {
	return strings.ToLower(name)
}
