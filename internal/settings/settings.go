package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Recognized configuration keys.
const (
	KeyDisconnectTimeout    = "timeout_desconexion"
	KeyAlarmSilence         = "silencio_alarmas"
	KeyAlarmSound           = "sonido_alarma"
	KeySessionIdle          = "sesion_inactividad"
	KeyRetentionConnections = "retencion_conexiones"
	KeyRetentionAudit       = "retencion_auditoria"
	KeyRetentionAccess      = "retencion_accesos"
	KeySMTPHost             = "smtp_host"
	KeySMTPPort             = "smtp_port"
	KeySMTPUser             = "smtp_user"
	KeySMTPPass             = "smtp_pass"
	KeySMTPFrom             = "smtp_from"
	KeySMTPTLS              = "smtp_tls"
)

const defaultSMTPPort = 587

// ErrInvalid marks settings rejected by Validate.
var ErrInvalid = errors.New("settings: invalid")

// SMTP holds outbound mail settings.
type SMTP struct {
	Host     string `json:"smtp_host"`
	Port     int    `json:"smtp_port"`
	User     string `json:"smtp_user"`
	Password string `json:"smtp_pass"`
	From     string `json:"smtp_from"`
	TLS      bool   `json:"smtp_tls"`
}

// Enabled reports whether a mail host is configured.
func (s SMTP) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

// Sender returns the envelope sender, falling back to the login user.
func (s SMTP) Sender() string {
	if s.From != "" {
		return s.From
	}
	return s.User
}

// Settings is the typed view of the configuracion table.
type Settings struct {
	DisconnectTimeoutSeconds int  `json:"timeout_desconexion"`
	AlarmSilenceSeconds      int  `json:"silencio_alarmas"`
	AlarmSound               bool `json:"sonido_alarma"`
	SessionIdleMinutes       int  `json:"sesion_inactividad"`
	RetentionConnectionsDays int  `json:"retencion_conexiones"`
	RetentionAuditDays       int  `json:"retencion_auditoria"`
	RetentionAccessDays      int  `json:"retencion_accesos"`
	SMTP
}

// Defaults returns the settings used for missing or unparsable keys.
func Defaults() Settings {
	return Settings{
		DisconnectTimeoutSeconds: 300,
		AlarmSilenceSeconds:      60,
		AlarmSound:               true,
		SessionIdleMinutes:       15,
		RetentionConnectionsDays: 90,
		RetentionAuditDays:       365,
		RetentionAccessDays:      180,
		SMTP:                     SMTP{Port: defaultSMTPPort},
	}
}

// DisconnectTimeout is the age after which a sensor is shown as disconnected.
func (s Settings) DisconnectTimeout() time.Duration {
	return time.Duration(s.DisconnectTimeoutSeconds) * time.Second
}

// Validate checks ranges before persisting.
func (s Settings) Validate() error {
	if s.DisconnectTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeout_desconexion must be positive", ErrInvalid)
	}
	if s.AlarmSilenceSeconds < 0 || s.SessionIdleMinutes < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}
	if s.RetentionConnectionsDays < 0 || s.RetentionAuditDays < 0 || s.RetentionAccessDays < 0 {
		return fmt.Errorf("%w: retention must not be negative", ErrInvalid)
	}
	if s.SMTP.Port < 0 || s.SMTP.Port > 65535 {
		return fmt.Errorf("%w: smtp_port out of range", ErrInvalid)
	}
	return nil
}

// Parse builds settings from stored key/value rows.
func Parse(values map[string]string) Settings {
	s := Defaults()
	parseInt(values, KeyDisconnectTimeout, &s.DisconnectTimeoutSeconds, true)
	parseInt(values, KeyAlarmSilence, &s.AlarmSilenceSeconds, false)
	parseBool(values, KeyAlarmSound, &s.AlarmSound)
	parseInt(values, KeySessionIdle, &s.SessionIdleMinutes, false)
	parseInt(values, KeyRetentionConnections, &s.RetentionConnectionsDays, false)
	parseInt(values, KeyRetentionAudit, &s.RetentionAuditDays, false)
	parseInt(values, KeyRetentionAccess, &s.RetentionAccessDays, false)

	s.SMTP.Host = strings.TrimSpace(values[KeySMTPHost])
	parseInt(values, KeySMTPPort, &s.SMTP.Port, true)
	s.SMTP.User = values[KeySMTPUser]
	s.SMTP.Password = values[KeySMTPPass]
	s.SMTP.From = values[KeySMTPFrom]
	parseBool(values, KeySMTPTLS, &s.SMTP.TLS)
	return s
}

// Values flattens settings into stored key/value rows.
func (s Settings) Values() map[string]string {
	return map[string]string{
		KeyDisconnectTimeout:    strconv.Itoa(s.DisconnectTimeoutSeconds),
		KeyAlarmSilence:         strconv.Itoa(s.AlarmSilenceSeconds),
		KeyAlarmSound:           strconv.FormatBool(s.AlarmSound),
		KeySessionIdle:          strconv.Itoa(s.SessionIdleMinutes),
		KeyRetentionConnections: strconv.Itoa(s.RetentionConnectionsDays),
		KeyRetentionAudit:       strconv.Itoa(s.RetentionAuditDays),
		KeyRetentionAccess:      strconv.Itoa(s.RetentionAccessDays),
		KeySMTPHost:             s.SMTP.Host,
		KeySMTPPort:             strconv.Itoa(s.SMTP.Port),
		KeySMTPUser:             s.SMTP.User,
		KeySMTPPass:             s.SMTP.Password,
		KeySMTPFrom:             s.SMTP.From,
		KeySMTPTLS:              strconv.FormatBool(s.SMTP.TLS),
	}
}

func parseInt(values map[string]string, key string, dst *int, positive bool) {
	raw, ok := values[key]
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || parsed < 0 || (positive && parsed == 0) {
		return
	}
	*dst = parsed
}

func parseBool(values map[string]string, key string, dst *bool) {
	raw, ok := values[key]
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(raw)))
	if err != nil {
		return
	}
	*dst = parsed
}
