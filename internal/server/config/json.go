package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ssjbox/ssjbox/internal/flagx"
	"github.com/ssjbox/ssjbox/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "10m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP    string           `json:"endpoint_addr_http"`
	DatabaseDSN         string           `json:"database_dsn"`
	FieldKeyMaterial    string           `json:"field_key_material"`
	UploadRoot          string           `json:"upload_root"`
	MaxUploadBytes      int64            `json:"max_upload_bytes"`
	OwnerQuotaBytes     int64            `json:"owner_quota_bytes"`
	LoginMaxAttempts    int              `json:"login_max_attempts"`
	RegisterMaxAttempts int              `json:"register_max_attempts"`
	LockoutPenalties    []timex.Duration `json:"lockout_penalties"`
	SessionTimeoutMin   int              `json:"session_timeout_min"`
	SessionTimeoutMax   int              `json:"session_timeout_max"`
	CSRFLifetime        timex.Duration   `json:"csrf_lifetime"`
	JanitorInterval     timex.Duration   `json:"janitor_interval"`
	RedisAddr           string           `json:"redis_addr"`
	S3RootUser          string           `json:"s3_root_user"`
	S3RootPassword      string           `json:"s3_root_password"`
	S3Bucket            string           `json:"s3_bucket"`
	S3Region            string           `json:"s3_region"`
	S3BaseEndpoint      string           `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; if neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.FieldKeyMaterial = c.FieldKeyMaterial
	config.UploadRoot = c.UploadRoot
	config.MaxUploadBytes = c.MaxUploadBytes
	config.OwnerQuotaBytes = c.OwnerQuotaBytes
	config.LoginMaxAttempts = c.LoginMaxAttempts
	config.RegisterMaxAttempts = c.RegisterMaxAttempts
	config.LockoutPenalties = make([]time.Duration, 0, len(c.LockoutPenalties))
	for _, p := range c.LockoutPenalties {
		config.LockoutPenalties = append(config.LockoutPenalties, time.Duration(p.Duration))
	}
	config.SessionTimeoutMin = c.SessionTimeoutMin
	config.SessionTimeoutMax = c.SessionTimeoutMax
	config.CSRFLifetime = time.Duration(c.CSRFLifetime.Duration)
	config.JanitorInterval = time.Duration(c.JanitorInterval.Duration)
	config.RedisAddr = c.RedisAddr
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
