package config

import (
	"flag"
	"os"
	"time"

	"github.com/ssjbox/ssjbox/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-k string   PII field encryption key material
//	-f string   upload root directory
//	-m int      max upload size, MiB
//	-q int      per-owner quota, MiB (0 disables)
//	-n int      session timeout lower bound, seconds
//	-x int      session timeout upper bound, seconds
//	-s int      CSRF token lifetime, minutes
//	-j int      janitor interval, minutes
//	-r string   redis address for the session cache (empty disables)
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name (empty disables mirroring)
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes
//     using flagx.FilterArgs, avoiding collisions with other components.
//   - Size flags are accepted as integers in MiB; interval flags as integer
//     minutes or seconds as noted above.
//   - The lockout penalty table has no flag form; it is set via the JSON
//     config only.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-k", "-f", "-m", "-q", "-n", "-x", "-s", "-j", "-r", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.FieldKeyMaterial, "k", config.FieldKeyMaterial, "field encryption key material")
	fs.StringVar(&config.UploadRoot, "f", config.UploadRoot, "upload root directory")

	maxUploadMiB := fs.Int("m", int(config.MaxUploadBytes>>20), "max upload size (in MiB)")
	quotaMiB := fs.Int("q", int(config.OwnerQuotaBytes>>20), "per-owner quota (in MiB, 0 disables)")

	fs.IntVar(&config.SessionTimeoutMin, "n", config.SessionTimeoutMin, "session timeout lower bound (in seconds)")
	fs.IntVar(&config.SessionTimeoutMax, "x", config.SessionTimeoutMax, "session timeout upper bound (in seconds)")
	csrfMinutes := fs.Int("s", int(config.CSRFLifetime.Minutes()), "CSRF token lifetime (in minutes)")
	janitorMinutes := fs.Int("j", int(config.JanitorInterval.Minutes()), "janitor interval (in minutes)")

	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address for session cache")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.MaxUploadBytes = int64(*maxUploadMiB) << 20
	config.OwnerQuotaBytes = int64(*quotaMiB) << 20
	config.CSRFLifetime = time.Duration(*csrfMinutes) * time.Minute
	config.JanitorInterval = time.Duration(*janitorMinutes) * time.Minute
}
