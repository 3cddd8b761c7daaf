package regions

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const redacted = "xxxxx"

var pgPasswordRe = regexp.MustCompile(`(password\s*=\s*)('[^']*'|\S+)`)

// RedactDSN masks the password in a database DSN. DSNs that cannot be
// parsed are masked entirely.
func RedactDSN(dbType, dsn string) string {
	if dsn == "" {
		return ""
	}
	switch dbType {
	case DBTypeMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return redacted
		}
		if cfg.Passwd != "" {
			cfg.Passwd = redacted
		}
		return cfg.FormatDSN()
	case DBTypePostgres:
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			u, err := url.Parse(dsn)
			if err != nil {
				return redacted
			}
			return u.Redacted()
		}
		return pgPasswordRe.ReplaceAllString(dsn, "${1}"+redacted)
	default:
		return dsn
	}
}
