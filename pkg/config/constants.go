package config

// EnvPrefix is intentionally empty; every field declares its full env var name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "BILLFLOW_DB_DSN"
	EnvDBHost = "BILLFLOW_DB_HOST"
	EnvDBUser = "BILLFLOW_DB_USER"
	EnvDBName = "BILLFLOW_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
