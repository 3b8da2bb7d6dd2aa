package types

import "time"

// Config is a struct to hold the configuration data
type Config struct {
	Logging struct {
		OutputLevel  string `yaml:"outputLevel" envconfig:"LOGGING_OUTPUT_LEVEL"`
		OutputStderr bool   `yaml:"outputStderr" envconfig:"LOGGING_OUTPUT_STDERR"`

		FilePath       string `yaml:"filePath" envconfig:"LOGGING_FILE_PATH"`
		FileLevel      string `yaml:"fileLevel" envconfig:"LOGGING_FILE_LEVEL"`
		FileMaxSize    int    `yaml:"fileMaxSize" envconfig:"LOGGING_FILE_MAX_SIZE"` // megabytes
		FileMaxBackups int    `yaml:"fileMaxBackups" envconfig:"LOGGING_FILE_MAX_BACKUPS"`
	} `yaml:"logging"`

	Server struct {
		Port string `yaml:"port" envconfig:"SERVER_PORT"`
		Host string `yaml:"host" envconfig:"SERVER_HOST"`

		HttpReadTimeout  time.Duration `yaml:"httpReadTimeout" envconfig:"SERVER_HTTP_READ_TIMEOUT"`
		HttpWriteTimeout time.Duration `yaml:"httpWriteTimeout" envconfig:"SERVER_HTTP_WRITE_TIMEOUT"`
		HttpIdleTimeout  time.Duration `yaml:"httpIdleTimeout" envconfig:"SERVER_HTTP_IDLE_TIMEOUT"`
		MaxBodySize      int64         `yaml:"maxBodySize" envconfig:"SERVER_MAX_BODY_SIZE"`
		CorsOrigins      []string      `yaml:"corsOrigins" envconfig:"SERVER_CORS_ORIGINS"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" envconfig:"METRICS_ENABLED"`
		Public  bool   `yaml:"public" envconfig:"METRICS_PUBLIC"`
		Host    string `yaml:"host" envconfig:"METRICS_HOST"`
		Port    string `yaml:"port" envconfig:"METRICS_PORT"`
	} `yaml:"metrics"`

	RateLimit struct {
		Enabled    bool `yaml:"enabled" envconfig:"RATELIMIT_ENABLED"`
		ProxyCount uint `yaml:"proxyCount" envconfig:"RATELIMIT_PROXY_COUNT"`
		Rate       uint `yaml:"rate" envconfig:"RATELIMIT_RATE"` // requests per minute
		Burst      uint `yaml:"burst" envconfig:"RATELIMIT_BURST"`
	} `yaml:"rateLimit"`

	Ledger struct {
		RpcEndpoint        string `yaml:"rpcEndpoint" envconfig:"LEDGER_RPC_ENDPOINT"`
		TokenContract      string `yaml:"tokenContract" envconfig:"LEDGER_TOKEN_CONTRACT"`
		TokenSymbol        string `yaml:"tokenSymbol" envconfig:"LEDGER_TOKEN_SYMBOL"`
		OperatorAddress    string `yaml:"operatorAddress" envconfig:"LEDGER_OPERATOR_ADDRESS"`
		OperatorPrivateKey string `yaml:"operatorPrivateKey" envconfig:"LEDGER_OPERATOR_PRIVATE_KEY"`

		GasLimit            uint64        `yaml:"gasLimit" envconfig:"LEDGER_GAS_LIMIT"`
		Confirmations       uint64        `yaml:"confirmations" envconfig:"LEDGER_CONFIRMATIONS"`
		ConfirmationTimeout time.Duration `yaml:"confirmationTimeout" envconfig:"LEDGER_CONFIRMATION_TIMEOUT"`
		PollInterval        time.Duration `yaml:"pollInterval" envconfig:"LEDGER_POLL_INTERVAL"`
		CallTimeout         time.Duration `yaml:"callTimeout" envconfig:"LEDGER_CALL_TIMEOUT"`
	} `yaml:"ledger"`

	Relay struct {
		SendAmount    uint64        `yaml:"sendAmount" envconfig:"RELAY_SEND_AMOUNT"` // whole token units
		VerifyWorkers int           `yaml:"verifyWorkers" envconfig:"RELAY_VERIFY_WORKERS"`
		InfoTimeout   time.Duration `yaml:"infoTimeout" envconfig:"RELAY_INFO_TIMEOUT"`
	} `yaml:"relay"`

	Program ProgramConfig `yaml:"program"`

	Artifacts struct {
		Engine         string              `yaml:"engine" envconfig:"ARTIFACTS_ENGINE"`
		ParametersName string              `yaml:"parametersName" envconfig:"ARTIFACTS_PARAMETERS_NAME"`
		ValuesName     string              `yaml:"valuesName" envconfig:"ARTIFACTS_VALUES_NAME"`
		File           FileArtifactsConfig `yaml:"file"`
		S3             S3ArtifactsConfig   `yaml:"s3"`
	} `yaml:"artifacts"`

	Replay struct {
		Engine string             `yaml:"engine" envconfig:"REPLAY_ENGINE"`
		Pebble PebbleReplayConfig `yaml:"pebble"`
		Redis  RedisReplayConfig  `yaml:"redis"`
	} `yaml:"replay"`

	Database DatabaseConfig `yaml:"database"`

	Client struct {
		RelayUrl         string        `yaml:"relayUrl" envconfig:"CLIENT_RELAY_URL"`
		RecipientAddress string        `yaml:"recipientAddress" envconfig:"CLIENT_RECIPIENT_ADDRESS"`
		Timeout          time.Duration `yaml:"timeout" envconfig:"CLIENT_TIMEOUT"`
	} `yaml:"client"`
}

type ProgramConfig struct {
	Path       string   `yaml:"path" envconfig:"PROGRAM_PATH"`
	Invoke     string   `yaml:"invoke" envconfig:"PROGRAM_INVOKE"`
	Args       []uint64 `yaml:"args" envconfig:"PROGRAM_ARGS"`
	TraceStart uint64   `yaml:"traceStart" envconfig:"PROGRAM_TRACE_START"`
	TraceEnd   uint64   `yaml:"traceEnd" envconfig:"PROGRAM_TRACE_END"`
}

type FileArtifactsConfig struct {
	Directory string `yaml:"directory" envconfig:"ARTIFACTS_FILE_DIRECTORY"`
}

type S3ArtifactsConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ARTIFACTS_S3_ENDPOINT"`
	Secure    bool   `yaml:"secure" envconfig:"ARTIFACTS_S3_SECURE"`
	Bucket    string `yaml:"bucket" envconfig:"ARTIFACTS_S3_BUCKET"`
	Region    string `yaml:"region" envconfig:"ARTIFACTS_S3_REGION"`
	AccessKey string `yaml:"accessKey" envconfig:"ARTIFACTS_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" envconfig:"ARTIFACTS_S3_SECRET_KEY"`
	Path      string `yaml:"path" envconfig:"ARTIFACTS_S3_PATH"`
}

type PebbleReplayConfig struct {
	Path      string `yaml:"path" envconfig:"REPLAY_PEBBLE_PATH"`
	CacheSize int    `yaml:"cacheSize" envconfig:"REPLAY_PEBBLE_CACHE_SIZE"` // megabytes
}

type RedisReplayConfig struct {
	Addr   string        `yaml:"addr" envconfig:"REPLAY_REDIS_ADDR"`
	Prefix string        `yaml:"prefix" envconfig:"REPLAY_REDIS_PREFIX"`
	TTL    time.Duration `yaml:"ttl" envconfig:"REPLAY_REDIS_TTL"`
}

type DatabaseConfig struct {
	Engine string                `yaml:"engine" envconfig:"DATABASE_ENGINE"`
	Sqlite *SqliteDatabaseConfig `yaml:"sqlite"`
	Pgsql  *PgsqlDatabaseConfig  `yaml:"pgsql"`
}

type SqliteDatabaseConfig struct {
	File         string `yaml:"file" envconfig:"DATABASE_SQLITE_FILE"`
	MaxOpenConns int    `yaml:"maxOpenConns" envconfig:"DATABASE_SQLITE_MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"maxIdleConns" envconfig:"DATABASE_SQLITE_MAX_IDLE_CONNS"`
}

type PgsqlDatabaseConfig struct {
	Username     string `yaml:"user" envconfig:"DATABASE_PGSQL_USERNAME"`
	Password     string `yaml:"password" envconfig:"DATABASE_PGSQL_PASSWORD"`
	Name         string `yaml:"name" envconfig:"DATABASE_PGSQL_NAME"`
	Host         string `yaml:"host" envconfig:"DATABASE_PGSQL_HOST"`
	Port         string `yaml:"port" envconfig:"DATABASE_PGSQL_PORT"`
	MaxOpenConns int    `yaml:"maxOpenConns" envconfig:"DATABASE_PGSQL_MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"maxIdleConns" envconfig:"DATABASE_PGSQL_MAX_IDLE_CONNS"`
}
