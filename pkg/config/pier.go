package config

import "time"

// Config holds runtime configuration for the pier daemon.
type Config struct {
	Environment      string
	LogLevel         string
	Addr             string
	DatabaseURL      string
	MigrationsDir    string
	DeployToken      string
	EnvEncryptionKey string

	BaseDomain string

	DockerHost   string
	Workdir      string
	GitTimeout   time.Duration
	BuildTimeout time.Duration
	ReadyTimeout time.Duration
	Registry     string

	PortBase       int
	MemoryLimitMB  int
	CPULimitNano   int64
	InstallCommand string

	StorageBucket   string
	StorageRegion   string
	StorageEndpoint string
	UploadWorkers   int

	NginxSitesDir       string
	NginxStagingDir     string
	NginxValidateCmd    string
	NginxReloadCmd      string
	NginxContainerName  string
	TLSCertPath         string
	TLSKeyPath          string
	ProxyUpstreamHost   string
	ProxyOperationLimit time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogChannelPrefix    string
	StatusChannelPrefix string
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:      GetString("APP_ENV", "development"),
		LogLevel:         GetString("PIER_LOG_LEVEL", "info"),
		Addr:             GetString("PIER_ADDR", ":4000"),
		DatabaseURL:      GetString("DATABASE_URL", "postgres://pier:pier@db:5432/pier?sslmode=disable"),
		MigrationsDir:    GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		DeployToken:      GetString("PIER_DEPLOY_TOKEN", ""),
		EnvEncryptionKey: GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),

		BaseDomain: GetString("PIER_BASE_DOMAIN", "pier.local"),

		DockerHost:   GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		Workdir:      GetString("PIER_WORKDIR", "/tmp/pier"),
		GitTimeout:   time.Duration(GetInt("GIT_TIMEOUT_SECONDS", 60)) * time.Second,
		BuildTimeout: time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 600)) * time.Second,
		ReadyTimeout: time.Duration(GetInt("READY_TIMEOUT_SECONDS", 60)) * time.Second,
		Registry:     GetString("DOCKER_REGISTRY", "pier"),

		PortBase:       GetInt("PORT_BASE", 3001),
		MemoryLimitMB:  GetInt("CONTAINER_MEMORY_LIMIT_MB", 512),
		CPULimitNano:   int64(GetInt("CONTAINER_CPU_LIMIT_NANO", 1_000_000_000)),
		InstallCommand: GetString("STATIC_INSTALL_COMMAND", "npm install"),

		StorageBucket:   GetString("STORAGE_BUCKET", "pier-sites"),
		StorageRegion:   GetString("STORAGE_REGION", "us-east-1"),
		StorageEndpoint: GetString("STORAGE_ENDPOINT", ""),
		UploadWorkers:   GetInt("STORAGE_UPLOAD_WORKERS", 8),

		NginxSitesDir:       GetString("NGINX_SITES_DIR", "/etc/nginx/conf.d"),
		NginxStagingDir:     GetString("NGINX_STAGING_DIR", "/etc/nginx/staging"),
		NginxValidateCmd:    GetString("NGINX_VALIDATE_CMD", "nginx -t"),
		NginxReloadCmd:      GetString("NGINX_RELOAD_CMD", "nginx -s reload"),
		NginxContainerName:  GetString("NGINX_CONTAINER_NAME", ""),
		TLSCertPath:         GetString("TLS_CERT_PATH", "/etc/ssl/pier/fullchain.pem"),
		TLSKeyPath:          GetString("TLS_KEY_PATH", "/etc/ssl/pier/privkey.pem"),
		ProxyUpstreamHost:   GetString("PROXY_UPSTREAM_HOST", "127.0.0.1"),
		ProxyOperationLimit: time.Duration(GetInt("PROXY_OP_TIMEOUT_SECONDS", 15)) * time.Second,

		RedisAddr:     GetString("REDIS_ADDR", ""),
		RedisPassword: GetString("REDIS_PASSWORD", ""),
		RedisDB:       GetInt("REDIS_DB", 0),

		LogChannelPrefix:    GetString("LOG_CHANNEL_PREFIX", "pier:logs:"),
		StatusChannelPrefix: GetString("STATUS_CHANNEL_PREFIX", "pier:status:"),
	}
}
