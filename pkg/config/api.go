package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	PublicBaseURL      string
	LoginURL           string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	ShareTokenTTL      time.Duration
	NginxConfigDir     string
	NginxBinary        string
	NginxReloadCommand string
	NginxContainerName string
	EdgeDomainSuffix   string
	StorageEndpoint    string
	StorageAccessKey   string
	StorageSecretKey   string
	StorageBucket      string
	StorageUseSSL      bool
	StoragePresignTTL  time.Duration
	AssetCacheTTL      time.Duration
	FileCacheTTL       time.Duration
	PendingUploadTTL   time.Duration
	UploadSweepEvery   time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	CacheRedisAddr     string
	CacheRedisPass     string
	CacheRedisDB       int
	EventBuffer        int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		PublicBaseURL:      GetString("PUBLIC_BASE_URL", "http://localhost:4000"),
		LoginURL:           GetString("LOGIN_URL", "/login"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://bffless:bffless@db:5432/bffless?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		ShareTokenTTL:      GetHours("SHARE_TOKEN_TTL_HOURS", 72),
		NginxConfigDir:     GetString("NGINX_CONFIG_DIR", "/etc/nginx/conf.d"),
		NginxBinary:        GetString("NGINX_BINARY", "nginx"),
		NginxReloadCommand: GetString("NGINX_RELOAD_COMMAND", "nginx -s reload"),
		NginxContainerName: GetString("NGINX_CONTAINER_NAME", ""),
		EdgeDomainSuffix:   GetString("EDGE_DOMAIN_SUFFIX", ".pages.local"),
		StorageEndpoint:    GetString("STORAGE_ENDPOINT", "minio:9000"),
		StorageAccessKey:   GetString("STORAGE_ACCESS_KEY", "bffless"),
		StorageSecretKey:   GetString("STORAGE_SECRET_KEY", "bffless-secret"),
		StorageBucket:      GetString("STORAGE_BUCKET", "deployments"),
		StorageUseSSL:      GetBool("STORAGE_USE_SSL", false),
		StoragePresignTTL:  GetSeconds("STORAGE_PRESIGN_TTL_SECONDS", 900),
		AssetCacheTTL:      GetSeconds("ASSET_CACHE_TTL_SECONDS", 3600),
		FileCacheTTL:       GetSeconds("FILE_CACHE_TTL_SECONDS", 300),
		PendingUploadTTL:   GetSeconds("PENDING_UPLOAD_TTL_SECONDS", 1800),
		UploadSweepEvery:   GetSeconds("UPLOAD_SWEEP_SECONDS", 300),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		CacheRedisAddr:     GetString("CACHE_REDIS_ADDR", ""),
		CacheRedisPass:     GetString("CACHE_REDIS_PASSWORD", ""),
		CacheRedisDB:       GetInt("CACHE_REDIS_DB", 1),
		EventBuffer:        GetInt("WS_EVENT_BUFFER", 100),
	}
}
