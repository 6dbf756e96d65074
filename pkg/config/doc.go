// Package config loads the ID Site service configuration.
//
// Defaults are overlaid by the YAML file named in IDSITE_CONFIG_FILE, then by
// environment variables:
//
//	IDSITE_PORT="8080"
//	IDSITE_HEALTH_PORT="9090"
//	IDSITE_BASE_URL="https://app.example.com"
//
//	IDSITE_APPLICATION_HREF="https://api.example.com/v1/applications/abc"
//	IDSITE_API_KEY_FILE="/etc/idsite/apiKey.properties"  # or IDSITE_API_KEY_ID + IDSITE_API_KEY_SECRET
//	IDSITE_CALLBACK_PATH="/idsite/callback"
//	IDSITE_CLOCK_SKEW="0s"
//
//	IDSITE_NONCE_STORE="redis"  # memory, redis, postgres, sqlite
//	IDSITE_REDIS_URL="redis://localhost:6379/0"
//	IDSITE_NONCE_TTL="10m"
//
//	IDSITE_LOG_LEVEL="info"
//	IDSITE_OTEL_ENABLED="true"
//
// The equivalent YAML file:
//
//	server:
//	  port: "8080"
//	  base_url: https://app.example.com
//	idsite:
//	  application_href: https://api.example.com/v1/applications/abc
//	  key_file: /etc/idsite/apiKey.properties
//	nonce:
//	  type: redis
//	  redis_url: redis://localhost:6379/0
//	  ttl: 10m
//
// Validate rejects a nonce TTL that does not outlive token max age plus clock
// skew, since a nonce forgotten before its token expires can be replayed.
package config
