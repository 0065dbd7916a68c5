// Package config provides configuration management for the ExamShield
// license server. Configuration is an explicit value: it is loaded once in
// main and passed to each component at construction time.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources:
//
//	1. Default values from the struct tags
//	2. Environment variables with the ES_ prefix
//	3. An optional YAML file (ES_CONFIG_FILE, config.yaml or configs/config.yaml)
//
// Keys present in the YAML file overlay the environment. Keys absent from the
// file keep their environment or default value.
//
// # Environment Variables
//
// Nested sections use their section name as part of the variable:
//
//	ES_SERVER_PORT=5000
//	ES_SECURITY_WEBHOOK_SECRET=...
//	ES_SECURITY_ADMIN_SECRET=...
//	ES_STORE_DRIVER=postgres
//	ES_STORE_POSTGRES_DSN=postgres://...
//	ES_LOGGING_OUTPUT=both
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
