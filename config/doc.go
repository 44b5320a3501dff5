// Package config loads filestore configuration from a YAML file, an optional
// .env file and the process environment using viper.
//
// Environment variables map onto nested keys by splitting on underscores, so
// FILESTORE_STORAGE_PROVIDER=minio sets storage.provider when the loader is
// given the FILESTORE prefix:
//
//	var cfg AppConfig
//	err := config.LoadConfig("filestore", &cfg, config.WithEnvPrefix("FILESTORE"))
package config
