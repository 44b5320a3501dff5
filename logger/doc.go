// Package logger provides structured logging for filestore using zerolog.
//
// Loggers are component-scoped and take structured fields as maps:
//
//	log := logger.NewDefault("filestore").WithComponent("storage.s3")
//	log.Info("object stored", logger.Fields(logger.FieldObjectID, id, logger.FieldBackend, "s3"))
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
package logger
