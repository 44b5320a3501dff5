// Package validation checks caller arguments and configuration structs,
// reporting failures as INVALID_INPUT application errors.
//
// # Programmatic Validation
//
//	err := validation.New().
//	    Required("file_name", in.FileName).
//	    Range("part_number", n, 1, maxParts).
//	    Positive("part_size", size).
//	    Err()
//
// # Struct Tag Validation
//
//	type Config struct {
//	    Bucket string `mapstructure:"bucket" validate:"required"`
//	}
//	err := validation.Validate(cfg)
package validation
