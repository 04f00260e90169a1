// Package config loads peersync configuration.
//
// Configuration is YAML. The raw document is first unified with an embedded
// CUE schema (schema.cue), so unknown keys, malformed durations and
// out-of-range values are rejected before decoding. Absent keys take the
// values of Default.
//
// Example:
//
//	lockTimeout: 120ms
//	workers: 8
//	database: peersync.db
//	retry:
//	  maxTries: 5
//	  initialInterval: 50ms
//	kinds:
//	  - name: facility
//	    protected: [operator]
//	filters:
//	  facility:
//	    exclude: ["P/test-*"]
//	    expr: 'publish == true'
package config
