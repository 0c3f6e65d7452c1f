// Package config loads the bridge configuration file.
//
// The file is YAML. Every field is optional:
//
//	module_paths: [./lib]
//	auto_convert: true
//	log_level: info
//	max_steps: 1000000
//	print: stdout
//	wasm:
//	  enabled: true
//	  memory_limit_pages: 256
//	metrics:
//	  enabled: true
//	  addr: 127.0.0.1:9464
//
// Schema returns the JSON schema of this format.
package config
