// Package config loads the configuration of the worker executor.
//
// Configuration is read from a YAML file, overridden by environment
// variables prefixed with EXECUTOR_ and validated before use:
//
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: /var/lib/executor/oplog.db
//	blob_storage:
//	  backend: filesystem
//	  root: /var/lib/executor/blobs
//	oplog:
//	  max_operations_before_commit: 128
//	  max_payload_size: 65536
//	component_cache:
//	  capacity: 32
//	  time_to_idle: 12h
//	telemetry:
//	  logging:
//	    level: info
//
// EXECUTOR_STORAGE_BACKEND=redis selects Redis regardless of the file,
// EXECUTOR_LOG_LEVEL=debug lowers the log level.
//
// A Watcher reloads the file when it changes. The executor applies the
// reloaded log level; other settings take effect on restart.
package config
