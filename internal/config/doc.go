// Package config loads kvload settings from YAML or JSON files.
//
// A file has four sections:
//
//	load:
//	  clients: 8
//	  iterations: 10000
//	  get_ratio: 0.99
//	  keys: [tree, sky, grass, cloud, flower]
//	server:
//	  addr: localhost:8888
//	  framing: raw            # or length-prefixed
//	  retry_interval: 1s
//	  max_attempts: 0         # 0 retries forever
//	  io_timeout: 0s
//	status:
//	  addr: ":8081"
//	log:
//	  level: info
//	  file: kvload.log
//
// Validate reports every problem at once; ToClientConfig fills unset values
// with the client defaults.
package config
