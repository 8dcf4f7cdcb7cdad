// Package config provides configuration parsing and validation for obarepl.
//
// # Loading Configuration
//
// Load configuration from a YAML file. Missing keys keep their defaults and
// unknown keys are rejected:
//
//	cfg, err := config.LoadConfig("/etc/obarepl/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    log.Fatal(errs[0])
//	}
//
// # Environment Variables
//
// ${VAR} and ${VAR:-default} are substituted before parsing:
//
//	replication:
//	  baseDN: "${OBAREPL_BASE_DN:-dc=example,dc=com}"
//
// # Example Configuration
//
//	replication:
//	  serverId: 100
//	  listen: ":8989"
//	  baseDN: "dc=example,dc=com"
//	  groupId: 1
//	  windowSize: 100
//	  heartbeatInterval: 10s
//	  assuredTimeout: 2s
//	  sslEncryption: false
//	  servers:
//	    - "rs1.example.com:8989"
//	    - "rs2.example.com:8989"
//
//	tls:
//	  enabled: true
//	  certFile: "/etc/obarepl/certs/server.crt"
//	  keyFile: "/etc/obarepl/certs/server.key"
//	  caFile: "/etc/obarepl/certs/ca.crt"
//	  minVersion: "1.2"
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "stdout"
//
// # Hot Reload
//
// Watcher polls the file and hands each valid new version to a
// callback. obarepl serve applies the logging level this way.
package config
