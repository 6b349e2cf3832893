// Package config loads and validates RelayHub configuration.
//
// Values are resolved in order: built-in defaults, the YAML file, an optional
// .env file, then RELAYHUB_* environment variables. Secrets such as the JWT
// signing key and broker credentials belong in the environment, not the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/relayhub.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
