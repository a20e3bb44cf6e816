/*
Package config provides configuration management for TrackForge with
multi-source support.

Sources are applied in precedence order:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (TRACKFORGE_*)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

Typical loading sequence:

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/trackforge/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Validate rejects bad values eagerly with coded errors rather than letting a
misconfigured component fail at first use.
*/
package config
