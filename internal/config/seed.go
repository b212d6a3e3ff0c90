package config

// SeedConfig names the bootstrap administrator and whether to load the
// sample catalog.  cmd/seed always applies it; the server applies it on
// start only with the memory store, which starts empty.
type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminUsername string
	Sample        bool
}

// LoadSeedConfig reads ADMIN_EMAIL, ADMIN_PASSWORD, ADMIN_USERNAME and
// SEED_SAMPLE_CATALOG.
func LoadSeedConfig() SeedConfig {
	return SeedConfig{
		AdminEmail:    envStr("ADMIN_EMAIL", ""),
		AdminPassword: envStr("ADMIN_PASSWORD", ""),
		AdminUsername: envStr("ADMIN_USERNAME", "admin"),
		Sample:        envBool("SEED_SAMPLE_CATALOG", false),
	}
}
