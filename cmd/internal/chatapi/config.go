package chatapi

// Config controls the request/response surface.
type Config struct {
	// RequireAuth makes every route except signup and login demand a bearer
	// token. Without it, callers name themselves with user_id.
	RequireAuth  bool
	MaxBodyBytes int64
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	return c
}
