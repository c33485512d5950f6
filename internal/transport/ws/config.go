package ws

import "time"

// Config holds websocket connection settings
type Config struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxMessageBytes int64
	SendBuffer      int

	// Flood guard: frames per second and burst allowed on one socket before
	// it is closed. This sits below the session rate limit and only catches
	// clients hammering the socket itself.
	FloodRate  float64
	FloodBurst int

	// AllowedOrigins restricts the upgrade's Origin header; empty allows any
	AllowedOrigins []string
}

// DefaultConfig returns default websocket configuration
func DefaultConfig() Config {
	return Config{
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		MaxMessageBytes: 4096,
		SendBuffer:      64,
		FloodRate:       20,
		FloodBurst:      40,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.FloodRate <= 0 {
		c.FloodRate = d.FloodRate
	}
	if c.FloodBurst <= 0 {
		c.FloodBurst = d.FloodBurst
	}
	return c
}
