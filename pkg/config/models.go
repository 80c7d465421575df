package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Room      RoomConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	GrantTTL  time.Duration `mapstructure:"grantTTL"`
}

type ConnectionLimitConfig struct {
	// Max caps concurrent websocket connections for the whole process.
	// Zero means unlimited.
	Max int `mapstructure:"max"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type RoomConfig struct {
	// MaxParticipants caps attachments per room. Zero means unlimited,
	// in which case attach never fails for capacity reasons.
	MaxParticipants int `mapstructure:"maxParticipants"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
